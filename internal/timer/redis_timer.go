// Package timer is the durable wake-up mechanism for lifecycle instances.
// Resume times live in a Redis sorted set scored by unix milliseconds, so a
// wait of hours or months costs no goroutine and survives process restarts.
package timer

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKey = "lifecycle:timers"

// Queue schedules and delivers durable timers keyed by instance id.
type Queue struct {
	client *redis.Client
	key    string
}

// NewQueue builds a timer queue on an existing Redis client.
func NewQueue(client *redis.Client) *Queue {
	return &Queue{client: client, key: defaultKey}
}

// Schedule registers (or moves) the wake-up time for an instance. A time in
// the past is valid: the instance becomes due on the next Due call.
func (q *Queue) Schedule(ctx context.Context, instanceID string, at time.Time) error {
	err := q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: instanceID,
	}).Err()
	if err != nil {
		return fmt.Errorf("schedule timer: %w", err)
	}
	return nil
}

// Due atomically claims up to limit due instances, pushing each claimed
// timer forward by the lease. An instance the engine fails to act on is
// redelivered after the lease expires; completed stages remove or reschedule
// their timer before then.
func (q *Queue) Due(ctx context.Context, now time.Time, limit int64, lease time.Duration) ([]string, error) {
	res, err := dueScript.Run(ctx, q.client, []string{q.key},
		now.UnixMilli(), now.Add(lease).UnixMilli(), limit).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim due timers: %w", err)
	}
	raw, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected type from due script: %T", res)
	}
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

// Complete removes an instance's timer entirely.
func (q *Queue) Complete(ctx context.Context, instanceID string) error {
	if err := q.client.ZRem(ctx, q.key, instanceID).Err(); err != nil {
		return fmt.Errorf("complete timer: %w", err)
	}
	return nil
}

// Pending returns how many timers are registered, for observability.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("count timers: %w", err)
	}
	return n, nil
}

var dueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
for _, id in ipairs(due) do
  redis.call('ZADD', KEYS[1], ARGV[2], id)
end
return due
`)
