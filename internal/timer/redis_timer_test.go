package timer

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return NewQueue(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr
}

func TestDueReturnsOnlyElapsedTimers(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	now := time.Now()

	if err := q.Schedule(ctx, "past", now.Add(-time.Hour)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := q.Schedule(ctx, "future", now.Add(time.Hour)); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	ids, err := q.Due(ctx, now, 10, time.Minute)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(ids) != 1 || ids[0] != "past" {
		t.Fatalf("expected only past timer, got %v", ids)
	}
}

func TestDueLeasePreventsImmediateRedelivery(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	now := time.Now()

	if err := q.Schedule(ctx, "a", now.Add(-time.Minute)); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	first, err := q.Due(ctx, now, 10, time.Minute)
	if err != nil || len(first) != 1 {
		t.Fatalf("first due: %v %v", first, err)
	}

	// Within the lease the claimed timer is invisible.
	second, err := q.Due(ctx, now.Add(time.Second), 10, time.Minute)
	if err != nil {
		t.Fatalf("second due: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected no redelivery inside lease, got %v", second)
	}

	// After the lease expires the timer comes back.
	third, err := q.Due(ctx, now.Add(2*time.Minute), 10, time.Minute)
	if err != nil || len(third) != 1 || third[0] != "a" {
		t.Fatalf("expected redelivery after lease, got %v %v", third, err)
	}
}

func TestCompleteRemovesTimer(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	now := time.Now()

	if err := q.Schedule(ctx, "a", now.Add(-time.Minute)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := q.Complete(ctx, "a"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	ids, err := q.Due(ctx, now, 10, time.Minute)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty queue, got %v", ids)
	}
	n, err := q.Pending(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected 0 pending, got %d %v", n, err)
	}
}

func TestRescheduleMovesWakeup(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	now := time.Now()

	if err := q.Schedule(ctx, "a", now.Add(-time.Minute)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	// Same member, later score: ZADD overwrites.
	if err := q.Schedule(ctx, "a", now.Add(time.Hour)); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	ids, err := q.Due(ctx, now, 10, time.Minute)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected rescheduled timer not due, got %v", ids)
	}
}
