// Package pollctl toggles the recurring live-data polling trigger.
//
// The trigger is shared: two sessions with overlapping activation windows
// both enable it, and neither may switch it off while the other's window is
// still open. State is therefore a set of holders per rule rather than a
// boolean. Enable adds the holder, disable removes it, and the trigger is
// physically on exactly while the set is non-empty. Repeating an action for
// the same holder is a set no-op, which gives the idempotency the lifecycle
// engine's retries rely on.
package pollctl

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// Actions accepted by Set.
const (
	ActionEnable  = "enable"
	ActionDisable = "disable"
)

var (
	// ErrInvalidAction reports an action outside {enable, disable}. Always a
	// programmer or config error, never expected in normal operation.
	ErrInvalidAction = errors.New("invalid action: use \"enable\" or \"disable\"")

	// ErrRuleNotFound reports a rule id this controller was not configured
	// with.
	ErrRuleNotFound = errors.New("polling rule not found")
)

// State is the observable trigger state after a toggle.
type State struct {
	RuleID  string `json:"rule_id"`
	Enabled bool   `json:"enabled"`
	Holders int64  `json:"holders"`
}

// Controller mutates trigger state in Redis.
type Controller struct {
	client *redis.Client
	rules  map[string]struct{}
}

// NewController builds a controller that recognizes the given rule ids.
func NewController(client *redis.Client, ruleIDs ...string) *Controller {
	rules := make(map[string]struct{}, len(ruleIDs))
	for _, id := range ruleIDs {
		rules[id] = struct{}{}
	}
	return &Controller{client: client, rules: rules}
}

func holdersKey(ruleID string) string {
	return "poll:holders:" + ruleID
}

// Set applies action for holder against the rule, returning the resulting
// state. The toggle is atomic: holder membership and the on/off decision
// happen in one script, so concurrent enables and disables from overlapping
// windows cannot interleave into a wrong state.
func (c *Controller) Set(ctx context.Context, ruleID, action, holder string) (State, error) {
	if action != ActionEnable && action != ActionDisable {
		return State{}, fmt.Errorf("%w: got %q", ErrInvalidAction, action)
	}
	if _, ok := c.rules[ruleID]; !ok {
		return State{}, fmt.Errorf("%w: %q", ErrRuleNotFound, ruleID)
	}
	if holder == "" {
		holder = "manual"
	}

	res, err := toggleScript.Run(ctx, c.client, []string{holdersKey(ruleID)}, action, holder).Result()
	if err != nil {
		return State{}, fmt.Errorf("toggle rule %s: %w", ruleID, err)
	}
	holders, ok := res.(int64)
	if !ok {
		return State{}, fmt.Errorf("unexpected type from toggle script: %T", res)
	}

	state := State{RuleID: ruleID, Enabled: holders > 0, Holders: holders}
	log.Printf("pollctl: rule=%s action=%s holder=%s enabled=%t holders=%d",
		ruleID, action, holder, state.Enabled, state.Holders)
	return state, nil
}

// Enabled reports whether the trigger is currently on, i.e. whether any
// activation window holds it.
func (c *Controller) Enabled(ctx context.Context, ruleID string) (bool, error) {
	if _, ok := c.rules[ruleID]; !ok {
		return false, fmt.Errorf("%w: %q", ErrRuleNotFound, ruleID)
	}
	n, err := c.client.SCard(ctx, holdersKey(ruleID)).Result()
	if err != nil {
		return false, fmt.Errorf("read rule %s: %w", ruleID, err)
	}
	return n > 0, nil
}

// Status returns the current state of a rule without mutating it.
func (c *Controller) Status(ctx context.Context, ruleID string) (State, error) {
	if _, ok := c.rules[ruleID]; !ok {
		return State{}, fmt.Errorf("%w: %q", ErrRuleNotFound, ruleID)
	}
	n, err := c.client.SCard(ctx, holdersKey(ruleID)).Result()
	if err != nil {
		return State{}, fmt.Errorf("read rule %s: %w", ruleID, err)
	}
	return State{RuleID: ruleID, Enabled: n > 0, Holders: n}, nil
}

var toggleScript = redis.NewScript(`
if ARGV[1] == 'enable' then
  redis.call('SADD', KEYS[1], ARGV[2])
else
  redis.call('SREM', KEYS[1], ARGV[2])
end
return redis.call('SCARD', KEYS[1])
`)
