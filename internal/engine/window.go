package engine

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTimestamp reports a session start/end that could not be parsed.
// The orchestrator records the session as an error and moves on; a silently
// wrong window would enable polling at the wrong time.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// DefaultMargin is how far the activation window extends beyond the session
// on each side when no margin is configured.
const DefaultMargin = time.Hour

// Window is the interval during which live polling is enabled for a session.
type Window struct {
	ActivateAt   time.Time
	DeactivateAt time.Time
}

// ComputeWindow derives the activation window from a session's raw start and
// end timestamps: activate pre before the start, deactivate post after the
// end. Pure and deterministic, so workflow retries recompute the same window.
func ComputeWindow(start, end string, pre, post time.Duration) (Window, error) {
	startAt, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return Window{}, fmt.Errorf("%w: start %q", ErrInvalidTimestamp, start)
	}
	endAt, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return Window{}, fmt.Errorf("%w: end %q", ErrInvalidTimestamp, end)
	}
	if pre == 0 {
		pre = DefaultMargin
	}
	if post == 0 {
		post = DefaultMargin
	}
	return Window{
		ActivateAt:   startAt.Add(-pre).UTC(),
		DeactivateAt: endAt.Add(post).UTC(),
	}, nil
}
