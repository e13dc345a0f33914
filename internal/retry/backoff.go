// Package retry provides bounded exponential backoff with jitter for
// transient failures against the ledger, the timer queue, and the poll
// controller.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Backoff returns the wait before the given attempt (1-based), doubling from
// base up to max, with half the window randomized to spread concurrent
// retriers.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	// A sub-2ns wait leaves no window to randomize; Int63n rejects 0.
	var jitter time.Duration
	if half := int64(wait / 2); half > 0 {
		jitter = time.Duration(rand.Int63n(half))
	}
	return wait/2 + jitter
}

// Policy bounds in-process retries at a call site. Long-duration retries
// (hours) belong to durable timers, not to this helper.
type Policy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// Permanent wraps an error that Do must return immediately instead of
// retrying, e.g. a conditional-write conflict that will conflict forever.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Do runs fn up to Attempts times, sleeping Backoff between failures.
// It returns the last error, or ctx.Err() if the context ends first.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Backoff(p.Base, p.Max, i)):
		}
	}
	return err
}
