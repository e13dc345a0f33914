// Package engine drives the four-stage lifecycle workflow for each session:
// wait until the window opens, enable polling, wait until it closes, disable
// polling. Stage state lives in Postgres and wake-ups in the Redis timer
// queue, so the long waits between stages survive process restarts.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"race-lifecycle-orchestrator/internal/config"
	"race-lifecycle-orchestrator/internal/ledger"
	"race-lifecycle-orchestrator/internal/models"
	"race-lifecycle-orchestrator/internal/pollctl"
	"race-lifecycle-orchestrator/internal/retry"
	"race-lifecycle-orchestrator/internal/telemetry"
)

// InstanceStore persists lifecycle instance rows.
type InstanceStore interface {
	CreateInstance(ctx context.Context, inst models.WorkflowInstance) error
	GetInstance(ctx context.Context, id string) (models.WorkflowInstance, error)
	AdvanceStage(ctx context.Context, id, from, to string) (bool, error)
	RecordInstanceAttempt(ctx context.Context, id string, attempts int, lastErr string) error
	MarkInstanceFailed(ctx context.Context, id, cause string) error
}

// TimerQueue registers durable wake-ups for instances.
type TimerQueue interface {
	Schedule(ctx context.Context, instanceID string, at time.Time) error
	Due(ctx context.Context, now time.Time, limit int64, lease time.Duration) ([]string, error)
	Complete(ctx context.Context, instanceID string) error
	Pending(ctx context.Context) (int64, error)
}

// PollController toggles the shared polling trigger.
type PollController interface {
	Set(ctx context.Context, ruleID, action, holder string) (pollctl.State, error)
}

// Engine advances lifecycle instances when their timers fire.
type Engine struct {
	cfg    config.Config
	store  InstanceStore
	timers TimerQueue
	poll   PollController
	clock  func() time.Time
}

// New constructs the engine.
func New(cfg config.Config, store InstanceStore, timers TimerQueue, poll PollController) *Engine {
	return &Engine{
		cfg:    cfg,
		store:  store,
		timers: timers,
		poll:   poll,
		clock:  time.Now,
	}
}

// Start launches the lifecycle for one session: persist the instance in the
// activation-wait stage and register its first timer. An ActivateAt already
// in the past is fine; the timer is simply due on the next tick, so
// late-discovered sessions activate immediately instead of being skipped.
func (e *Engine) Start(ctx context.Context, sessionKey int64, w Window) (string, error) {
	now := e.clock().UTC()
	inst := models.WorkflowInstance{
		ID:           uuid.New().String(),
		SessionKey:   sessionKey,
		Stage:        models.StageWaitingActivation,
		ActivateAt:   w.ActivateAt,
		DeactivateAt: w.DeactivateAt,
		ExpiresAt:    now.Add(e.maxLifetime()),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.CreateInstance(ctx, inst); err != nil {
		return "", fmt.Errorf("create instance: %w", err)
	}
	if err := e.timers.Schedule(ctx, inst.ID, w.ActivateAt); err != nil {
		// A row without a timer would never wake up. Halt it so the session
		// is retried on the next orchestrator run.
		_ = e.store.MarkInstanceFailed(ctx, inst.ID, "timer registration failed: "+err.Error())
		return "", fmt.Errorf("schedule activation timer: %w", err)
	}
	log.Printf("engine: started instance=%s session=%d activate=%s deactivate=%s",
		inst.ID, sessionKey, w.ActivateAt.Format(time.RFC3339), w.DeactivateAt.Format(time.RFC3339))
	return inst.ID, nil
}

// Run starts the engine loop until context cancellation.
func (e *Engine) Run(ctx context.Context) error {
	tick := e.cfg.EngineTick
	if tick == 0 {
		tick = 15 * time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	log.Printf("engine: running tick=%s lease=%s batch=%d", tick, e.lease(), e.batchSize())

	for {
		select {
		case <-ctx.Done():
			log.Println("engine: stopped")
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick claims due instances and advances each one.
func (e *Engine) tick(ctx context.Context) {
	now := e.clock().UTC()
	ids, err := e.timers.Due(ctx, now, e.batchSize(), e.lease())
	if err != nil {
		log.Printf("engine: claim due timers: %v", err)
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		e.step(ctx, id, now)
	}
	if pending, err := e.timers.Pending(ctx); err == nil {
		telemetry.TimersPending.Set(float64(pending))
	}
}

// step advances a single instance by one stage. Redelivered wake-ups are
// harmless: the stage CAS in the store refuses a transition that already
// happened, and repeating a poll toggle for the same holder has no effect.
func (e *Engine) step(ctx context.Context, id string, now time.Time) {
	inst, err := e.store.GetInstance(ctx, id)
	if errors.Is(err, ledger.ErrInstanceNotFound) {
		_ = e.timers.Complete(ctx, id)
		return
	}
	if err != nil {
		log.Printf("engine: load instance=%s: %v", id, err)
		return
	}

	switch inst.Stage {
	case models.StageDone, models.StageFailed:
		_ = e.timers.Complete(ctx, id)

	case models.StageWaitingActivation:
		if e.expired(ctx, inst, now) {
			return
		}
		if e.early(ctx, inst, now, inst.ActivateAt) {
			return
		}
		e.transition(ctx, inst, pollctl.ActionEnable, models.StageWaitingDeactivation)

	case models.StageWaitingDeactivation:
		if e.expired(ctx, inst, now) {
			return
		}
		if e.early(ctx, inst, now, inst.DeactivateAt) {
			return
		}
		e.transition(ctx, inst, pollctl.ActionDisable, models.StageDone)

	default:
		log.Printf("engine: instance=%s has unknown stage %q", id, inst.Stage)
		_ = e.timers.Complete(ctx, id)
	}
}

// transition performs the poll toggle for the current stage, then advances.
func (e *Engine) transition(ctx context.Context, inst models.WorkflowInstance, action, next string) {
	state, err := e.poll.Set(ctx, e.cfg.PollTriggerRule, action, inst.ID)
	if err != nil {
		e.handleToggleFailure(ctx, inst, action, err)
		return
	}
	telemetry.PollToggles.WithLabelValues(action).Inc()
	telemetry.ActiveHolders.Set(float64(state.Holders))

	advanced, err := e.store.AdvanceStage(ctx, inst.ID, inst.Stage, next)
	if err != nil {
		// Toggle landed but the stage did not. Leave the timer in place; the
		// redelivery repeats the idempotent toggle and retries the CAS.
		log.Printf("engine: advance instance=%s to %s: %v", inst.ID, next, err)
		return
	}
	if !advanced {
		// Lost a redelivery race; whoever won owns the timer now.
		return
	}
	telemetry.StageTransitions.WithLabelValues(next).Inc()
	log.Printf("engine: instance=%s session=%d %s -> %s (trigger enabled=%t holders=%d)",
		inst.ID, inst.SessionKey, inst.Stage, next, state.Enabled, state.Holders)

	if next == models.StageDone {
		_ = e.timers.Complete(ctx, inst.ID)
		return
	}
	// A DeactivateAt at or before ActivateAt is a degenerate but valid
	// window: the timer is immediately due and stage four runs on the next
	// tick. On failure the lease claim from this delivery remains; its
	// redelivery arrives early and step pushes it back to DeactivateAt.
	if err := e.timers.Schedule(ctx, inst.ID, inst.DeactivateAt); err != nil {
		log.Printf("engine: schedule deactivation instance=%s: %v", inst.ID, err)
	}
}

// handleToggleFailure retries transient poll controller failures with
// backoff and halts the instance once retries exhaust. Halting beats
// continuing: a workflow that skips a failed toggle leaves polling stuck in
// the wrong state.
func (e *Engine) handleToggleFailure(ctx context.Context, inst models.WorkflowInstance, action string, cause error) {
	if errors.Is(cause, pollctl.ErrInvalidAction) || errors.Is(cause, pollctl.ErrRuleNotFound) {
		log.Printf("engine: ERROR instance=%s misconfigured poll toggle: %v", inst.ID, cause)
		e.fail(ctx, inst.ID, cause.Error())
		return
	}

	attempts := inst.Attempts + 1
	if attempts >= e.maxAttempts() {
		log.Printf("engine: instance=%s %s failed after %d attempts: %v", inst.ID, action, attempts, cause)
		e.fail(ctx, inst.ID, fmt.Sprintf("%s failed after %d attempts: %v", action, attempts, cause))
		return
	}

	wait := retry.Backoff(e.cfg.BackoffBase, e.cfg.BackoffMax, attempts)
	if err := e.store.RecordInstanceAttempt(ctx, inst.ID, attempts, cause.Error()); err != nil {
		log.Printf("engine: record attempt instance=%s: %v", inst.ID, err)
	}
	if err := e.timers.Schedule(ctx, inst.ID, e.clock().UTC().Add(wait)); err != nil {
		log.Printf("engine: schedule retry instance=%s: %v", inst.ID, err)
		return
	}
	log.Printf("engine: instance=%s %s attempt %d failed, retrying in %s: %v",
		inst.ID, action, attempts, wait.Round(time.Millisecond), cause)
}

// early pushes back a wake-up that arrived before its stage is due. A stale
// lease claim can redeliver ahead of time, e.g. after a crash or Schedule
// failure between the stage advance and the next timer registration; acting
// on it would disable polling while the window is still open. Rescheduling
// at the due time replaces the stale claim, so the instance self-corrects.
func (e *Engine) early(ctx context.Context, inst models.WorkflowInstance, now, due time.Time) bool {
	if !now.Before(due) {
		return false
	}
	if err := e.timers.Schedule(ctx, inst.ID, due); err != nil {
		log.Printf("engine: reschedule instance=%s: %v", inst.ID, err)
	}
	return true
}

// expired halts an instance that outlived its maximum lifetime, the guard
// against a malformed window parking a workflow in a wait stage forever.
func (e *Engine) expired(ctx context.Context, inst models.WorkflowInstance, now time.Time) bool {
	if inst.ExpiresAt.IsZero() || now.Before(inst.ExpiresAt) {
		return false
	}
	log.Printf("engine: instance=%s exceeded maximum lifetime, halting", inst.ID)
	e.fail(ctx, inst.ID, "maximum lifetime exceeded in stage "+inst.Stage)
	return true
}

func (e *Engine) fail(ctx context.Context, id, cause string) {
	if err := e.store.MarkInstanceFailed(ctx, id, cause); err != nil {
		log.Printf("engine: mark failed instance=%s: %v", id, err)
	}
	_ = e.timers.Complete(ctx, id)
	telemetry.StageFailures.Inc()
}

func (e *Engine) maxAttempts() int {
	if e.cfg.MaxAttempts > 0 {
		return e.cfg.MaxAttempts
	}
	return 5
}

func (e *Engine) maxLifetime() time.Duration {
	if e.cfg.MaxLifetime > 0 {
		return e.cfg.MaxLifetime
	}
	return 365 * 24 * time.Hour
}

func (e *Engine) lease() time.Duration {
	if e.cfg.TimerLease > 0 {
		return e.cfg.TimerLease
	}
	return 30 * time.Second
}

func (e *Engine) batchSize() int64 {
	if e.cfg.TimerBatchSize > 0 {
		return int64(e.cfg.TimerBatchSize)
	}
	return 100
}
