// Package orchestrator ties the feed, the scheduling ledger, and the
// lifecycle engine together. One run discovers candidate sessions, starts a
// lifecycle workflow for each session not yet in the ledger, and records the
// outcome per session so a bad candidate never blocks its siblings.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"race-lifecycle-orchestrator/internal/config"
	"race-lifecycle-orchestrator/internal/engine"
	"race-lifecycle-orchestrator/internal/feed"
	"race-lifecycle-orchestrator/internal/ledger"
	"race-lifecycle-orchestrator/internal/models"
	"race-lifecycle-orchestrator/internal/retry"
	"race-lifecycle-orchestrator/internal/telemetry"
)

// SessionSource fetches the full session snapshot.
type SessionSource interface {
	Sessions(ctx context.Context) ([]models.Session, error)
}

// SchedulingLedger is the dedup store the runner consults and writes.
type SchedulingLedger interface {
	ListBySeason(ctx context.Context, season int) (map[int64]models.SchedulingRecord, error)
	RecordScheduled(ctx context.Context, rec models.SchedulingRecord) error
}

// WorkflowStarter launches one lifecycle instance per new session.
type WorkflowStarter interface {
	Start(ctx context.Context, sessionKey int64, w engine.Window) (string, error)
}

// Runner executes orchestrator runs.
type Runner struct {
	cfg         config.Config
	source      SessionSource
	ledger      SchedulingLedger
	engine      WorkflowStarter
	ledgerRetry retry.Policy
	clock       func() time.Time
}

// New constructs a runner.
func New(cfg config.Config, source SessionSource, lg SchedulingLedger, eng WorkflowStarter) *Runner {
	retries := cfg.LedgerRetries
	if retries <= 0 {
		retries = 3
	}
	return &Runner{
		cfg:    cfg,
		source: source,
		ledger: lg,
		engine: eng,
		ledgerRetry: retry.Policy{
			Attempts: retries,
			Base:     cfg.BackoffBase,
			Max:      cfg.BackoffMax,
		},
		clock: time.Now,
	}
}

// Run performs a single orchestrator pass. A feed failure aborts the whole
// run (fail-closed); everything after that is isolated per session.
func (r *Runner) Run(ctx context.Context) (models.RunSummary, error) {
	telemetry.RunsTotal.Inc()
	summary := models.RunSummary{
		Season:    r.cfg.Season,
		StartedAt: r.clock().UTC(),
	}

	sessions, err := r.source.Sessions(ctx)
	if err != nil {
		telemetry.RunsAborted.Inc()
		telemetry.FeedErrors.Inc()
		return summary, fmt.Errorf("fetch sessions: %w", err)
	}

	candidates := feed.Select(sessions, r.cfg.SessionType, r.cfg.Season)
	summary.Candidates = len(candidates)
	if len(candidates) == 0 {
		log.Printf("orchestrator: no %s sessions for season %d", r.cfg.SessionType, r.cfg.Season)
		return summary, nil
	}

	var scheduled map[int64]models.SchedulingRecord
	err = r.ledgerRetry.Do(ctx, func() error {
		var lerr error
		scheduled, lerr = r.ledger.ListBySeason(ctx, r.cfg.Season)
		return lerr
	})
	if err != nil {
		// Without the dedup set every candidate would need a point lookup
		// that could fail the same way; abort and let the next run retry.
		return summary, fmt.Errorf("load scheduled set: %w", err)
	}

	for _, session := range candidates {
		outcome := r.processSession(ctx, session, scheduled)
		summary.Outcomes = append(summary.Outcomes, outcome)
		telemetry.SessionOutcomes.WithLabelValues(outcome.Outcome).Inc()
	}

	created, exists, failed := summary.Counts()
	log.Printf("orchestrator: run complete season=%d candidates=%d created=%d exists=%d errors=%d",
		r.cfg.Season, summary.Candidates, created, exists, failed)
	return summary, nil
}

// processSession handles one candidate inside its own failure boundary.
func (r *Runner) processSession(ctx context.Context, session models.Session, scheduled map[int64]models.SchedulingRecord) models.SessionOutcome {
	key := session.SessionKey

	if rec, ok := scheduled[key]; ok {
		return models.SessionOutcome{SessionKey: key, Outcome: models.OutcomeExists, WorkflowID: rec.WorkflowID}
	}

	w, err := engine.ComputeWindow(session.DateStart, session.DateEnd, r.cfg.PreMargin, r.cfg.PostMargin)
	if err != nil {
		log.Printf("orchestrator: session=%d window: %v", key, err)
		return models.SessionOutcome{SessionKey: key, Outcome: models.OutcomeError, Cause: err.Error()}
	}

	workflowID, err := r.engine.Start(ctx, key, w)
	if err != nil {
		log.Printf("orchestrator: session=%d start workflow: %v", key, err)
		return models.SessionOutcome{SessionKey: key, Outcome: models.OutcomeError, Cause: err.Error()}
	}

	rec := models.SchedulingRecord{
		SessionKey: key,
		WorkflowID: workflowID,
		RaceStart:  session.DateStart,
		Season:     session.Year,
	}
	err = r.ledgerRetry.Do(ctx, func() error {
		werr := r.ledger.RecordScheduled(ctx, rec)
		if errors.Is(werr, ledger.ErrAlreadyExists) {
			// The conflict is final, not transient.
			return retry.Permanent(werr)
		}
		return werr
	})
	if errors.Is(err, ledger.ErrAlreadyExists) {
		// Lost a race against a concurrent run. The other writer's workflow
		// is the recorded one; ours still runs the same window with its own
		// holder id, which the holder-counted trigger absorbs.
		log.Printf("orchestrator: session=%d already scheduled by a concurrent run", key)
		return models.SessionOutcome{SessionKey: key, Outcome: models.OutcomeExists}
	}
	if err != nil {
		// Never marked scheduled, so the next run retries this session.
		log.Printf("orchestrator: session=%d record schedule: %v", key, err)
		return models.SessionOutcome{SessionKey: key, Outcome: models.OutcomeError, Cause: err.Error()}
	}

	log.Printf("orchestrator: session=%d scheduled workflow=%s activate=%s deactivate=%s",
		key, workflowID, w.ActivateAt.Format(time.RFC3339), w.DeactivateAt.Format(time.RFC3339))
	return models.SessionOutcome{SessionKey: key, Outcome: models.OutcomeCreated, WorkflowID: workflowID}
}

// RunLoop runs on a fixed interval until context cancellation, with one
// immediate run at startup.
func (r *Runner) RunLoop(ctx context.Context) {
	interval := r.cfg.RunInterval
	if interval == 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := r.Run(ctx); err != nil {
		log.Printf("orchestrator: run: %v", err)
	}
	for {
		select {
		case <-ctx.Done():
			log.Println("orchestrator: stopped")
			return
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				log.Printf("orchestrator: run: %v", err)
			}
		}
	}
}
