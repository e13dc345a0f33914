// Package ledger persists scheduling records and lifecycle instance state in
// Postgres. The scheduling record's conditional insert is the system's
// deduplication contract: at most one workflow per session key, even when
// orchestrator runs overlap.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"race-lifecycle-orchestrator/internal/models"
)

// ErrAlreadyExists reports a conditional insert that lost to an earlier
// writer. Callers treat it as "already scheduled", never as a failure.
var ErrAlreadyExists = errors.New("scheduling record already exists")

// ErrInstanceNotFound reports a lifecycle instance id with no row.
var ErrInstanceNotFound = errors.New("lifecycle instance not found")

// Ledger wraps pgxpool for Postgres persistence.
type Ledger struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Ledger, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Ledger{pool: pool}, nil
}

func (l *Ledger) Close() {
	if l.pool != nil {
		l.pool.Close()
	}
}

// Lookup returns the scheduling record for a session, if one exists.
// Primary-key reads see every committed prior write; there is no stale-read
// window for the dedup check.
func (l *Ledger) Lookup(ctx context.Context, sessionKey int64) (models.SchedulingRecord, bool, error) {
	row := l.pool.QueryRow(ctx, `
		SELECT session_key, workflow_id, race_start, season, created_at
		FROM race_schedules WHERE session_key = $1
	`, sessionKey)

	var rec models.SchedulingRecord
	err := row.Scan(&rec.SessionKey, &rec.WorkflowID, &rec.RaceStart, &rec.Season, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SchedulingRecord{}, false, nil
	}
	if err != nil {
		return models.SchedulingRecord{}, false, fmt.Errorf("lookup schedule: %w", err)
	}
	return rec, true, nil
}

// RecordScheduled inserts the scheduling record for a session. The insert is
// conditional: if any record for the session key exists the call returns
// ErrAlreadyExists and the stored row is untouched, so concurrent
// orchestrator runs resolve to exactly one winner.
func (l *Ledger) RecordScheduled(ctx context.Context, rec models.SchedulingRecord) error {
	tag, err := l.pool.Exec(ctx, `
		INSERT INTO race_schedules (session_key, workflow_id, race_start, season, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (session_key) DO NOTHING
	`, rec.SessionKey, rec.WorkflowID, rec.RaceStart, rec.Season)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// ListBySeason returns every scheduling record for a season keyed by session,
// so one orchestrator run does a single read instead of a point lookup per
// candidate.
func (l *Ledger) ListBySeason(ctx context.Context, season int) (map[int64]models.SchedulingRecord, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT session_key, workflow_id, race_start, season, created_at
		FROM race_schedules WHERE season = $1
	`, season)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]models.SchedulingRecord)
	for rows.Next() {
		var rec models.SchedulingRecord
		if err := rows.Scan(&rec.SessionKey, &rec.WorkflowID, &rec.RaceStart, &rec.Season, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out[rec.SessionKey] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return out, nil
}

// CreateInstance inserts a new lifecycle instance row.
func (l *Ledger) CreateInstance(ctx context.Context, inst models.WorkflowInstance) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO lifecycle_instances
			(id, session_key, stage, activate_at, deactivate_at, attempts, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $7)
	`, inst.ID, inst.SessionKey, inst.Stage, inst.ActivateAt, inst.DeactivateAt, inst.ExpiresAt, inst.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

// GetInstance fetches a lifecycle instance by id.
func (l *Ledger) GetInstance(ctx context.Context, id string) (models.WorkflowInstance, error) {
	row := l.pool.QueryRow(ctx, `
		SELECT id, session_key, stage, activate_at, deactivate_at, attempts, last_error, expires_at, created_at, updated_at
		FROM lifecycle_instances WHERE id = $1
	`, id)

	var inst models.WorkflowInstance
	var lastErr pgtype.Text
	err := row.Scan(&inst.ID, &inst.SessionKey, &inst.Stage, &inst.ActivateAt, &inst.DeactivateAt,
		&inst.Attempts, &lastErr, &inst.ExpiresAt, &inst.CreatedAt, &inst.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WorkflowInstance{}, ErrInstanceNotFound
	}
	if err != nil {
		return models.WorkflowInstance{}, fmt.Errorf("scan instance: %w", err)
	}
	if lastErr.Valid {
		inst.LastError = &lastErr.String
	}
	return inst, nil
}

// AdvanceStage moves an instance from one stage to the next and resets its
// attempt counter. The guard on the current stage makes redelivered timer
// wakeups safe: a second delivery after the transition matches zero rows.
func (l *Ledger) AdvanceStage(ctx context.Context, id, from, to string) (bool, error) {
	tag, err := l.pool.Exec(ctx, `
		UPDATE lifecycle_instances
		SET stage = $3, attempts = 0, last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND stage = $2
	`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("advance stage: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordInstanceAttempt bumps the attempt counter after a transient stage
// failure.
func (l *Ledger) RecordInstanceAttempt(ctx context.Context, id string, attempts int, lastErr string) error {
	_, err := l.pool.Exec(ctx, `
		UPDATE lifecycle_instances
		SET attempts = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`, id, attempts, lastErr)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// MarkInstanceFailed halts an instance permanently.
func (l *Ledger) MarkInstanceFailed(ctx context.Context, id, cause string) error {
	_, err := l.pool.Exec(ctx, `
		UPDATE lifecycle_instances
		SET stage = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`, id, models.StageFailed, cause)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// ListInstancesByStage returns instances currently in a stage, newest first.
func (l *Ledger) ListInstancesByStage(ctx context.Context, stage string, limit int) ([]models.WorkflowInstance, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.pool.Query(ctx, `
		SELECT id, session_key, stage, activate_at, deactivate_at, attempts, last_error, expires_at, created_at, updated_at
		FROM lifecycle_instances WHERE stage = $1
		ORDER BY created_at DESC LIMIT $2
	`, stage, limit)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var out []models.WorkflowInstance
	for rows.Next() {
		var inst models.WorkflowInstance
		var lastErr pgtype.Text
		if err := rows.Scan(&inst.ID, &inst.SessionKey, &inst.Stage, &inst.ActivateAt, &inst.DeactivateAt,
			&inst.Attempts, &lastErr, &inst.ExpiresAt, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		if lastErr.Valid {
			inst.LastError = &lastErr.String
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return out, nil
}
