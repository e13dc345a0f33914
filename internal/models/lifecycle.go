package models

import (
	"time"
)

// Lifecycle stages persisted in Postgres. Stages advance strictly forward;
// StageFailed and StageDone are terminal.
const (
	StageWaitingActivation   = "waiting_activation"
	StageWaitingDeactivation = "waiting_deactivation"
	StageDone                = "done"
	StageFailed              = "failed"
)

// SchedulingRecord proves that a lifecycle workflow was already started for
// a session. At most one record exists per session key; that uniqueness is
// the deduplication contract between orchestrator runs.
type SchedulingRecord struct {
	SessionKey int64     `json:"session_key"`
	WorkflowID string    `json:"workflow_id"`
	RaceStart  string    `json:"race_start"`
	Season     int       `json:"season"`
	CreatedAt  time.Time `json:"created_at"`
}

// WorkflowInstance is one durable execution of the four-stage lifecycle for
// one session. The row in Postgres is the source of truth for its stage; the
// Redis timer set only decides when the engine looks at it again.
type WorkflowInstance struct {
	ID           string    `json:"id"`
	SessionKey   int64     `json:"session_key"`
	Stage        string    `json:"stage"`
	ActivateAt   time.Time `json:"activate_at"`
	DeactivateAt time.Time `json:"deactivate_at"`
	Attempts     int       `json:"attempts"`
	LastError    *string   `json:"last_error,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Outcome values for a single session in one orchestrator run.
const (
	OutcomeCreated = "created"
	OutcomeExists  = "exists"
	OutcomeError   = "error"
)

// SessionOutcome reports what one orchestrator run did for one session.
type SessionOutcome struct {
	SessionKey int64  `json:"session_key"`
	Outcome    string `json:"outcome"`
	WorkflowID string `json:"workflow_id,omitempty"`
	Cause      string `json:"cause,omitempty"`
}

// RunSummary collects per-session outcomes for one orchestrator run.
// Per-session failures land here instead of aborting sibling sessions.
type RunSummary struct {
	Season     int              `json:"season"`
	StartedAt  time.Time        `json:"started_at"`
	Candidates int              `json:"candidates"`
	Outcomes   []SessionOutcome `json:"outcomes"`
}

// Counts tallies outcomes for logging and metrics.
func (s RunSummary) Counts() (created, exists, failed int) {
	for _, o := range s.Outcomes {
		switch o.Outcome {
		case OutcomeCreated:
			created++
		case OutcomeExists:
			exists++
		case OutcomeError:
			failed++
		}
	}
	return created, exists, failed
}
