package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"race-lifecycle-orchestrator/internal/config"
	"race-lifecycle-orchestrator/internal/models"
	"race-lifecycle-orchestrator/internal/pollctl"
	"race-lifecycle-orchestrator/internal/telemetry"
)

// RunTrigger starts an orchestrator run on demand.
type RunTrigger interface {
	Run(ctx context.Context) (models.RunSummary, error)
}

// PollToggler mutates and reads polling trigger state.
type PollToggler interface {
	Set(ctx context.Context, ruleID, action, holder string) (pollctl.State, error)
	Status(ctx context.Context, ruleID string) (pollctl.State, error)
}

// ScheduleReader reads ledger state for inspection endpoints.
type ScheduleReader interface {
	Lookup(ctx context.Context, sessionKey int64) (models.SchedulingRecord, bool, error)
	ListBySeason(ctx context.Context, season int) (map[int64]models.SchedulingRecord, error)
	ListInstancesByStage(ctx context.Context, stage string, limit int) ([]models.WorkflowInstance, error)
}

// Server wires HTTP handlers for the orchestrator service.
type Server struct {
	cfg    config.Config
	runner RunTrigger
	poll   PollToggler
	ledger ScheduleReader
}

// New constructs the API server.
func New(cfg config.Config, runner RunTrigger, poll PollToggler, ledger ScheduleReader) *Server {
	return &Server{
		cfg:    cfg,
		runner: runner,
		poll:   poll,
		ledger: ledger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/polling", s.handleSetPolling)
	r.Get("/polling", s.handleGetPolling)
	r.Post("/runs", s.handleRun)
	r.Get("/schedules", s.handleSchedules)
	r.Get("/schedules/{sessionKey}", s.handleSchedule)
	r.Get("/instances", s.handleInstances)
	return r
}

type pollingRequest struct {
	Action string `json:"action"`
	Holder string `json:"holder"`
}

type pollingResponse struct {
	StatusCode int            `json:"statusCode"`
	Message    string         `json:"message"`
	State      *pollctl.State `json:"state,omitempty"`
}

func (s *Server) handleSetPolling(w http.ResponseWriter, r *http.Request) {
	var req pollingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePolling(w, http.StatusBadRequest, "invalid json body", nil)
		return
	}
	if req.Action == "" {
		writePolling(w, http.StatusBadRequest, "action is required", nil)
		return
	}

	state, err := s.poll.Set(r.Context(), s.cfg.PollTriggerRule, req.Action, req.Holder)
	switch {
	case errors.Is(err, pollctl.ErrInvalidAction), errors.Is(err, pollctl.ErrRuleNotFound):
		writePolling(w, http.StatusBadRequest, err.Error(), nil)
	case err != nil:
		writePolling(w, http.StatusInternalServerError, "failed to toggle polling trigger", nil)
	default:
		telemetry.PollToggles.WithLabelValues(req.Action).Inc()
		telemetry.ActiveHolders.Set(float64(state.Holders))
		writePolling(w, http.StatusOK, "polling "+req.Action+"d", &state)
	}
}

func (s *Server) handleGetPolling(w http.ResponseWriter, r *http.Request) {
	state, err := s.poll.Status(r.Context(), s.cfg.PollTriggerRule)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	summary, err := s.runner.Run(r.Context())
	if err != nil {
		// Feed failures abort the run; the summary still reports what was
		// attempted before the abort.
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":   err.Error(),
			"summary": summary,
		})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	season := s.cfg.Season
	if v := r.URL.Query().Get("season"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid season", http.StatusBadRequest)
			return
		}
		season = parsed
	}
	records, err := s.ledger.ListBySeason(r.Context(), season)
	if err != nil {
		http.Error(w, "failed to list schedules", http.StatusInternalServerError)
		return
	}
	out := make([]models.SchedulingRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{"season": season, "schedules": out})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	key, err := strconv.ParseInt(chi.URLParam(r, "sessionKey"), 10, 64)
	if err != nil {
		http.Error(w, "invalid session key", http.StatusBadRequest)
		return
	}
	rec, found, err := s.ledger.Lookup(r.Context(), key)
	if err != nil {
		http.Error(w, "failed to look up schedule", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "schedule not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	stage := r.URL.Query().Get("stage")
	if stage == "" {
		stage = models.StageWaitingActivation
	}
	instances, err := s.ledger.ListInstancesByStage(r.Context(), stage, 100)
	if err != nil {
		http.Error(w, "failed to list instances", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stage": stage, "instances": instances})
}

func writePolling(w http.ResponseWriter, code int, message string, state *pollctl.State) {
	writeJSON(w, code, pollingResponse{StatusCode: code, Message: message, State: state})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
