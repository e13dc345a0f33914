package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	RunsTotal       = prometheus.NewCounter(prometheus.CounterOpts{Name: "orchestrator_runs_total", Help: "Orchestrator runs started"})
	RunsAborted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "orchestrator_runs_aborted_total", Help: "Runs aborted because the feed was unavailable"})
	SessionOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "orchestrator_session_outcomes_total", Help: "Per-session run outcomes"}, []string{"outcome"})

	StageTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "lifecycle_stage_transitions_total", Help: "Lifecycle stage transitions"}, []string{"to"})
	StageFailures    = prometheus.NewCounter(prometheus.CounterOpts{Name: "lifecycle_failures_total", Help: "Lifecycle instances halted after exhausting retries"})
	TimersPending    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "lifecycle_timers_pending", Help: "Durable timers currently registered"})

	PollToggles   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "poll_toggles_total", Help: "Poll trigger toggle calls"}, []string{"action"})
	ActiveHolders = prometheus.NewGauge(prometheus.GaugeOpts{Name: "poll_active_holders", Help: "Activation windows currently holding the trigger"})

	BlobUploads  = prometheus.NewCounter(prometheus.CounterOpts{Name: "livedata_uploads_total", Help: "Merged position snapshots uploaded"})
	PollSkipped  = prometheus.NewCounter(prometheus.CounterOpts{Name: "livedata_cycles_skipped_total", Help: "Poll cycles skipped because the trigger is off"})
	FeedErrors   = prometheus.NewCounter(prometheus.CounterOpts{Name: "feed_errors_total", Help: "Upstream feed fetch failures"})
	FeedThrottle = prometheus.NewCounter(prometheus.CounterOpts{Name: "feed_throttled_total", Help: "Feed calls held back by the rate limiter"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			RunsTotal,
			RunsAborted,
			SessionOutcomes,
			StageTransitions,
			StageFailures,
			TimersPending,
			PollToggles,
			ActiveHolders,
			BlobUploads,
			PollSkipped,
			FeedErrors,
			FeedThrottle,
		)
	})
	return promhttp.Handler()
}
