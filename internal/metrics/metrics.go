package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors for the pipeline core. Registered on the default registry and
// exposed by the diagnostics listener.
var (
	PipelineRunsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scorehub_pipeline_runs_in_flight",
		Help: "Number of pipeline invocations currently running",
	})

	PipelineRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scorehub_pipeline_runs_total",
		Help: "Pipeline invocations by mode and outcome",
	}, []string{"mode", "outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scorehub_stage_duration_seconds",
		Help:    "Duration of pipeline stages",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scorehub_executions_total",
		Help: "Executor attempts by backend and outcome",
	}, []string{"backend", "outcome"})

	ExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scorehub_execution_duration_seconds",
		Help:    "Wall clock duration of executor attempts",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 7200},
	}, []string{"backend"})

	ScoringsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scorehub_scorings_total",
		Help: "Scoring attempts by scorer and outcome",
	}, []string{"scorer", "outcome"})

	RegistryReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scorehub_registry_reloads_total",
		Help: "Registry load and reload operations by outcome",
	}, []string{"outcome"})

	RegistryWatchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scorehub_registry_watch_errors_total",
		Help: "Watch ticks whose triggered reload failed",
	})

	RegisteredScorers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scorehub_registered_scorers",
		Help: "Number of scorers currently registered",
	})

	StorageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scorehub_storage_failures_total",
		Help: "History store operations that failed",
	}, []string{"operation"})

	TrackerPublishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scorehub_tracker_publishes_total",
		Help: "Tracker publish attempts by outcome",
	}, []string{"outcome"})
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)
