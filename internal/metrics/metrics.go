package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "catalogqa"

var (
	// ModelCalls counts gateway calls by provider and outcome (success, error, mock).
	ModelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "model",
		Name:      "calls_total",
		Help:      "Model gateway calls by provider and outcome.",
	}, []string{"provider", "outcome"})

	// ModelAttemptFailures counts individual failed attempts, including ones
	// that were retried.
	ModelAttemptFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "model",
		Name:      "attempt_failures_total",
		Help:      "Failed model call attempts by provider and error class.",
	}, []string{"provider", "class"})

	ModelLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "model",
		Name:      "call_duration_seconds",
		Help:      "Duration of model gateway calls including retries.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 90},
	}, []string{"provider"})

	// Questions counts answered questions by query type and outcome.
	Questions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "questions_total",
		Help:      "Questions handled by query type and outcome.",
	}, []string{"query_type", "outcome"})

	// PipelineErrors counts failures by taxonomy kind.
	PipelineErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "errors_total",
		Help:      "Pipeline failures by error kind.",
	}, []string{"kind"})

	StageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Duration of individual pipeline stages.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})

	Relaxations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "relaxed_requeries_total",
		Help:      "Queries re-run with relaxed conditions after too few results.",
	})

	CatalogRows = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "rows_returned",
		Help:      "Rows returned per catalog query.",
		Buckets:   []float64{0, 1, 5, 10, 20, 50, 100, 500, 1000},
	})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Answer cache lookups by result (hit, miss, error).",
	}, []string{"result"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "active",
		Help:      "Sessions that have not expired, as of the last sweep.",
	})

	SessionsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "swept_total",
		Help:      "Expired sessions removed by the reaper.",
	})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-client rate limiter.",
	})
)
