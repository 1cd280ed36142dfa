package transition

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric outcome labels.
const (
	outcomeSuccess = "success"
	outcomeError   = "error"
	outcomeAborted = "aborted"
)

var (
	// transitionsStarted counts transitions that executed their first advance.
	transitionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "transition_started_total",
		Help: "Total number of transitions started, by kind",
	}, []string{"kind"})

	// transitionsFinished counts retired transitions by outcome (success, error, aborted).
	transitionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "transition_finished_total",
		Help: "Total number of transitions retired, by kind and outcome",
	}, []string{"kind", "outcome"})

	// stepsExecuted counts executed steps.
	stepsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "transition_steps_total",
		Help: "Total number of transition steps executed, by kind",
	}, []string{"kind"})

	// transitionDuration tracks the time from first advance to retirement.
	transitionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{ //nolint:gochecknoglobals
		Name:    "transition_duration_seconds",
		Help:    "Duration of transitions by kind and outcome",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"kind", "outcome"})
)

func sanitizeKind(kind string) string {
	if kind == "" {
		return "unknown"
	}

	return kind
}
