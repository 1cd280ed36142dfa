package eventloop

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// aliveLoops tracks the number of running loops.
	aliveLoops = promauto.NewGaugeVec(prometheus.GaugeOpts{ //nolint:gochecknoglobals
		Name: "eventloop_alive",
		Help: "The number of event loops currently running",
	}, []string{"subsystem", "loop"})

	// postedTasks counts tasks accepted by Post.
	postedTasks = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "eventloop_posted_total",
		Help: "The total number of tasks posted to an event loop",
	}, []string{"subsystem", "loop"})

	// processedTasks counts tasks run to completion (including ones that panicked).
	processedTasks = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "eventloop_processed_total",
		Help: "The total number of tasks processed by an event loop",
	}, []string{"subsystem", "loop"})

	// taskPanics counts tasks that panicked.
	taskPanics = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "eventloop_panic_total",
		Help: "The total number of tasks that panicked inside an event loop",
	}, []string{"subsystem", "loop"})

	// queueDepth is the number of tasks waiting to run.
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{ //nolint:gochecknoglobals
		Name: "eventloop_queue_depth",
		Help: "The number of tasks waiting in an event loop queue",
	}, []string{"subsystem", "loop"})

	// processingTime measures how long each task held the loop.
	processingTime = promauto.NewHistogramVec(prometheus.HistogramOpts{ //nolint:gochecknoglobals
		Name:    "eventloop_task_seconds",
		Help:    "Time spent running a single event loop task",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"subsystem", "loop"})
)
