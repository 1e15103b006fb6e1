// Package metrics exposes Prometheus instrumentation for the map pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Worker process metrics
	WorkerInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scmap_worker_invocations_total",
			Help: "Map worker invocations by terminal state",
		},
		[]string{"outcome"}, // "completed", "failed", "timed_out", "process_error"
	)

	WorkerDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scmap_worker_duration_seconds",
			Help:    "Wall time of one map worker invocation, spawn to exit",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// Parse queue metrics
	QueueRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scmap_parse_queue_running",
			Help: "Map parses currently holding a queue slot",
		},
	)

	QueueWaiting = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scmap_parse_queue_waiting",
			Help: "Map parses waiting for a queue slot",
		},
	)

	// Reparse metrics
	ReparseRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scmap_reparse_runs_total",
			Help: "Reparse attempts that started a worker, by result",
		},
		[]string{"result"}, // "ok", "error"
	)

	ReparseShared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scmap_reparse_shared_total",
			Help: "Reparse requests served by an already running reparse of the same hash",
		},
	)

	// Object storage metrics
	StorageBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scmap_storage_breaker_state",
			Help: "Object storage circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	StorageOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scmap_storage_operations_total",
			Help: "Object storage operations by kind and result",
		},
		[]string{"operation", "result"},
	)

	// Background sweep
	SweepStale = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scmap_sweep_stale_maps",
			Help: "Stale maps found by the last reparse sweep",
		},
	)
)

// RecordWorker records one finished worker invocation.
func RecordWorker(outcome string, duration time.Duration) {
	WorkerInvocations.WithLabelValues(outcome).Inc()
	WorkerDuration.Observe(duration.Seconds())
}

func RecordReparse(err error) {
	if err != nil {
		ReparseRuns.WithLabelValues("error").Inc()
		return
	}
	ReparseRuns.WithLabelValues("ok").Inc()
}

func RecordStorage(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	StorageOperations.WithLabelValues(operation, result).Inc()
}
