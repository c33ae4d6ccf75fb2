package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsEnqueued counts work items accepted onto each queue.
	ItemsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_importer_queue_items_enqueued_total",
		Help: "Work items enqueued, by queue.",
	}, []string{"queue"})

	// ItemsCompleted counts work items acknowledged after success.
	ItemsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_importer_queue_items_completed_total",
		Help: "Work items completed, by queue.",
	}, []string{"queue"})

	// ItemsRetried counts re-deliveries after a failed attempt.
	ItemsRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_importer_queue_items_retried_total",
		Help: "Work items requeued for retry, by queue.",
	}, []string{"queue"})

	// ItemsDeadLettered counts items moved to the dead-letter queue.
	ItemsDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_importer_queue_items_dead_lettered_total",
		Help: "Work items dead-lettered after retry exhaustion, by queue.",
	}, []string{"queue"})

	// WorkersActive tracks currently running consumer goroutines.
	WorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "catalog_importer_workers_active",
		Help: "Active worker goroutines.",
	})

	// TaskDuration observes wall-clock handler time in seconds.
	TaskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_importer_task_duration_seconds",
		Help:    "Handler execution time.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	})
)
