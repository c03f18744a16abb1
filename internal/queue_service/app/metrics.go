package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	itemsProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "queue",
			Name:      "items_processed_total",
			Help:      "Total number of queue items processed by the poller.",
		},
		[]string{"kind", "status"}, // status: "completed", "rescheduled", "failed", "lost"
	)

	itemProcessingDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "queue",
			Name:      "item_processing_duration_seconds",
			Help:      "Duration of queue item processing.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	staleReleasedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "queue",
			Name:      "stale_items_released_total",
			Help:      "Total number of processing items released after their worker disappeared.",
		},
	)

	pollBatchSizeHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "queue",
			Name:      "poll_batch_size",
			Help:      "Number of items acquired per poll cycle.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)
)
