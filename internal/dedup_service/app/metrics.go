package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checksCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dedup",
			Name:      "checks_total",
			Help:      "Total number of dedup checks by outcome.",
		},
		[]string{"result"}, // "accepted", "duplicate"
	)

	cacheHitsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dedup",
			Name:      "cache_hits_total",
			Help:      "Best-effort cache hits on dedup checks.",
		},
	)

	alertsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dedup",
			Name:      "excessive_duplicate_alerts_total",
			Help:      "Alerts emitted for duplicate counts crossing the threshold.",
		},
	)
)
