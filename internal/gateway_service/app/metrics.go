package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "messages_ingested_total",
			Help:      "Total number of inbound messages handled by the ingestor by outcome.",
		},
		[]string{"outcome"}, // "accepted", "duplicate", "error"
	)

	gapRechecksScheduledCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "gap_rechecks_scheduled_total",
			Help:      "Total number of sequence gap re-check items scheduled.",
		},
	)
)
