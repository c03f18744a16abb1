package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	handshakeCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "webhook_handshakes_total",
			Help:      "Total number of webhook handshake attempts by outcome.",
		},
		[]string{"outcome"}, // "verified", "rejected"
	)

	deliveriesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "webhook_deliveries_total",
			Help:      "Total number of webhook delivery requests by outcome.",
		},
		[]string{"outcome"}, // "accepted", "unauthorized", "malformed"
	)

	nonTextSkippedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "non_text_messages_skipped_total",
			Help:      "Total number of non-text messages accepted but not queued.",
		},
	)
)
