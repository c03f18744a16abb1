package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublishedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outbox",
			Name:      "events_published_total",
			Help:      "Total number of outbox publish calls by outcome.",
		},
		[]string{"event_type", "outcome"}, // "recorded", "duplicate"
	)

	eventsRelayedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outbox",
			Name:      "events_relayed_total",
			Help:      "Total number of outbox events relayed to the broker by outcome.",
		},
		[]string{"event_type", "outcome"}, // "relayed", "error"
	)
)
