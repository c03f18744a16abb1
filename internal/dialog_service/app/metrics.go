package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dialog",
			Name:      "transitions_total",
			Help:      "Total number of dialog step transitions.",
		},
		[]string{"from", "to"},
	)

	conversationsOpenedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dialog",
			Name:      "conversations_opened_total",
			Help:      "Total number of conversations opened.",
		},
	)

	bookingsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dialog",
			Name:      "booking_attempts_total",
			Help:      "Total number of booking engine invocations by outcome.",
		},
		[]string{"outcome"}, // "created", "rejected", "error"
	)

	turnsReplayedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dialog",
			Name:      "turns_replayed_total",
			Help:      "Total number of already-processed messages answered with the stored reply.",
		},
	)

	turnDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dialog",
			Name:      "turn_duration_seconds",
			Help:      "Duration of handling one conversation turn.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
