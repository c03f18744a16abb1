package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	validationsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sequence",
			Name:      "validations_total",
			Help:      "Total number of sequence validations by outcome.",
		},
		[]string{"outcome"}, // "in_order", "gap", "late", "abandoned"
	)

	rechecksCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sequence",
			Name:      "gap_rechecks_total",
			Help:      "Total number of delayed gap re-checks by outcome.",
		},
		[]string{"outcome"}, // "resolved", "unresolved"
	)
)
