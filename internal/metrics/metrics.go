// Package metrics holds the kernel's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Emission outcomes.
const (
	OutcomeAccepted     = "accepted"
	OutcomeDeduplicated = "deduplicated"
	OutcomeRejected     = "rejected"
	OutcomeFailed       = "failed"
)

var (
	Emissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phk_emissions_total",
		Help: "Total number of emissions, labelled by outcome.",
	}, []string{"outcome"})

	AbsencesUpserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phk_absences_upserted_total",
		Help: "Total number of absence determinations upserted by projection.",
	})

	EmissionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "phk_emission_duration_ms",
		Help:    "Emission latency in milliseconds, including the transaction.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	ReadViews = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phk_read_views_total",
		Help: "Total number of Program Health view reads, labelled by result.",
	}, []string{"result"})

	IsolationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phk_isolation_runs_total",
		Help: "Total number of M3 isolation diagnostics, labelled by result (ok, violation, error).",
	}, []string{"result"})

	RationaleChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phk_rationale_checks_total",
		Help: "Total number of rationale validations, labelled by result (ok, rejected).",
	}, []string{"result"})

	ImpactsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phk_m3_impacts_persisted_total",
		Help: "Total number of M3 impact records persisted.",
	})
)
