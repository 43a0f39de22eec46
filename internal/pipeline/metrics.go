package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsTotal labels: result (success, partial, failed, cancelled, error)
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragdocs",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Sync runs by outcome",
		},
		[]string{"result"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ragdocs",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Wall time of sync runs",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	fetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragdocs",
			Subsystem: "pipeline",
			Name:      "fetched_documents_total",
			Help:      "Documents fetched per source after the per-source cap",
		},
		[]string{"source"},
	)

	fetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragdocs",
			Subsystem: "pipeline",
			Name:      "fetch_errors_total",
			Help:      "Failed source fetches",
		},
		[]string{"source"},
	)

	redactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragdocs",
			Subsystem: "pipeline",
			Name:      "redactions_total",
			Help:      "Secrets redacted from fetched documents",
		},
		[]string{"source"},
	)
)
