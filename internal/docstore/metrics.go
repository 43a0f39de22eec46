package docstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ingestedTotal counts entries written. Labels: embedded (true, false)
	ingestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragdocs",
			Subsystem: "docstore",
			Name:      "ingested_total",
			Help:      "Entries written to the collection",
		},
		[]string{"embedded"},
	)

	// skippedTotal counts records not written. Labels: reason (blank, duplicate)
	skippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragdocs",
			Subsystem: "docstore",
			Name:      "skipped_total",
			Help:      "Records skipped during ingest",
		},
		[]string{"reason"},
	)

	failedBatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ragdocs",
			Subsystem: "docstore",
			Name:      "embedding_batch_failures_total",
			Help:      "Ingest batches stored unembedded after the embedding call failed",
		},
	)

	// searchDuration labels: mode (vector, keyword)
	searchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragdocs",
			Subsystem: "docstore",
			Name:      "search_duration_seconds",
			Help:      "Search latency by retrieval mode",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	storeState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ragdocs",
			Subsystem: "docstore",
			Name:      "state",
			Help:      "Store state (0=uninitialized 1=ready 2=keyword_only 3=ephemeral 4=failed)",
		},
	)

	documentsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ragdocs",
			Subsystem: "docstore",
			Name:      "documents",
			Help:      "Entries in the collection at the last write or stats call",
		},
	)

	quarantineOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragdocs",
			Subsystem: "docstore",
			Name:      "quarantine_operations_total",
			Help:      "Corrupt collection directories moved aside on open",
		},
		[]string{"result"},
	)
)
