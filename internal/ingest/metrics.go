package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dayflow_ingest_runs_total",
		Help: "Ingestion runs by source and result.",
	}, []string{"source", "result"})

	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dayflow_ingest_items_total",
		Help: "Fetched items by source and disposition.",
	}, []string{"source", "disposition"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dayflow_ingest_duration_seconds",
		Help:    "Wall time of ingestion runs.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"source"})
)
