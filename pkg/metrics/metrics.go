// Package metrics exposes prometheus instrumentation for the extraction
// pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tidemark",
			Subsystem: "pipeline",
			Name:      "requests_total",
			Help:      "Total report requests by vendor and terminal status",
		},
		[]string{"vendor", "status"},
	)

	pagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tidemark",
			Subsystem: "pipeline",
			Name:      "pages_fetched_total",
			Help:      "Total vendor pages fetched",
		},
		[]string{"vendor"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tidemark",
			Subsystem: "pipeline",
			Name:      "retries_total",
			Help:      "Total throttle and transient retries spent on requests",
		},
		[]string{"vendor"},
	)

	rowsNormalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tidemark",
			Subsystem: "pipeline",
			Name:      "rows_normalized_total",
			Help:      "Total rows normalized into tables",
		},
		[]string{"vendor"},
	)

	dispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tidemark",
			Subsystem: "pipeline",
			Name:      "dispatch_outcomes_total",
			Help:      "Per-target dispatch outcomes",
		},
		[]string{"kind", "status"},
	)

	fetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tidemark",
			Subsystem: "pipeline",
			Name:      "fetch_duration_seconds",
			Help:      "Wall time of the fetch stage per request",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0},
		},
		[]string{"vendor"},
	)
)

// ObserveRequest records a request's terminal status.
func ObserveRequest(vendor, status string) {
	requestsTotal.WithLabelValues(vendor, status).Inc()
}

// ObserveFetch records the fetch stage of one request.
func ObserveFetch(vendor string, pages, retries int, elapsed time.Duration) {
	pagesFetched.WithLabelValues(vendor).Add(float64(pages))
	retriesTotal.WithLabelValues(vendor).Add(float64(retries))
	fetchDuration.WithLabelValues(vendor).Observe(elapsed.Seconds())
}

// ObserveRows records normalized row counts.
func ObserveRows(vendor string, rows int) {
	rowsNormalized.WithLabelValues(vendor).Add(float64(rows))
}

// ObserveDispatch records one per-target outcome.
func ObserveDispatch(kind string, succeeded bool) {
	status := "ok"
	if !succeeded {
		status = "error"
	}
	dispatchOutcomes.WithLabelValues(kind, status).Inc()
}
