// Package metrics exposes prometheus collectors for the core subsystems.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared across the service.
type Metrics struct {
	JobsProcessed   *prometheus.CounterVec
	JobDuration     prometheus.Histogram
	SearchDuration  prometheus.Histogram
	ChatIterations  prometheus.Histogram
	ExternalRetries *prometheus.CounterVec
	SyncFilesTotal  *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_indexing_jobs_total",
			Help: "Indexing jobs by terminal outcome.",
		}, []string{"outcome"}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "folio_indexing_job_duration_seconds",
			Help:    "Wall time spent processing one indexing job.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
		}),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "folio_search_duration_seconds",
			Help:    "Hybrid retrieval latency including optional rerank.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		ChatIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "folio_chat_iterations",
			Help:    "Tool-loop iterations per agentic chat request.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		ExternalRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_external_retries_total",
			Help: "Retried calls against external services.",
		}, []string{"service"}),
		SyncFilesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_sync_files_total",
			Help: "Files touched by folder synchronization, by action.",
		}, []string{"action"}),
	}

	reg.MustRegister(
		m.JobsProcessed,
		m.JobDuration,
		m.SearchDuration,
		m.ChatIterations,
		m.ExternalRetries,
		m.SyncFilesTotal,
	)
	return m
}

// NewNop creates unregistered collectors for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
