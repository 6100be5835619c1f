// Package metrics provides Prometheus metrics for the ingestion pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dre"

// Metrics holds all pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	DownloadAttempts  *prometheus.CounterVec
	DownloadBytes     prometheus.Counter
	DownloadDuration  prometheus.Histogram
	RowsMapped        *prometheus.CounterVec
	DimensionsCreated *prometheus.CounterVec
	FactsLoaded       *prometheus.CounterVec
	ChunkDuration     *prometheus.HistogramVec
	Executions        *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram

	registry *prometheus.Registry
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.DownloadAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_attempts_total",
			Help:      "Download attempts by outcome",
		},
		[]string{"outcome"}, // "success", "transient", "fatal"
	)

	m.DownloadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Bytes received from the source system",
		},
	)

	m.DownloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Wall time of a full download including retries",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 240, 420, 900},
		},
	)

	m.RowsMapped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_mapped_total",
			Help:      "Spreadsheet rows by mapping outcome",
		},
		[]string{"outcome"}, // "mapped", "skipped", "invalid"
	)

	m.DimensionsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dimensions_created_total",
			Help:      "Dimension rows created by type",
		},
		[]string{"type"},
	)

	m.FactsLoaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "facts_loaded_total",
			Help:      "Fact rows by load outcome",
		},
		[]string{"outcome"}, // "inserted", "updated", "failed"
	)

	m.ChunkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_duration_seconds",
			Help:      "Time to persist one chunk of facts",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"}, // "bulk", "single"
	)

	m.Executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Pipeline executions by final status",
		},
		[]string{"status"},
	)

	m.ExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "End-to-end pipeline run time",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	m.registry.MustRegister(
		m.DownloadAttempts,
		m.DownloadBytes,
		m.DownloadDuration,
		m.RowsMapped,
		m.DimensionsCreated,
		m.FactsLoaded,
		m.ChunkDuration,
		m.Executions,
		m.ExecutionDuration,
	)
	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Handler returns an HTTP handler for metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// StartServer serves /metrics on addr. It blocks.
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}

func (m *Metrics) RecordDownloadAttempt(outcome string) {
	if m != nil {
		m.DownloadAttempts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) RecordDownload(bytes int64, elapsed time.Duration) {
	if m != nil {
		m.DownloadBytes.Add(float64(bytes))
		m.DownloadDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) RecordRows(outcome string, n int) {
	if m != nil && n > 0 {
		m.RowsMapped.WithLabelValues(outcome).Add(float64(n))
	}
}

func (m *Metrics) RecordDimensionCreated(dimType string) {
	if m != nil {
		m.DimensionsCreated.WithLabelValues(dimType).Inc()
	}
}

func (m *Metrics) RecordFacts(outcome string, n int) {
	if m != nil && n > 0 {
		m.FactsLoaded.WithLabelValues(outcome).Add(float64(n))
	}
}

func (m *Metrics) RecordChunk(mode string, elapsed time.Duration) {
	if m != nil {
		m.ChunkDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) RecordExecution(status string, elapsed time.Duration) {
	if m != nil {
		m.Executions.WithLabelValues(status).Inc()
		m.ExecutionDuration.Observe(elapsed.Seconds())
	}
}
