// Package metrics exposes ingest counters to Prometheus and to the
// /api/stats summary.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendant/simple-image-forensics/pkg/pipeline"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Stats is the summary served by /api/stats.
type Stats struct {
	TotalRequests         int64   `json:"total_requests"`
	SuccessCount          int64   `json:"success_count"`
	FailureCount          int64   `json:"failure_count"`
	AverageProcessingTime float64 `json:"average_processing_time"`
}

// Metrics owns a private registry so tests and multiple servers do not
// collide on the default one.
type Metrics struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	fallbacks *prometheus.CounterVec

	mu        sync.Mutex
	total     int64
	succeeded int64
	failed    int64
	elapsed   time.Duration
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_requests_total",
			Help: "Image ingest requests by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_duration_seconds",
			Help:    "Wall time of image ingests.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thumbnail_fallback_total",
			Help: "Thumbnails encoded in a substitute format.",
		}, []string{"tier", "source_format"}),
	}

	m.registry.MustRegister(
		m.requests,
		m.duration,
		m.fallbacks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveIngest records one finished upload.
func (m *Metrics) ObserveIngest(outcome string, d time.Duration) {
	m.requests.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(d.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	m.elapsed += d
	if outcome == OutcomeSuccess {
		m.succeeded++
	} else {
		m.failed++
	}
}

// ObserveFallback matches thumbnail.FallbackFunc.
func (m *Metrics) ObserveFallback(tier pipeline.Tier, sourceFormat, _ string) {
	m.fallbacks.WithLabelValues(string(tier), sourceFormat).Inc()
}

// Snapshot returns the current summary. The average divides the time of
// every request by the number of successful ones, and is 0 before the first
// success.
func (m *Metrics) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		TotalRequests: m.total,
		SuccessCount:  m.succeeded,
		FailureCount:  m.failed,
	}
	if m.succeeded > 0 {
		s.AverageProcessingTime = m.elapsed.Seconds() / float64(m.succeeded)
	}
	return s
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
