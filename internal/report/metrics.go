package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of one crawl run. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	candidates      *prometheus.CounterVec
	created         prometheus.Counter
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	heroBytes       prometheus.Counter
	lastRun         prometheus.Gauge
}

// NewMetrics registers the crawler collectors on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syscrawl",
			Name:      "candidates_total",
			Help:      "Candidates handled by the writer, by outcome.",
		}, []string{"status"}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syscrawl",
			Name:      "systems_created_total",
			Help:      "Game systems inserted by the crawler.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syscrawl",
			Name:      "bgg_requests_total",
			Help:      "HTTP requests made to BoardGameGeek, by endpoint and status code.",
		}, []string{"endpoint", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "syscrawl",
			Name:      "bgg_request_duration_seconds",
			Help:      "Latency of BoardGameGeek requests.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"endpoint"}),
		heroBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syscrawl",
			Name:      "hero_image_bytes_total",
			Help:      "Bytes of hero images uploaded.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "syscrawl",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last crawl run finished.",
		}),
	}
	m.registry.MustRegister(m.candidates, m.created, m.requests, m.requestDuration, m.heroBytes, m.lastRun)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records one HTTP exchange. Its signature matches bgg.RequestObserver.
func (m *Metrics) ObserveRequest(endpoint string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.requests.WithLabelValues(endpoint, code).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// RecordOutcome counts one writer outcome
func (m *Metrics) RecordOutcome(status string, created bool) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues(status).Inc()
	if created {
		m.created.Inc()
	}
}

// AddHeroBytes counts uploaded image bytes
func (m *Metrics) AddHeroBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.heroBytes.Add(float64(n))
}

// MarkRunFinished stamps the completion time
func (m *Metrics) MarkRunFinished(t time.Time) {
	if m == nil {
		return
	}
	m.lastRun.Set(float64(t.Unix()))
}

// WriteTextfile writes the registry in the node-exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
