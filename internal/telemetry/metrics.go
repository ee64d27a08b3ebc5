package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the extraction counters. The CLI has no HTTP listener, so
// the registry is flushed to a node-exporter textfile after each run.
type Metrics struct {
	reg *prometheus.Registry

	extractions *prometheus.CounterVec
	rows        *prometheus.GaugeVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	worker      *prometheus.CounterVec
}

// NewMetrics registers the collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		extractions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "siapxml_extractions_total",
			Help: "Extraction runs by layout and status.",
		}, []string{"layout", "status"}),
		rows: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "siapxml_extraction_rows",
			Help: "Rows stored by the last successful extraction.",
		}, []string{"layout"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "siapxml_extraction_duration_seconds",
			Help:    "Wall time of extraction runs.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"layout"}),
		lastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "siapxml_last_success_timestamp_seconds",
			Help: "Unix time of the last successful extraction.",
		}, []string{"layout"}),
		worker: f.NewCounterVec(prometheus.CounterOpts{
			Name: "siapxml_worker_invocations_total",
			Help: "Worker process invocations by selector and outcome.",
		}, []string{"selector", "outcome"}),
	}
}

// ObserveExtraction records one finished run.
func (m *Metrics) ObserveExtraction(layout, status string, rows int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(layout, status).Inc()
	m.duration.WithLabelValues(layout).Observe(elapsed.Seconds())
	if status == "success" {
		m.rows.WithLabelValues(layout).Set(float64(rows))
		m.lastSuccess.WithLabelValues(layout).SetToCurrentTime()
	}
}

// ObserveWorker counts one worker invocation; outcome is ok, failed or error.
func (m *Metrics) ObserveWorker(selector, outcome string) {
	if m == nil {
		return
	}
	m.worker.WithLabelValues(selector, outcome).Inc()
}

// Gatherer exposes the registry.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.reg }

// WriteTextfile writes the registry in text exposition format. An empty
// path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.reg)
}
