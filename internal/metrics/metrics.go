// Package metrics provides the Prometheus collectors dbrowse reports.
//
// All methods are safe on a nil *Metrics so components can run without a
// registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the dbrowse collectors.
type Metrics struct {
	QueryDuration   *prometheus.HistogramVec
	QueryErrors     *prometheus.CounterVec
	StaleResults    prometheus.Counter
	OpenConnections *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
// A nil reg creates unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dbrowse_query_duration_seconds",
				Help:    "Adapter call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"engine", "op"},
		),
		QueryErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbrowse_query_errors_total",
				Help: "Total number of failed adapter calls by error kind",
			},
			[]string{"engine", "kind"},
		),
		StaleResults: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dbrowse_stale_results_total",
				Help: "Total number of page results discarded because a newer request superseded them",
			},
		),
		OpenConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dbrowse_open_connections",
				Help: "Number of live connections per engine",
			},
			[]string{"engine"},
		),
	}
}

// ObserveQuery records one adapter call.
func (m *Metrics) ObserveQuery(engine, op string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.QueryDuration.WithLabelValues(engine, op).Observe(elapsed.Seconds())
}

// QueryFailed counts one failed adapter call.
func (m *Metrics) QueryFailed(engine, kind string) {
	if m == nil {
		return
	}
	m.QueryErrors.WithLabelValues(engine, kind).Inc()
}

// StaleDiscarded counts one discarded page result.
func (m *Metrics) StaleDiscarded() {
	if m == nil {
		return
	}
	m.StaleResults.Inc()
}

// ConnectionOpened increments the live connection gauge.
func (m *Metrics) ConnectionOpened(engine string) {
	if m == nil {
		return
	}
	m.OpenConnections.WithLabelValues(engine).Inc()
}

// ConnectionClosed decrements the live connection gauge.
func (m *Metrics) ConnectionClosed(engine string) {
	if m == nil {
		return
	}
	m.OpenConnections.WithLabelValues(engine).Dec()
}
