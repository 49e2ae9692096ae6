// Package monitoring provides Prometheus-based metrics for the engine:
// facade HTTP traffic, package installs, transform cache behavior, bridge
// correlation table depth, and virtual-server request handling.
//
// Metrics register against an explicit prometheus.Registry owned by the
// Metrics value, so repeated construction in tests never collides.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all engine metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Facade HTTP traffic
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Package installer
	InstallsTotal   *prometheus.CounterVec
	InstallDuration prometheus.Histogram

	// Transform pipeline
	TransformsTotal   *prometheus.CounterVec
	TransformFallback prometheus.Counter
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter

	// Network bridge
	CorrelationsOpen     prometheus.Gauge
	CorrelationsResolved *prometheus.CounterVec
	BridgeConnections    prometheus.Gauge

	// Virtual dev servers
	VirtualRequests *prometheus.CounterVec
	ServersListening prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates a metrics collector backed by its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glassbox_http_requests_total",
				Help: "Total facade HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "glassbox_http_request_duration_seconds",
				Help:    "Facade HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		InstallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glassbox_installs_total",
				Help: "Package install attempts by outcome",
			},
			[]string{"outcome"},
		),
		InstallDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "glassbox_install_duration_seconds",
				Help:    "Package install duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		TransformsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glassbox_transforms_total",
				Help: "Transform pass executions by pass and strategy",
			},
			[]string{"pass", "strategy"},
		),
		TransformFallback: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "glassbox_transform_fallback_total",
				Help: "Transform passes that fell back to pattern substitution",
			},
		),
		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "glassbox_transform_cache_hits_total",
				Help: "Transform cache hits",
			},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "glassbox_transform_cache_misses_total",
				Help: "Transform cache misses",
			},
		),
		CorrelationsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "glassbox_bridge_correlations_open",
				Help: "Pending bridge correlations",
			},
		),
		CorrelationsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glassbox_bridge_correlations_resolved_total",
				Help: "Resolved bridge correlations by outcome",
			},
			[]string{"outcome"},
		),
		BridgeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "glassbox_bridge_connections",
				Help: "Active bridge channel connections",
			},
		),
		VirtualRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glassbox_virtual_requests_total",
				Help: "Requests handled by virtual dev servers",
			},
			[]string{"port", "status"},
		),
		ServersListening: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "glassbox_servers_listening",
				Help: "Virtual servers currently listening",
			},
		),
	}

	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration,
		m.InstallsTotal, m.InstallDuration,
		m.TransformsTotal, m.TransformFallback, m.CacheHits, m.CacheMisses,
		m.CorrelationsOpen, m.CorrelationsResolved, m.BridgeConnections,
		m.VirtualRequests, m.ServersListening,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Uptime reports time since construction.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
