// Package prometheus exports fluxtools metrics: bridge calls, HTTP API
// requests, gateway frames and catalog database queries.
package prometheus

import (
	"database/sql"
	"sync"
	"time"

	"github.com/fluxorio/fluxtools/pkg/envelope"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DefaultRegistry is the registry served on /metrics
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer labels every metric with the service name
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "fluxtools"}, DefaultRegistry)

	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics holds all Prometheus metrics. It implements bridge.Observer.
type Metrics struct {
	// Bridge metrics
	BridgeCallsTotal      *prometheus.CounterVec
	BridgeCallDuration    *prometheus.HistogramVec
	BridgeInFlight        *prometheus.GaugeVec
	BridgeStaleResponses  *prometheus.CounterVec
	BridgeContextFaults   *prometheus.CounterVec
	BridgeContextRestarts *prometheus.CounterVec

	// HTTP request metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Gateway metrics
	GatewayConnections prometheus.Gauge
	GatewayFramesTotal *prometheus.CounterVec

	// Database pool metrics
	DatabaseConnectionsOpen  prometheus.Gauge
	DatabaseConnectionsIdle  prometheus.Gauge
	DatabaseConnectionsInUse prometheus.Gauge
	DatabaseQueryDuration    *prometheus.HistogramVec
}

// GetMetrics returns the global metrics instance, registered on
// DefaultRegistry together with the Go and process collectors.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		DefaultRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = NewMetrics(DefaultRegisterer)
	})
	return metrics
}

// NewMetrics creates a new metrics collection on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}
	f := promauto.With(registerer)
	sizeBuckets := prometheus.ExponentialBuckets(100, 10, 7) // 100B to 100MB

	return &Metrics{
		BridgeCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxtools_bridge_calls_total",
				Help: "Total number of settled bridge calls",
			},
			[]string{"family", "operation", "outcome"},
		),
		BridgeCallDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxtools_bridge_call_duration_seconds",
				Help:    "Time from dispatch to settlement of a bridge call",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"family", "operation"},
		),
		BridgeInFlight: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fluxtools_bridge_calls_in_flight",
				Help: "Number of bridge calls awaiting a response",
			},
			[]string{"family"},
		),
		BridgeStaleResponses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxtools_bridge_stale_responses_total",
				Help: "Responses dropped because no call awaited their correlation id",
			},
			[]string{"family"},
		),
		BridgeContextFaults: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxtools_bridge_context_faults_total",
				Help: "Worker contexts that terminated unexpectedly",
			},
			[]string{"family"},
		),
		BridgeContextRestarts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxtools_bridge_context_restarts_total",
				Help: "Worker contexts restarted after a fault",
			},
			[]string{"family"},
		),

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxtools_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxtools_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxtools_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: sizeBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxtools_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: sizeBuckets,
			},
			[]string{"method", "route", "status"},
		),

		GatewayConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxtools_gateway_connections",
				Help: "Open WebSocket gateway connections",
			},
		),
		GatewayFramesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxtools_gateway_frames_total",
				Help: "WebSocket frames answered by the gateway",
			},
			[]string{"status"},
		),

		DatabaseConnectionsOpen: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxtools_database_connections_open",
				Help: "Number of open database connections",
			},
		),
		DatabaseConnectionsIdle: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxtools_database_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DatabaseConnectionsInUse: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxtools_database_connections_in_use",
				Help: "Number of database connections in use",
			},
		),
		DatabaseQueryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxtools_database_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"}, // migrate, query, exec
		),
	}
}

func (m *Metrics) CallStarted(family envelope.Family, _ envelope.Operation) {
	m.BridgeInFlight.WithLabelValues(string(family)).Inc()
}

func (m *Metrics) CallFinished(family envelope.Family, op envelope.Operation, outcome string, d time.Duration) {
	m.BridgeInFlight.WithLabelValues(string(family)).Dec()
	m.BridgeCallsTotal.WithLabelValues(string(family), string(op), outcome).Inc()
	m.BridgeCallDuration.WithLabelValues(string(family), string(op)).Observe(d.Seconds())
}

func (m *Metrics) StaleResponse(family envelope.Family) {
	m.BridgeStaleResponses.WithLabelValues(string(family)).Inc()
}

func (m *Metrics) ContextFault(family envelope.Family) {
	m.BridgeContextFaults.WithLabelValues(string(family)).Inc()
}

func (m *Metrics) ContextRestart(family envelope.Family) {
	m.BridgeContextRestarts.WithLabelValues(string(family)).Inc()
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration, requestSize, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, route).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, route, status).Observe(float64(responseSize))
}

// GatewayConnected tracks an opened (delta 1) or closed (delta -1) connection.
func (m *Metrics) GatewayConnected(delta int) {
	m.GatewayConnections.Add(float64(delta))
}

// RecordGatewayFrame counts a reply frame by status.
func (m *Metrics) RecordGatewayFrame(status string) {
	m.GatewayFramesTotal.WithLabelValues(status).Inc()
}

// UpdateDatabasePool copies the pool statistics into the gauges.
func (m *Metrics) UpdateDatabasePool(st sql.DBStats) {
	m.DatabaseConnectionsOpen.Set(float64(st.OpenConnections))
	m.DatabaseConnectionsIdle.Set(float64(st.Idle))
	m.DatabaseConnectionsInUse.Set(float64(st.InUse))
}

// RecordDatabaseQuery records a database query metric
func (m *Metrics) RecordDatabaseQuery(operation string, duration time.Duration) {
	m.DatabaseQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
