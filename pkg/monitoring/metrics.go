package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector handles Prometheus metrics collection. A nil collector is
// valid and records nothing.
type MetricsCollector struct {
	serviceName string
	registry    *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	operationsTotal        *prometheus.CounterVec
	operationDuration      *prometheus.HistogramVec
	authorizationDecisions *prometheus.CounterVec
	auditEntriesTotal      *prometheus.CounterVec
	emergencyMode          prometheus.Gauge
	eventsPublished        *prometheus.CounterVec
	eventsDropped          *prometheus.CounterVec
}

// NewMetricsCollector creates a collector with its own registry
func NewMetricsCollector(serviceName string) *MetricsCollector {
	constLabels := prometheus.Labels{"service": serviceName}

	m := &MetricsCollector{
		serviceName: serviceName,
		registry:    prometheus.NewRegistry(),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: constLabels,
			},
			[]string{"method", "route", "status_code"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "Duration of HTTP requests in seconds",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: constLabels,
			},
			[]string{"method", "route"},
		),
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "ledger_operations_total",
				Help:        "Total number of ledger operations by outcome",
				ConstLabels: constLabels,
			},
			[]string{"operation", "outcome"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "ledger_operation_duration_seconds",
				Help:        "Duration of ledger operations in seconds",
				Buckets:     []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
				ConstLabels: constLabels,
			},
			[]string{"operation"},
		),
		authorizationDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "ledger_authorization_decisions_total",
				Help:        "Record read decisions by reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		auditEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "ledger_audit_entries_total",
				Help:        "Audit entries appended by action",
				ConstLabels: constLabels,
			},
			[]string{"action"},
		),
		emergencyMode: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "ledger_emergency_mode",
				Help:        "1 while emergency mode is active",
				ConstLabels: constLabels,
			},
		),
		eventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "ledger_events_published_total",
				Help:        "Notifications handed to the bus by type",
				ConstLabels: constLabels,
			},
			[]string{"type"},
		),
		eventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "ledger_events_dropped_total",
				Help:        "Notifications dropped because a consumer was full",
				ConstLabels: constLabels,
			},
			[]string{"consumer"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.operationsTotal,
		m.operationDuration,
		m.authorizationDecisions,
		m.auditEntriesTotal,
		m.emergencyMode,
		m.eventsPublished,
		m.eventsDropped,
	)

	return m
}

// Registry exposes the collector's registry
func (m *MetricsCollector) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordHTTPRequest records HTTP request metrics
func (m *MetricsCollector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordOperation records a ledger operation with its outcome label
func (m *MetricsCollector) RecordOperation(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAuthorization records a record-read decision
func (m *MetricsCollector) RecordAuthorization(reason string) {
	if m == nil {
		return
	}
	m.authorizationDecisions.WithLabelValues(reason).Inc()
}

// RecordAuditEntry records an appended audit entry
func (m *MetricsCollector) RecordAuditEntry(action string) {
	if m == nil {
		return
	}
	m.auditEntriesTotal.WithLabelValues(action).Inc()
}

// SetEmergencyMode mirrors the emergency flag
func (m *MetricsCollector) SetEmergencyMode(active bool) {
	if m == nil {
		return
	}
	if active {
		m.emergencyMode.Set(1)
		return
	}
	m.emergencyMode.Set(0)
}

// RecordEventPublished records a notification handed to the bus
func (m *MetricsCollector) RecordEventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventDropped records a notification a consumer could not take
func (m *MetricsCollector) RecordEventDropped(consumer string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(consumer).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func (m *MetricsCollector) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
