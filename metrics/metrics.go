// Package metrics provides Prometheus metrics for the chat server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the server. It implements
// agent.Observer, conversation.Observer and session.GaugeObserver.
type Metrics struct {
	registry *prometheus.Registry

	// Assistant invocation metrics
	InvocationsTotal   *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec

	// Transcript store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Connection metrics
	ActiveConnections prometheus.Gauge

	ServerStartTime time.Time
}

// New creates all metrics on a private registry, alongside the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:        reg,
		ServerStartTime: time.Now(),
	}

	m.InvocationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aioschat_invocations_total",
			Help: "Total number of assistant invocations by outcome",
		},
		[]string{"outcome"},
	)

	m.InvocationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aioschat_invocation_duration_seconds",
			Help:    "Duration of assistant invocations in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		},
		[]string{"outcome"},
	)

	m.StoreOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aioschat_store_operations_total",
			Help: "Total number of transcript store operations",
		},
		[]string{"operation", "status"},
	)

	m.StoreOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aioschat_store_operation_duration_seconds",
			Help:    "Duration of transcript store operations in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	m.ActiveConnections = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "aioschat_active_connections",
			Help: "Number of live websocket sessions",
		},
	)

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "aioschat_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.ServerStartTime).Seconds() },
	)

	return m
}

// ObserveInvocation records one finished assistant invocation.
func (m *Metrics) ObserveInvocation(outcome string, elapsed time.Duration) {
	m.InvocationsTotal.WithLabelValues(outcome).Inc()
	m.InvocationDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveStoreOp records one transcript store operation.
func (m *Metrics) ObserveStoreOp(op string, err error, elapsed time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StoreOperationsTotal.WithLabelValues(op, status).Inc()
	m.StoreOperationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// SetActiveConnections updates the live connection gauge.
func (m *Metrics) SetActiveConnections(n int) {
	m.ActiveConnections.Set(float64(n))
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
