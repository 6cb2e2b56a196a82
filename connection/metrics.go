package connection

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semlink/errors"
	"github.com/c360/semlink/metric"
)

const metricsService = "connection"

// Metrics are the connection manager's prometheus collectors. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	endpoints            prometheus.Gauge
	potential            prometheus.Gauge
	connectionsActive    prometheus.Gauge
	connectTotal         *prometheus.CounterVec
	disconnectTotal      prometheus.Counter
	pendingRequests      prometheus.Gauge
	pendingResolved      prometheus.Counter
	autoConnectDuration  prometheus.Histogram
	autoConnectConnected prometheus.Counter
	messagesDelivered    prometheus.Counter
	messagesDropped      prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: metric.Namespace, Subsystem: metricsService, Name: name, Help: help})
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: metric.Namespace, Subsystem: metricsService, Name: name, Help: help})
	}

	m := &Metrics{
		endpoints:         gauge("endpoints", "Registered endpoints"),
		potential:         gauge("potential", "Potential connections in the index"),
		connectionsActive: gauge("connections_active", "Live connections"),
		connectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: metricsService,
			Name:      "connect_total",
			Help:      "Connect attempts by result",
		}, []string{"result"}),
		disconnectTotal: counter("disconnect_total", "Connections torn down"),
		pendingRequests: gauge("pending_requests", "Asynchronous requests waiting to resolve"),
		pendingResolved: counter("pending_resolved_total", "Asynchronous requests resolved to a connection"),
		autoConnectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: metricsService,
			Name:      "autoconnect_duration_seconds",
			Help:      "Duration of AutoConnect runs",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		autoConnectConnected: counter("autoconnect_connected_total", "Connections made by AutoConnect"),
		messagesDelivered:    counter("messages_delivered_total", "Messages delivered to handlers"),
		messagesDropped:      counter("messages_dropped_total", "Messages rejected by full delivery queues"),
	}

	err := registry.RegisterSet(metricsService,
		metric.Named{Name: "endpoints", Collector: m.endpoints},
		metric.Named{Name: "potential", Collector: m.potential},
		metric.Named{Name: "connections_active", Collector: m.connectionsActive},
		metric.Named{Name: "connect_total", Collector: m.connectTotal},
		metric.Named{Name: "disconnect_total", Collector: m.disconnectTotal},
		metric.Named{Name: "pending_requests", Collector: m.pendingRequests},
		metric.Named{Name: "pending_resolved_total", Collector: m.pendingResolved},
		metric.Named{Name: "autoconnect_duration_seconds", Collector: m.autoConnectDuration},
		metric.Named{Name: "autoconnect_connected_total", Collector: m.autoConnectConnected},
		metric.Named{Name: "messages_delivered_total", Collector: m.messagesDelivered},
		metric.Named{Name: "messages_dropped_total", Collector: m.messagesDropped},
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) setTopology(endpoints, potential int) {
	if m == nil {
		return
	}
	m.endpoints.Set(float64(endpoints))
	m.potential.Set(float64(potential))
}

// connectResult labels a connect outcome by taxonomy
func (m *Metrics) connectResult(err error) {
	if m == nil {
		return
	}
	m.connectTotal.WithLabelValues(resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "connected"
	case errors.Is(err, errors.ErrUnknownEndpoint), errors.Is(err, errors.ErrUnknownPort):
		return "unknown"
	case errors.Is(err, errors.ErrIncompatible):
		return "incompatible"
	case errors.Is(err, errors.ErrNotConnectable):
		return "not_connectable"
	case errors.Is(err, errors.ErrConnectDeclined):
		return "declined"
	case errors.Is(err, errors.ErrManagerClosed):
		return "closed"
	default:
		return "error"
	}
}

func (m *Metrics) connectionOpened() {
	if m != nil {
		m.connectionsActive.Inc()
	}
}

func (m *Metrics) connectionClosed() {
	if m != nil {
		m.connectionsActive.Dec()
		m.disconnectTotal.Inc()
	}
}

func (m *Metrics) setPending(n int) {
	if m != nil {
		m.pendingRequests.Set(float64(n))
	}
}

func (m *Metrics) requestResolved() {
	if m != nil {
		m.pendingResolved.Inc()
	}
}

func (m *Metrics) autoConnectRun(d time.Duration, connected int) {
	if m == nil {
		return
	}
	m.autoConnectDuration.Observe(d.Seconds())
	m.autoConnectConnected.Add(float64(connected))
}

func (m *Metrics) messageDelivered() {
	if m != nil {
		m.messagesDelivered.Inc()
	}
}

func (m *Metrics) messageDropped() {
	if m != nil {
		m.messagesDropped.Inc()
	}
}
