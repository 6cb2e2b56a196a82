package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semlink/errors"
	"github.com/c360/semlink/metric"
)

const metricsService = "gateway"

type gatewayMetrics struct {
	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	wsClients  prometheus.Gauge
	wsSent     prometheus.Counter
	wsDropped  prometheus.Counter
	registry   *metric.MetricsRegistry
	registered bool
}

func newGatewayMetrics(registry *metric.MetricsRegistry) (*gatewayMetrics, error) {
	m := &gatewayMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: metricsService,
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: metricsService,
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: metricsService,
			Name:      "event_clients",
			Help:      "Connected event stream clients",
		}),
		wsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: metricsService,
			Name:      "events_sent_total",
			Help:      "Events written to stream clients",
		}),
		wsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: metricsService,
			Name:      "events_dropped_total",
			Help:      "Events a slow stream client missed",
		}),
	}
	if registry == nil {
		return m, nil
	}

	err := registry.RegisterSet(metricsService,
		metric.Named{Name: "requests_total", Collector: m.requests},
		metric.Named{Name: "request_duration_seconds", Collector: m.duration},
		metric.Named{Name: "event_clients", Collector: m.wsClients},
		metric.Named{Name: "events_sent_total", Collector: m.wsSent},
		metric.Named{Name: "events_dropped_total", Collector: m.wsDropped},
	)
	if err != nil {
		return nil, errors.Wrap(err, "Server", "NewServer", "register metrics")
	}
	m.registry = registry
	m.registered = true
	return m, nil
}

func (m *gatewayMetrics) unregister() {
	if m.registered {
		m.registry.UnregisterService(metricsService)
		m.registered = false
	}
}
