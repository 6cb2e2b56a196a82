package metric

import "github.com/prometheus/client_golang/prometheus"

// Namespace prefixes every metric exported by semlink
const Namespace = "semlink"

// Metrics are the process-wide gauges and counters. Connection and gateway
// metrics belong to their packages and are registered through RegisterSet.
type Metrics struct {
	ServiceStatus     *prometheus.GaugeVec
	ErrorsTotal       *prometheus.CounterVec
	HealthCheckStatus *prometheus.GaugeVec

	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

func opts(subsystem, name, help string) prometheus.Opts {
	return prometheus.Opts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help}
}

func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts(
			opts("service", "status", "1=starting 2=running 3=stopping 4=failed")), []string{"service"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts(
			opts("errors", "total", "Errors by class")), []string{"service", "class"}),
		HealthCheckStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts(
			opts("health", "status", "0=unhealthy 1=degraded 2=healthy")), []string{"component"}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts(
			opts("nats", "connected", "1 while the NATS connection is up"))),
		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts(
			opts("nats", "reconnects_total", "NATS reconnections"))),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{c.ServiceStatus, c.ErrorsTotal, c.HealthCheckStatus, c.NATSConnected, c.NATSReconnects}
}

func (c *Metrics) RecordServiceStatus(service string, status int) {
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

func (c *Metrics) RecordError(service, class string) {
	c.ErrorsTotal.WithLabelValues(service, class).Inc()
}

func (c *Metrics) RecordHealthStatus(component string, score int) {
	c.HealthCheckStatus.WithLabelValues(component).Set(float64(score))
}

func (c *Metrics) RecordNATSStatus(connected bool) {
	var v float64
	if connected {
		v = 1
	}
	c.NATSConnected.Set(v)
}

func (c *Metrics) RecordNATSReconnect() { c.NATSReconnects.Inc() }
