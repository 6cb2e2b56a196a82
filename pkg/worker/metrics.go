package worker

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semlink/metric"
)

// Metrics are shared by every pool or queue built with the same prefix.
// Queues are created per live connection, so they must not register
// collectors of their own.
type Metrics struct {
	queueDepth     prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// NewMetrics creates the collectors named <prefix>_* and registers them
// under service. A nil registry yields nil metrics, which every caller
// accepts.
func NewMetrics(registry *metric.MetricsRegistry, service, prefix string) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Name:      prefix + "_queue_depth",
			Help:      "Items waiting in delivery queues",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Name:      prefix + "_submitted_total",
			Help:      "Total items submitted",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Name:      prefix + "_processed_total",
			Help:      "Total items processed",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Name:      prefix + "_failed_total",
			Help:      "Total items whose processing failed or panicked",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Name:      prefix + "_dropped_total",
			Help:      "Total items rejected because the queue was full",
		}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Name:      prefix + "_processing_duration_seconds",
			Help:      "Time spent processing items",
			Buckets:   []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}, []string{"status"}),
	}

	err := registry.RegisterSet(service,
		metric.Named{Name: prefix + "_queue_depth", Collector: m.queueDepth},
		metric.Named{Name: prefix + "_submitted_total", Collector: m.submitted},
		metric.Named{Name: prefix + "_processed_total", Collector: m.processed},
		metric.Named{Name: prefix + "_failed_total", Collector: m.failed},
		metric.Named{Name: prefix + "_dropped_total", Collector: m.dropped},
		metric.Named{Name: prefix + "_processing_duration_seconds", Collector: m.processingTime},
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) onSubmit() {
	if m != nil {
		m.submitted.Inc()
		m.queueDepth.Inc()
	}
}

func (m *Metrics) onDrop() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) onProcessed(seconds float64, ok bool) {
	if m == nil {
		return
	}
	m.queueDepth.Dec()
	m.processed.Inc()
	status := "success"
	if !ok {
		m.failed.Inc()
		status = "error"
	}
	m.processingTime.WithLabelValues(status).Observe(seconds)
}

// onDiscard accounts for items removed from a queue without processing
func (m *Metrics) onDiscard(n int) {
	if m != nil && n > 0 {
		m.queueDepth.Sub(float64(n))
	}
}
