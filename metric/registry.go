package metric

import (
	stderrors "errors"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/semlink/errors"
)

// Named pairs a collector with the name its owner registers it under.
type Named struct {
	Name      string
	Collector prometheus.Collector
}

// MetricsRegistry owns the Prometheus registry. Collectors are tracked per
// owning service under "service.metric" so an owner can drop its own set on
// shutdown.
type MetricsRegistry struct {
	prom *prometheus.Registry
	core *Metrics

	mu    sync.Mutex
	owned map[string]prometheus.Collector
}

// NewMetricsRegistry returns a registry carrying the core metrics plus the Go
// runtime and process collectors.
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prom:  prometheus.NewRegistry(),
		core:  NewMetrics(),
		owned: make(map[string]prometheus.Collector),
	}
	r.prom.MustRegister(r.core.collectors()...)
	r.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry { return r.prom }

func (r *MetricsRegistry) CoreMetrics() *Metrics { return r.core }

// Register adds one collector for service.
func (r *MetricsRegistry) Register(service, name string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(service, name, c)
}

// RegisterSet registers every collector or none of them.
func (r *MetricsRegistry) RegisterSet(service string, set ...Named) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, n := range set {
		if err := r.registerLocked(service, n.Name, n.Collector); err != nil {
			for _, done := range set[:i] {
				r.unregisterLocked(service, done.Name)
			}
			return err
		}
	}
	return nil
}

func (r *MetricsRegistry) registerLocked(service, name string, c prometheus.Collector) error {
	key := service + "." + name
	if _, taken := r.owned[key]; taken {
		return errors.WrapInvalid(fmt.Errorf("%s already registered", key),
			"MetricsRegistry", "Register", "duplicate metric")
	}

	if err := r.prom.Register(c); err != nil {
		var dup prometheus.AlreadyRegisteredError
		if stderrors.As(err, &dup) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register", "prometheus conflict for "+key)
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register", "register "+key)
	}
	r.owned[key] = c
	return nil
}

// Unregister removes one collector and reports whether it was present.
func (r *MetricsRegistry) Unregister(service, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unregisterLocked(service, name)
}

func (r *MetricsRegistry) unregisterLocked(service, name string) bool {
	key := service + "." + name
	c, ok := r.owned[key]
	if !ok || !r.prom.Unregister(c) {
		return false
	}
	delete(r.owned, key)
	return true
}

// UnregisterService drops every collector owned by service and returns the
// count removed.
func (r *MetricsRegistry) UnregisterService(service string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key := range r.owned {
		name, ok := strings.CutPrefix(key, service+".")
		if ok && name != "" && r.unregisterLocked(service, name) {
			removed++
		}
	}
	return removed
}
