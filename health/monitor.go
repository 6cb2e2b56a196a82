package health

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// Probe reports the current status of one component
type Probe func() Status

// Monitor runs named probes and combines their results. The last result of
// every probe is kept so that callers can inspect it without probing again.
type Monitor struct {
	mu     sync.Mutex
	probes map[string]Probe
	last   map[string]Status
}

// NewMonitor creates a monitor without probes
func NewMonitor() *Monitor {
	return &Monitor{
		probes: make(map[string]Probe),
		last:   make(map[string]Status),
	}
}

// Register adds or replaces the probe for name
func (m *Monitor) Register(name string, p Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[name] = p
}

// Remove drops the probe and its last result
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.probes, name)
	delete(m.last, name)
}

// Names returns the registered probe names in sorted order
func (m *Monitor) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.probes))
	for name := range m.probes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Last returns the result of the most recent Check for name
func (m *Monitor) Last(name string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.last[name]
	return s, ok
}

// Check runs every probe in name order and aggregates the results under
// system. A panicking probe counts as unhealthy.
func (m *Monitor) Check(system string) Status {
	names := m.Names()

	m.mu.Lock()
	probes := make([]Probe, len(names))
	for i, name := range names {
		probes[i] = m.probes[name]
	}
	m.mu.Unlock()

	results := make([]Status, len(names))
	for i, name := range names {
		results[i] = runProbe(name, probes[i])
	}

	m.mu.Lock()
	for i, name := range names {
		if _, ok := m.probes[name]; ok {
			m.last[name] = results[i]
		}
	}
	m.mu.Unlock()

	return Aggregate(system, results)
}

func runProbe(name string, p Probe) (s Status) {
	defer func() {
		if r := recover(); r != nil {
			s = NewUnhealthy(name, "health probe panicked")
		}
	}()
	s = p()
	s.Component = name
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	return s
}

// Aggregate reports the worst of subs. The message names the components
// that are not healthy.
func Aggregate(component string, subs []Status) Status {
	worst := stateHealthy
	var failing []string
	for _, sub := range subs {
		st := stateOf(sub)
		if st != stateHealthy {
			failing = append(failing, sub.Component+" "+sub.Status)
		}
		if st > worst {
			worst = st
		}
	}

	message := "all components healthy"
	if len(failing) > 0 {
		message = strings.Join(failing, ", ")
	}

	s := newStatus(component, worst, message)
	s.SubStatuses = slices.Clone(subs)
	return s
}
