package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/semlink/endpoint"
	"github.com/c360/semlink/errors"
	"github.com/c360/semlink/events"
	"github.com/c360/semlink/metric"
	"github.com/c360/semlink/pkg/worker"
)

// DefaultQueueSize is the per-handler delivery queue capacity
const DefaultQueueSize = 1024

// Manager owns the endpoint registry, the potential-connection index and
// every connect decision. A single lock serializes all state changes;
// endpoint callbacks always run with it released.
type Manager struct {
	mu      sync.RWMutex
	reg     *registry
	idx     index
	pending *tracker
	closed  bool

	// drain tracks delivery queues that have not finished draining
	drain sync.WaitGroup

	listeners listenerSet

	logger          *slog.Logger
	observers       []events.Observer
	metrics         *Metrics
	deliveryMetrics *worker.Metrics
	queueSize       int
	autoOnRegister  bool
	metricsRegistry *metric.MetricsRegistry
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetricsRegistry registers the manager's metrics with registry
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(m *Manager) {
		m.metricsRegistry = registry
	}
}

// WithObserver adds a topology event observer
func WithObserver(o events.Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observers = append(m.observers, o)
		}
	}
}

// WithQueueSize sets the per-handler delivery queue capacity
func WithQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// WithAutoConnectOnRegister runs AutoConnect after every registration
func WithAutoConnectOnRegister(enabled bool) Option {
	return func(m *Manager) {
		m.autoOnRegister = enabled
	}
}

// NewManager creates an empty manager
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{
		reg:       newRegistry(),
		pending:   newTracker(),
		logger:    slog.Default(),
		queueSize: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "connection-manager")

	if m.metricsRegistry != nil {
		metrics, err := newMetrics(m.metricsRegistry)
		if err != nil {
			return nil, errors.Wrap(err, "Manager", "NewManager", "register metrics")
		}
		delivery, err := worker.NewMetrics(m.metricsRegistry, metricsService, "delivery")
		if err != nil {
			m.metricsRegistry.UnregisterService(metricsService)
			return nil, errors.Wrap(err, "Manager", "NewManager", "register delivery metrics")
		}
		m.metrics = metrics
		m.deliveryMetrics = delivery
	}
	return m, nil
}

// Register adds an endpoint and its ports, computes the new potential
// connections and services pending requests before returning.
func (m *Manager) Register(r endpoint.Registration) error {
	if err := r.Validate(); err != nil {
		return errors.Wrap(err, "Manager", "Register", "validate registration")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrManagerClosed, "Manager", "Register", "register "+r.PID)
	}
	if m.reg.get(r.PID) != nil {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrDuplicateEndpoint, "Manager", "Register", "register "+r.PID)
	}
	ep := m.reg.add(m, r)
	created := m.idx.addEndpoint(m, m.reg, ep)
	m.metrics.setTopology(len(m.reg.endpoints), m.idx.count)

	ev := events.New(events.KindEndpointRegistered)
	ev.PID = r.PID
	m.mu.Unlock()

	m.logger.Info("Endpoint registered", "pid", r.PID, "ports", len(r.Ports), "potential", len(created))
	m.emit(ev)

	m.servicePending()
	if m.autoOnRegister {
		m.AutoConnect()
	}
	return nil
}

// Deregister removes an endpoint. Every connection touching its ports is
// disconnected and its potential connections are evicted. Pending requests
// naming it stay waiting for a re-registration under the same pid.
func (m *Manager) Deregister(pid string) error {
	m.mu.Lock()
	ep := m.reg.remove(pid)
	if ep == nil {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrUnknownEndpoint, "Manager", "Deregister", "deregister "+pid)
	}

	var links []*link
	var evs []events.Event
	for _, pc := range m.idx.removeEndpoint(ep) {
		if pc.state == stateConnected {
			l, ev := m.teardownLocked(pc)
			links = append(links, l)
			evs = append(evs, ev)
		}
	}
	m.metrics.setTopology(len(m.reg.endpoints), m.idx.count)

	ev := events.New(events.KindEndpointDeregistered)
	ev.PID = pid
	evs = append(evs, ev)
	m.mu.Unlock()

	closeLinks(links)
	m.logger.Info("Endpoint deregistered", "pid", pid, "disconnected", len(links))
	m.emit(evs...)

	m.servicePending()
	return nil
}

// Endpoint returns the registered endpoint or nil
func (m *Manager) Endpoint(pid string) *ManagedEndpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reg.get(pid)
}

// Endpoints returns every registered endpoint sorted by pid
func (m *Manager) Endpoints() []*ManagedEndpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reg.sorted()
}

// PotentialConnection finds a potential connection by id across the registry
func (m *Manager) PotentialConnection(id string) *PotentialConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ep := range m.reg.endpoints {
		for _, p := range ep.ports {
			if pc, ok := p.potentials[id]; ok {
				return pc
			}
		}
	}
	return nil
}

// ConnectEndpointPorts connects two ports synchronously and returns their
// potential connection. Connecting an already connected pair is a no-op.
func (m *Manager) ConnectEndpointPorts(pid1, port1, pid2, port2 string) (*PotentialConnection, error) {
	const op = "ConnectEndpointPorts"

	m.mu.Lock()
	pc, err := m.resolveLocked(op, endpoint.PortRef{PID: pid1, Port: port1}, endpoint.PortRef{PID: pid2, Port: port2})
	m.mu.Unlock()
	if err != nil {
		m.metrics.connectResult(err)
		return nil, err
	}
	if err := m.connect(pc, op); err != nil {
		return nil, err
	}
	return pc, nil
}

func (m *Manager) resolveLocked(op string, r1, r2 endpoint.PortRef) (*PotentialConnection, error) {
	if m.closed {
		return nil, errors.WrapInvalid(errors.ErrManagerClosed, "Manager", op, "resolve ports")
	}
	p1, err := m.resolvePortLocked(op, r1)
	if err != nil {
		return nil, err
	}
	p2, err := m.resolvePortLocked(op, r2)
	if err != nil {
		return nil, err
	}
	pc := m.idx.lookup(p1, p2)
	if pc == nil {
		return nil, errors.WrapInvalid(errors.ErrIncompatible, "Manager", op,
			fmt.Sprintf("pair %s with %s", r1, r2))
	}
	return pc, nil
}

func (m *Manager) resolvePortLocked(op string, ref endpoint.PortRef) (*EndpointPort, error) {
	ep, p := m.reg.resolve(ref)
	if ep == nil {
		return nil, errors.WrapInvalid(errors.ErrUnknownEndpoint, "Manager", op, "resolve endpoint "+ref.PID)
	}
	if p == nil {
		return nil, errors.WrapInvalid(errors.ErrUnknownPort, "Manager", op, "resolve port "+ref.String())
	}
	return p, nil
}

// connect reserves pc, runs both OnConnect callbacks unlocked and finalizes
func (m *Manager) connect(pc *PotentialConnection, method string) error {
	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrManagerClosed, "Manager", method, "connect "+pc.id)
	case pc.removed:
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrUnknownEndpoint, "Manager", method, "connect "+pc.id)
	case pc.state == stateConnected:
		m.mu.Unlock()
		return nil
	case !pc.connectableLocked():
		// A pair whose connect is in progress already holds its slots
		m.mu.Unlock()
		err := errors.WrapInvalid(errors.ErrNotConnectable, "Manager", method, "connect "+pc.id)
		m.metrics.connectResult(err)
		return err
	}
	att := pc.reserveLocked()
	m.mu.Unlock()

	err := m.complete(att)
	m.servicePending()
	return err
}

// complete runs the callbacks of a reserved attempt and finalizes it.
// It must be called without the lock.
func (m *Manager) complete(att *attempt) error {
	pc := att.pc
	linkID := uuid.NewString()
	ha, hb := newHalves(m, pc, linkID)

	handlerA, err := callOnConnect(pc.a, ha)
	var handlerB endpoint.MessageHandler
	if err == nil {
		handlerB, err = callOnConnect(pc.b, hb)
		if err != nil {
			m.safeDisconnected(pc.a, handlerA)
		}
	}

	m.mu.Lock()
	// The topology may have changed while the callbacks ran
	abandoned := false
	if err == nil {
		switch {
		case m.closed:
			err = errors.WrapInvalid(errors.ErrManagerClosed, "Manager", "connect", "finalize "+pc.id)
		case pc.removed:
			err = errors.WrapInvalid(errors.ErrUnknownEndpoint, "Manager", "connect", "finalize "+pc.id)
		}
		abandoned = err != nil
	}

	var evs []events.Event
	if err != nil {
		pc.releaseLocked()
		m.pending.attemptFailedLocked(att)
	} else {
		ha.open(handlerA)
		hb.open(handlerB)
		ha.connected.Store(true)
		hb.connected.Store(true)
		pc.link = &link{id: linkID, halves: [2]*halfConn{ha, hb}}
		pc.state = stateConnected
		m.metrics.connectionOpened()

		ev := events.New(events.KindConnected)
		ev.PID, ev.Port = pc.a.PID(), pc.a.Name()
		ev.PeerPID, ev.PeerPort = pc.b.PID(), pc.b.Name()
		ev.ConnectionID = linkID
		evs = append([]events.Event{ev}, m.pending.attemptSucceededLocked(att)...)
	}
	pc.attempt = nil
	m.metrics.setPending(m.pending.waiting())
	m.mu.Unlock()

	if abandoned {
		m.safeDisconnected(pc.a, handlerA)
		m.safeDisconnected(pc.b, handlerB)
	}
	m.metrics.connectResult(err)
	if err != nil {
		if errors.Is(err, errors.ErrConnectDeclined) {
			m.logger.Warn("Connect declined", "connection", pc.id, "error", err)
		} else {
			m.logger.Debug("Connect failed", "connection", pc.id, "error", err)
		}
	} else {
		m.logger.Debug("Connected", "connection", pc.id, "link", linkID)
	}
	m.emit(evs...)
	return err
}

func (m *Manager) disconnect(pc *PotentialConnection) {
	m.mu.Lock()
	if pc.state != stateConnected {
		m.mu.Unlock()
		return
	}
	l, ev := m.teardownLocked(pc)
	m.mu.Unlock()

	closeLinks([]*link{l})
	m.logger.Debug("Disconnected", "connection", pc.id, "link", l.id)
	m.emit(ev)

	m.servicePending()
}

// teardownLocked marks pc disconnected and detaches its link. The caller
// closes the link after releasing the lock.
func (m *Manager) teardownLocked(pc *PotentialConnection) (*link, events.Event) {
	l := pc.link
	pc.link = nil
	pc.releaseLocked()
	for _, h := range l.halves {
		h.connected.Store(false)
	}
	m.metrics.connectionClosed()

	ev := events.New(events.KindDisconnected)
	ev.PID, ev.Port = pc.a.PID(), pc.a.Name()
	ev.PeerPID, ev.PeerPort = pc.b.PID(), pc.b.Name()
	ev.ConnectionID = l.id
	return l, ev
}

func closeLinks(links []*link) {
	for _, l := range links {
		for _, h := range l.halves {
			h.close()
		}
	}
}

func (m *Manager) emit(evs ...events.Event) {
	for _, ev := range evs {
		for _, o := range m.observers {
			o.Observe(ev)
		}
	}
}

// Stats is a point-in-time summary of the manager
type Stats struct {
	Endpoints     int           `json:"endpoints"`
	Ports         int           `json:"ports"`
	Potential     int           `json:"potential"`
	Connected     int           `json:"connected"`
	Pending       int           `json:"pending"`
	OldestPending time.Duration `json:"oldest_pending"`
	Closed        bool          `json:"closed"`
}

// Stats returns counts across the registry
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		Endpoints: len(m.reg.endpoints),
		Ports:     m.reg.ports,
		Potential: m.idx.count,
		Pending:   m.pending.waiting(),
		Closed:    m.closed,
	}
	for _, ep := range m.reg.endpoints {
		for _, p := range ep.ports {
			for _, pc := range p.potentials {
				// each pair is seen from both ports
				if pc.state == stateConnected && pc.a == p {
					s.Connected++
				}
			}
		}
	}
	if oldest, ok := m.pending.oldest(); ok {
		s.OldestPending = time.Since(oldest)
	}
	return s
}

// Close disconnects everything, cancels every pending request and waits
// for delivery queues to drain or ctx to end. Later registrations fail
// with ErrManagerClosed.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true

	var links []*link
	var evs []events.Event
	for _, ep := range m.reg.sorted() {
		for _, p := range ep.Ports() {
			for _, pc := range p.sortedPotentialsLocked() {
				if pc.state == stateConnected && pc.a == p {
					l, ev := m.teardownLocked(pc)
					links = append(links, l)
					evs = append(evs, ev)
				}
			}
		}
	}
	evs = append(evs, m.pending.cancelAllLocked()...)
	m.metrics.setPending(m.pending.waiting())
	m.mu.Unlock()

	closeLinks(links)
	m.emit(evs...)
	m.logger.Info("Connection manager closed", "disconnected", len(links))

	drained := make(chan struct{})
	go func() {
		m.drain.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Manager", "Close", "wait for delivery queues")
	}
}
