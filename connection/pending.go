package connection

import (
	"time"

	"github.com/google/uuid"

	"github.com/c360/semlink/endpoint"
	"github.com/c360/semlink/events"
)

// request is the tracker's record of a waiting Future
type request struct {
	future *Future
	// inflight is the connect attempt this request resolves with
	inflight *attempt
}

// tracker keeps waiting requests in arrival order. All methods run under m.mu.
type tracker struct {
	queue []*request
	byID  map[string]*request
}

func newTracker() *tracker {
	return &tracker{byID: make(map[string]*request)}
}

func (t *tracker) add(req *request) {
	t.queue = append(t.queue, req)
	t.byID[req.future.id] = req
}

func (t *tracker) remove(req *request) {
	delete(t.byID, req.future.id)
	for i, r := range t.queue {
		if r == req {
			t.queue = append(t.queue[:i], t.queue[i+1:]...)
			return
		}
	}
}

func (t *tracker) waiting() int {
	return len(t.queue)
}

func (t *tracker) oldest() (time.Time, bool) {
	if len(t.queue) == 0 {
		return time.Time{}, false
	}
	return t.queue[0].future.created, true
}

// snapshot returns the waiting futures in arrival order
func (t *tracker) snapshot() []*Future {
	out := make([]*Future, 0, len(t.queue))
	for _, r := range t.queue {
		out = append(out, r.future)
	}
	return out
}

// serviceLocked walks the waiting requests in order. A request whose pair is
// connected resolves at once; one whose pair is being connected joins that
// attempt; one whose pair is connectable reserves it. The reserved attempts
// are returned for the caller to complete without the lock.
func (t *tracker) serviceLocked(m *Manager, skip map[*request]bool) ([]*attempt, []events.Event) {
	var atts []*attempt
	var evs []events.Event

	for _, req := range append([]*request(nil), t.queue...) {
		if req.inflight != nil || skip[req] {
			continue
		}
		pc, err := m.resolveLocked("AsyncConnectEndpointPorts", req.future.from, req.future.to)
		if err != nil {
			continue
		}
		switch {
		case pc.state == stateConnected:
			evs = append(evs, t.resolveLocked(m, req, pc)...)
		case pc.state == stateConnecting:
			req.inflight = pc.attempt
			pc.attempt.requests = append(pc.attempt.requests, req)
		case pc.connectableLocked():
			att := pc.reserveLocked()
			req.inflight = att
			att.requests = append(att.requests, req)
			atts = append(atts, att)
		}
	}
	return atts, evs
}

func (t *tracker) attemptSucceededLocked(att *attempt) []events.Event {
	var evs []events.Event
	for _, req := range att.requests {
		req.inflight = nil
		evs = append(evs, t.resolveLocked(att.pc.m, req, att.pc)...)
	}
	return evs
}

// attemptFailedLocked returns the attempt's requests to waiting
func (t *tracker) attemptFailedLocked(att *attempt) {
	for _, req := range att.requests {
		req.inflight = nil
	}
}

func (t *tracker) resolveLocked(m *Manager, req *request, pc *PotentialConnection) []events.Event {
	t.remove(req)
	req.future.req = nil
	if !req.future.settle(RequestConnected, pc) {
		return nil
	}
	m.metrics.requestResolved()

	ev := events.New(events.KindRequestResolved)
	ev.RequestID = req.future.id
	ev.PID, ev.Port = req.future.from.PID, req.future.from.Port
	ev.PeerPID, ev.PeerPort = req.future.to.PID, req.future.to.Port
	if pc.link != nil {
		ev.ConnectionID = pc.link.id
	}
	return []events.Event{ev}
}

// cancelLocked settles req cancelled at once. An attempt it had joined
// carries on without it and completes as an ordinary connect.
func (t *tracker) cancelLocked(req *request) []events.Event {
	if att := req.inflight; att != nil {
		for i, r := range att.requests {
			if r == req {
				att.requests = append(att.requests[:i], att.requests[i+1:]...)
				break
			}
		}
		req.inflight = nil
	}
	t.remove(req)
	req.future.req = nil
	if !req.future.settle(RequestCancelled, nil) {
		return nil
	}

	ev := events.New(events.KindRequestCancelled)
	ev.RequestID = req.future.id
	ev.PID, ev.Port = req.future.from.PID, req.future.from.Port
	ev.PeerPID, ev.PeerPort = req.future.to.PID, req.future.to.Port
	return []events.Event{ev}
}

func (t *tracker) cancelAllLocked() []events.Event {
	var evs []events.Event
	for _, req := range append([]*request(nil), t.queue...) {
		evs = append(evs, t.cancelLocked(req)...)
	}
	return evs
}

// AsyncConnectEndpointPorts records a request to connect two ports that may
// not exist yet and returns its Future. The request is serviced before this
// call returns, so a pair that is connectable now is already connected when
// the Future is handed back. Unknown or incompatible ports never fail the
// request; it waits until the topology satisfies it or it is cancelled.
func (m *Manager) AsyncConnectEndpointPorts(pid1, port1, pid2, port2 string) *Future {
	f := &Future{
		m:       m,
		id:      uuid.NewString(),
		from:    endpoint.PortRef{PID: pid1, Port: port1},
		to:      endpoint.PortRef{PID: pid2, Port: port2},
		created: time.Now(),
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		f.settle(RequestCancelled, nil)
		m.mu.Unlock()
		return f
	}
	req := &request{future: f}
	f.req = req
	m.pending.add(req)
	m.metrics.setPending(m.pending.waiting())
	m.mu.Unlock()

	m.logger.Debug("Connect requested", "request", f.id, "from", f.from.String(), "to", f.to.String())
	m.servicePending()
	return f
}

// Request returns a waiting request by id, or nil
func (m *Manager) Request(id string) *Future {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if req, ok := m.pending.byID[id]; ok {
		return req.future
	}
	return nil
}

// Requests returns the waiting requests in arrival order
func (m *Manager) Requests() []*Future {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pending.snapshot()
}

func (m *Manager) cancelRequest(f *Future) {
	m.mu.Lock()
	if f.req == nil {
		m.mu.Unlock()
		return
	}
	evs := m.pending.cancelLocked(f.req)
	m.metrics.setPending(m.pending.waiting())
	m.mu.Unlock()

	if len(evs) > 0 {
		m.logger.Debug("Request cancelled", "request", f.id)
	}
	m.emit(evs...)
}

// servicePending connects every waiting request that has become
// connectable. Requests whose connect failed are left waiting and are not
// retried until the next topology change.
func (m *Manager) servicePending() {
	skip := make(map[*request]bool)
	for {
		m.mu.Lock()
		atts, evs := m.pending.serviceLocked(m, skip)
		m.metrics.setPending(m.pending.waiting())
		m.mu.Unlock()

		m.emit(evs...)
		if len(atts) == 0 {
			return
		}
		for _, att := range atts {
			if err := m.complete(att); err != nil {
				for _, req := range att.requests {
					skip[req] = true
				}
			}
		}
	}
}
