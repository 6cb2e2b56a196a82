package connection

import (
	"sort"

	"github.com/c360/semlink/endpoint"
)

// ManagedEndpoint is the manager's view of a registered endpoint
type ManagedEndpoint struct {
	pid      string
	endpoint endpoint.Endpoint
	ports    map[string]*EndpointPort
	names    []string // sorted port names
}

// PID returns the endpoint's persistent id
func (e *ManagedEndpoint) PID() string {
	return e.pid
}

// Endpoint returns the callback target supplied at registration
func (e *ManagedEndpoint) Endpoint() endpoint.Endpoint {
	return e.endpoint
}

// Port returns the named port or nil
func (e *ManagedEndpoint) Port(name string) *EndpointPort {
	return e.ports[name]
}

// Ports returns the endpoint's ports sorted by name
func (e *ManagedEndpoint) Ports() []*EndpointPort {
	out := make([]*EndpointPort, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, e.ports[name])
	}
	return out
}

// EndpointPort is one port of a managed endpoint together with the
// potential connections it takes part in. The descriptor is immutable; the
// connection state is guarded by the manager.
type EndpointPort struct {
	m     *Manager
	owner *ManagedEndpoint
	desc  endpoint.Port

	potentials map[string]*PotentialConnection
	// occupied counts potential connections that are connected or reserved
	occupied int
	removed  bool
}

// Endpoint returns the owning endpoint
func (p *EndpointPort) Endpoint() *ManagedEndpoint {
	return p.owner
}

// PID returns the owning endpoint's pid
func (p *EndpointPort) PID() string {
	return p.owner.pid
}

// Name returns the port name
func (p *EndpointPort) Name() string {
	return p.desc.Name
}

// Cardinality returns the port cardinality
func (p *EndpointPort) Cardinality() endpoint.Cardinality {
	return p.desc.Cardinality
}

// Descriptor returns a copy of the port descriptor
func (p *EndpointPort) Descriptor() endpoint.Port {
	return p.desc.Clone()
}

// Ref returns the pid/port reference
func (p *EndpointPort) Ref() endpoint.PortRef {
	return endpoint.PortRef{PID: p.owner.pid, Port: p.desc.Name}
}

func (p *EndpointPort) String() string {
	return p.Ref().String()
}

// PotentialConnection returns the potential connection with the given id,
// or nil if the port takes no part in it.
func (p *EndpointPort) PotentialConnection(id string) *PotentialConnection {
	p.m.mu.RLock()
	defer p.m.mu.RUnlock()
	return p.potentials[id]
}

// PotentialConnectionTo returns the potential connection between p and other, or nil
func (p *EndpointPort) PotentialConnectionTo(other *EndpointPort) *PotentialConnection {
	if other == nil {
		return nil
	}
	p.m.mu.RLock()
	defer p.m.mu.RUnlock()
	return p.potentials[potentialID(p.Ref(), other.Ref())]
}

// PotentialConnections returns every potential connection of the port sorted by id
func (p *EndpointPort) PotentialConnections() []*PotentialConnection {
	p.m.mu.RLock()
	defer p.m.mu.RUnlock()
	return p.sortedPotentialsLocked()
}

// IsConnected reports whether any of the port's potential connections is connected
func (p *EndpointPort) IsConnected() bool {
	p.m.mu.RLock()
	defer p.m.mu.RUnlock()
	for _, pc := range p.potentials {
		if pc.state == stateConnected {
			return true
		}
	}
	return false
}

func (p *EndpointPort) sortedPotentialsLocked() []*PotentialConnection {
	out := make([]*PotentialConnection, 0, len(p.potentials))
	for _, pc := range p.potentials {
		out = append(out, pc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// hasCapacityLocked reports whether one more link may be attached
func (p *EndpointPort) hasCapacityLocked() bool {
	return p.desc.Cardinality == endpoint.CardinalityMultiple || p.occupied == 0
}

// registry holds the registered endpoints keyed by pid
type registry struct {
	endpoints map[string]*ManagedEndpoint
	ports     int
}

func newRegistry() *registry {
	return &registry{endpoints: make(map[string]*ManagedEndpoint)}
}

func (r *registry) get(pid string) *ManagedEndpoint {
	return r.endpoints[pid]
}

func (r *registry) add(m *Manager, reg endpoint.Registration) *ManagedEndpoint {
	ep := &ManagedEndpoint{
		pid:      reg.PID,
		endpoint: reg.Endpoint,
		ports:    make(map[string]*EndpointPort, len(reg.Ports)),
	}
	for _, desc := range reg.SortedPorts() {
		ep.ports[desc.Name] = &EndpointPort{
			m:          m,
			owner:      ep,
			desc:       desc,
			potentials: make(map[string]*PotentialConnection),
		}
		ep.names = append(ep.names, desc.Name)
	}
	r.endpoints[reg.PID] = ep
	r.ports += len(ep.names)
	return ep
}

func (r *registry) remove(pid string) *ManagedEndpoint {
	ep, ok := r.endpoints[pid]
	if !ok {
		return nil
	}
	delete(r.endpoints, pid)
	r.ports -= len(ep.names)
	for _, port := range ep.ports {
		port.removed = true
	}
	return ep
}

func (r *registry) sortedPIDs() []string {
	pids := make([]string, 0, len(r.endpoints))
	for pid := range r.endpoints {
		pids = append(pids, pid)
	}
	sort.Strings(pids)
	return pids
}

// sorted returns the endpoints ordered by pid
func (r *registry) sorted() []*ManagedEndpoint {
	out := make([]*ManagedEndpoint, 0, len(r.endpoints))
	for _, pid := range r.sortedPIDs() {
		out = append(out, r.endpoints[pid])
	}
	return out
}

// resolve looks up a port by reference
func (r *registry) resolve(ref endpoint.PortRef) (*ManagedEndpoint, *EndpointPort) {
	ep := r.endpoints[ref.PID]
	if ep == nil {
		return nil, nil
	}
	return ep, ep.ports[ref.Port]
}
