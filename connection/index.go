package connection

import (
	"github.com/c360/semlink/endpoint"
)

// potentialID is the stable id of the pair, independent of argument order
func potentialID(a, b endpoint.PortRef) string {
	as, bs := a.String(), b.String()
	if bs < as {
		as, bs = bs, as
	}
	return as + "|" + bs
}

// index maintains the potential connections between compatible ports of
// different endpoints. It only tracks which pairs can talk; the manager owns
// their connection state.
type index struct {
	count int
}

// addEndpoint pairs every port of ep with every compatible port already known
func (ix *index) addEndpoint(m *Manager, reg *registry, ep *ManagedEndpoint) []*PotentialConnection {
	var created []*PotentialConnection
	for _, other := range reg.sorted() {
		if other == ep {
			continue
		}
		for _, p := range ep.Ports() {
			for _, q := range other.Ports() {
				if !endpoint.Compatible(p.desc, q.desc) {
					continue
				}
				pc := newPotential(m, p, q)
				p.potentials[pc.id] = pc
				q.potentials[pc.id] = pc
				created = append(created, pc)
				ix.count++
			}
		}
	}
	return created
}

// removeEndpoint evicts every potential connection touching ep's ports
// and returns them. The caller tears down the connected ones.
func (ix *index) removeEndpoint(ep *ManagedEndpoint) []*PotentialConnection {
	var removed []*PotentialConnection
	for _, p := range ep.Ports() {
		for _, pc := range p.sortedPotentialsLocked() {
			other := pc.Other(p)
			delete(other.potentials, pc.id)
			delete(p.potentials, pc.id)
			pc.removed = true
			removed = append(removed, pc)
			ix.count--
		}
	}
	return removed
}

// lookup returns the potential connection between two ports, or nil
func (ix *index) lookup(a, b *EndpointPort) *PotentialConnection {
	return a.potentials[potentialID(a.Ref(), b.Ref())]
}
