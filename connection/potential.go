package connection

// linkState is the connection state of a potential connection
type linkState int

const (
	stateDisconnected linkState = iota
	// stateConnecting holds both slots while OnConnect callbacks run
	stateConnecting
	stateConnected
)

func (s linkState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// PotentialConnection is a type-compatible pair of ports on different
// endpoints. It exists while both ports exist and is either connected,
// disconnected, or briefly reserved while a connect is in progress.
type PotentialConnection struct {
	m  *Manager
	id string
	// a sorts before b by pid/port
	a, b *EndpointPort

	state   linkState
	attempt *attempt
	link    *link
	removed bool
}

func newPotential(m *Manager, p, q *EndpointPort) *PotentialConnection {
	a, b := p, q
	if b.Ref().String() < a.Ref().String() {
		a, b = b, a
	}
	return &PotentialConnection{m: m, id: potentialID(a.Ref(), b.Ref()), a: a, b: b}
}

// ID returns the stable id "pidA/portA|pidB/portB"
func (pc *PotentialConnection) ID() string {
	return pc.id
}

// Ports returns both ports, ordered by reference
func (pc *PotentialConnection) Ports() (*EndpointPort, *EndpointPort) {
	return pc.a, pc.b
}

// Other returns the port on the opposite side of p, or nil if p is not part of the pair
func (pc *PotentialConnection) Other(p *EndpointPort) *EndpointPort {
	switch p {
	case pc.a:
		return pc.b
	case pc.b:
		return pc.a
	default:
		return nil
	}
}

// IsConnected reports whether a live connection exists
func (pc *PotentialConnection) IsConnected() bool {
	pc.m.mu.RLock()
	defer pc.m.mu.RUnlock()
	return pc.state == stateConnected
}

// IsConnectable reports whether connecting now would keep every SINGLE
// port at one link. A connected pair is not connectable.
func (pc *PotentialConnection) IsConnectable() bool {
	pc.m.mu.RLock()
	defer pc.m.mu.RUnlock()
	return pc.connectableLocked()
}

// ConnectionID returns the id of the live connection, empty when disconnected
func (pc *PotentialConnection) ConnectionID() string {
	pc.m.mu.RLock()
	defer pc.m.mu.RUnlock()
	if pc.link == nil {
		return ""
	}
	return pc.link.id
}

// Connect connects the pair. It is a no-op on a connected pair and fails
// with ErrNotConnectable while another connect of the pair is in progress.
func (pc *PotentialConnection) Connect() error {
	return pc.m.connect(pc, "Connect")
}

// Disconnect tears the connection down. It is a no-op on a disconnected pair.
// Messages already queued are still delivered after Disconnect returns.
func (pc *PotentialConnection) Disconnect() {
	pc.m.disconnect(pc)
}

func (pc *PotentialConnection) String() string {
	return pc.id
}

func (pc *PotentialConnection) connectableLocked() bool {
	return !pc.removed && pc.state == stateDisconnected &&
		pc.a.hasCapacityLocked() && pc.b.hasCapacityLocked()
}

// reserveLocked claims both slots and starts an attempt
func (pc *PotentialConnection) reserveLocked() *attempt {
	pc.state = stateConnecting
	pc.a.occupied++
	pc.b.occupied++
	pc.attempt = &attempt{pc: pc}
	return pc.attempt
}

// releaseLocked gives both slots back
func (pc *PotentialConnection) releaseLocked() {
	pc.state = stateDisconnected
	pc.a.occupied--
	pc.b.occupied--
}
