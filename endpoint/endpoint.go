// Package endpoint defines the boundary between the connection manager and the
// components it wires together: port descriptors, the compatibility predicate,
// and the callbacks an endpoint exposes.
package endpoint

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/c360/semlink/errors"
)

// Endpoint is a component that can exchange messages over connections.
//
// OnConnect is called once per side every time one of the endpoint's ports is
// connected. It returns the handler that receives messages arriving over conn.
// Returning a nil handler with a nil error declines the link. OnConnect is
// never called while the manager holds its lock, so it may call back into the
// manager.
type Endpoint interface {
	OnConnect(conn Connection) (MessageHandler, error)
}

// MessageHandler receives the messages sent by the peer of a connection.
// Calls are serialized per handler and arrive in send order. Disconnected is
// the last call a handler ever receives for its connection.
type MessageHandler interface {
	HandleMessage(msg any)
	Disconnected()
}

// Connection is one side of a live link, handed to OnConnect
type Connection interface {
	// ID returns the id of the potential connection this link belongs to
	ID() string
	// LocalPort returns the descriptor of the port this side is attached to
	LocalPort() Port
	// Peer identifies the port on the other side
	Peer() PortRef
	// SendMessage queues msg for delivery to the peer's handler. It never blocks.
	SendMessage(msg any) error
	// IsConnected reports false once the link has been torn down
	IsConnected() bool
}

// Typed lets a message name its own type for port matching and listener filters
type Typed interface {
	MessageType() string
}

// TypeOf returns the message type used for filtering
func TypeOf(msg any) string {
	if t, ok := msg.(Typed); ok {
		return t.MessageType()
	}
	return fmt.Sprintf("%T", msg)
}

// HandlerFuncs adapts plain functions to MessageHandler. Nil fields are no-ops.
type HandlerFuncs struct {
	OnMessage      func(msg any)
	OnDisconnected func()
}

// HandleMessage implements MessageHandler
func (h HandlerFuncs) HandleMessage(msg any) {
	if h.OnMessage != nil {
		h.OnMessage(msg)
	}
}

// Disconnected implements MessageHandler
func (h HandlerFuncs) Disconnected() {
	if h.OnDisconnected != nil {
		h.OnDisconnected()
	}
}

// EndpointFunc adapts a function to Endpoint
type EndpointFunc func(conn Connection) (MessageHandler, error)

// OnConnect implements Endpoint
func (f EndpointFunc) OnConnect(conn Connection) (MessageHandler, error) {
	return f(conn)
}

// PortRef names a port on a specific endpoint
type PortRef struct {
	PID  string `json:"pid"  yaml:"pid"`
	Port string `json:"port" yaml:"port"`
}

// String renders the reference as "pid/port"
func (r PortRef) String() string {
	return r.PID + "/" + r.Port
}

// ParsePortRef parses "pid/port"
func ParsePortRef(s string) (PortRef, error) {
	pid, port, ok := strings.Cut(s, "/")
	if !ok || pid == "" || port == "" || strings.Contains(port, "/") {
		return PortRef{}, errors.WrapInvalid(
			fmt.Errorf("%w: %q is not of the form pid/port", errors.ErrInvalidData, s),
			"PortRef", "Parse", "format check")
	}
	return PortRef{PID: pid, Port: port}, nil
}

// ValidatePID rejects ids that would make "pid/port" references or
// potential connection ids ambiguous.
func ValidatePID(pid string) error {
	if pid == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registration", "Validate", "pid check")
	}
	if strings.ContainsAny(pid, "/|") || strings.IndexFunc(pid, unicode.IsSpace) >= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: pid %q contains '/', '|' or whitespace", errors.ErrInvalidConfig, pid),
			"Registration", "Validate", "pid check")
	}
	return nil
}

// Registration is what the host runtime hands to the manager when an endpoint
// appears: its persistent id, the ports it declares, and the callback target.
type Registration struct {
	PID      string
	Ports    []Port
	Endpoint Endpoint
}

// Validate checks the registration and its ports
func (r Registration) Validate() error {
	if err := ValidatePID(r.PID); err != nil {
		return err
	}
	if r.Endpoint == nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: endpoint %s has no callback target", errors.ErrInvalidConfig, r.PID),
			"Registration", "Validate", "endpoint check")
	}
	seen := make(map[string]bool, len(r.Ports))
	for _, p := range r.Ports {
		if err := p.Validate(); err != nil {
			return errors.Wrap(err, "Registration", "Validate", "port "+p.Name)
		}
		if seen[p.Name] {
			return errors.WrapInvalid(
				fmt.Errorf("%w: endpoint %s declares port %s twice", errors.ErrInvalidPort, r.PID, p.Name),
				"Registration", "Validate", "duplicate port check")
		}
		seen[p.Name] = true
	}
	return nil
}

// SortedPorts returns a copy of the ports ordered by name
func (r Registration) SortedPorts() []Port {
	ports := make([]Port, 0, len(r.Ports))
	for _, p := range r.Ports {
		ports = append(ports, p.Clone())
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
	return ports
}
