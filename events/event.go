package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind names what happened
type Kind string

// Event kinds
const (
	KindEndpointRegistered   Kind = "endpoint_registered"
	KindEndpointDeregistered Kind = "endpoint_deregistered"
	KindConnected            Kind = "connected"
	KindDisconnected         Kind = "disconnected"
	KindRequestResolved      Kind = "request_resolved"
	KindRequestCancelled     Kind = "request_cancelled"
)

// Kinds lists every kind in a stable order
func Kinds() []Kind {
	return []Kind{
		KindEndpointRegistered,
		KindEndpointDeregistered,
		KindConnected,
		KindDisconnected,
		KindRequestResolved,
		KindRequestCancelled,
	}
}

// Event is a single topology change. Fields that do not apply to a kind are empty.
type Event struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	Time         time.Time `json:"time"`
	PID          string    `json:"pid,omitempty"`
	Port         string    `json:"port,omitempty"`
	PeerPID      string    `json:"peer_pid,omitempty"`
	PeerPort     string    `json:"peer_port,omitempty"`
	ConnectionID string    `json:"connection_id,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
}

// New stamps an event with a fresh id and the current time
func New(kind Kind) Event {
	return Event{
		ID:   uuid.NewString(),
		Kind: kind,
		Time: time.Now().UTC(),
	}
}

// Observer receives events after the change they describe is visible.
// Implementations must not block.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ev Event)

// Observe implements Observer
func (f ObserverFunc) Observe(ev Event) {
	f(ev)
}

// Multi combines observers; each event goes to all of them in order
func Multi(observers ...Observer) Observer {
	return ObserverFunc(func(ev Event) {
		for _, o := range observers {
			if o != nil {
				o.Observe(ev)
			}
		}
	})
}
