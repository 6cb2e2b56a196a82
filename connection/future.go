package connection

import (
	"context"
	"sync"
	"time"

	"github.com/c360/semlink/endpoint"
	"github.com/c360/semlink/errors"
)

// RequestState is the lifecycle state of an asynchronous connect request
type RequestState int

// Request states. Connected and Cancelled are terminal.
const (
	RequestWaiting RequestState = iota
	RequestConnected
	RequestCancelled
)

// String returns the state name
func (s RequestState) String() string {
	switch s {
	case RequestWaiting:
		return "WAITING"
	case RequestConnected:
		return "CONNECTED"
	case RequestCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Future tracks an asynchronous connect request. It resolves at most once.
// Once connected it stays connected, even if the link later goes down.
type Future struct {
	m       *Manager
	id      string
	from    endpoint.PortRef
	to      endpoint.PortRef
	created time.Time

	// req is guarded by m.mu and cleared when the request becomes terminal
	req *request

	mu    sync.Mutex
	state RequestState
	pc    *PotentialConnection
	done  chan struct{}
}

// ID returns the request id
func (f *Future) ID() string {
	return f.id
}

// From returns the first port reference of the request
func (f *Future) From() endpoint.PortRef {
	return f.from
}

// To returns the second port reference of the request
func (f *Future) To() endpoint.PortRef {
	return f.to
}

// Created returns when the request was made
func (f *Future) Created() time.Time {
	return f.created
}

// State returns the current state
func (f *Future) State() RequestState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// IsConnected reports whether the request resolved to a connection
func (f *Future) IsConnected() bool {
	return f.State() == RequestConnected
}

// IsCancelled reports whether the request was cancelled
func (f *Future) IsCancelled() bool {
	return f.State() == RequestCancelled
}

// PotentialConnection returns the connected pair, or nil until connected
func (f *Future) PotentialConnection() *PotentialConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pc
}

// Done is closed when the request becomes connected or cancelled
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Cancel moves a waiting request to cancelled before returning, so it never
// resolves. It is a no-op on a connected or cancelled request. A connect
// the request had already started still completes, as a plain connection
// the request no longer reports.
func (f *Future) Cancel() {
	f.m.cancelRequest(f)
}

// Await blocks until the request resolves or ctx ends. A cancelled request
// returns ErrRequestCancelled; an interrupted wait returns ctx's error and
// leaves the request untouched.
func (f *Future) Await(ctx context.Context) (*PotentialConnection, error) {
	select {
	case <-f.done:
		return f.outcome("Await")
	case <-ctx.Done():
		return nil, errors.WrapTransient(ctx.Err(), "Future", "Await", "wait for "+f.id)
	}
}

// AwaitTimeout is Await with a deadline. When d elapses first it returns
// ErrAwaitTimeout and the request stays waiting.
func (f *Future) AwaitTimeout(d time.Duration) (*PotentialConnection, error) {
	select {
	case <-f.done:
		return f.outcome("AwaitTimeout")
	default:
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.outcome("AwaitTimeout")
	case <-timer.C:
		return nil, errors.WrapTransient(errors.ErrAwaitTimeout, "Future", "AwaitTimeout", "wait for "+f.id)
	}
}

func (f *Future) outcome(op string) (*PotentialConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == RequestCancelled {
		return nil, errors.WrapInvalid(errors.ErrRequestCancelled, "Future", op, "wait for "+f.id)
	}
	return f.pc, nil
}

// settle moves the future to a terminal state. Callers hold m.mu.
func (f *Future) settle(state RequestState, pc *PotentialConnection) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != RequestWaiting {
		return false
	}
	f.state = state
	f.pc = pc
	close(f.done)
	return true
}
