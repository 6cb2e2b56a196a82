package connection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/c360/semlink/endpoint"
	"github.com/c360/semlink/events"
)

func sender(name string, card endpoint.Cardinality, types ...string) endpoint.Port {
	return endpoint.Port{Name: name, Cardinality: card, Sends: types}
}

func receiver(name string, card endpoint.Cardinality, types ...string) endpoint.Port {
	return endpoint.Port{Name: name, Cardinality: card, Accepts: types}
}

// duplex is a SINGLE port that both sends and accepts typ
func duplex(name, typ string) endpoint.Port {
	return endpoint.Port{Name: name, Cardinality: endpoint.CardinalitySingle, Sends: []string{typ}, Accepts: []string{typ}}
}

// peerPort pairs with every other peerPort
func peerPort(name string) endpoint.Port {
	return duplex(name, "x")
}

// recorder is an endpoint that accepts every link and records what it sees
type recorder struct {
	mu           sync.Mutex
	conns        []endpoint.Connection
	messages     []any
	disconnected int
	events       []string

	connectErr error
	decline    bool
	onConnect  func(conn endpoint.Connection)
	onMessage  func(msg any)
}

func (r *recorder) OnConnect(conn endpoint.Connection) (endpoint.MessageHandler, error) {
	if r.onConnect != nil {
		r.onConnect(conn)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connectErr != nil {
		return nil, r.connectErr
	}
	if r.decline {
		return nil, nil
	}
	r.conns = append(r.conns, conn)
	return endpoint.HandlerFuncs{
		OnMessage: func(msg any) {
			if r.onMessage != nil {
				r.onMessage(msg)
			}
			r.mu.Lock()
			r.messages = append(r.messages, msg)
			r.events = append(r.events, "message")
			r.mu.Unlock()
		},
		OnDisconnected: func() {
			r.mu.Lock()
			r.disconnected++
			r.events = append(r.events, "disconnected")
			r.mu.Unlock()
		},
	}, nil
}

func (r *recorder) connCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *recorder) lastConn() endpoint.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns) == 0 {
		return nil
	}
	return r.conns[len(r.conns)-1]
}

func (r *recorder) disconnects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnected
}

func (r *recorder) received() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.messages...)
}

func (r *recorder) timeline() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// mockEndpoint lets a test script OnConnect results
type mockEndpoint struct {
	mock.Mock
}

func (m *mockEndpoint) OnConnect(conn endpoint.Connection) (endpoint.MessageHandler, error) {
	args := m.Called(conn)
	h, _ := args.Get(0).(endpoint.MessageHandler)
	return h, args.Error(1)
}

// eventLog is an observer that keeps every event
type eventLog struct {
	mu  sync.Mutex
	evs []events.Event
}

func (l *eventLog) Observe(ev events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evs = append(l.evs, ev)
}

func (l *eventLog) kinds() []events.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.Kind, 0, len(l.evs))
	for _, ev := range l.evs {
		out = append(out, ev.Kind)
	}
	return out
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

func register(t *testing.T, m *Manager, pid string, ep endpoint.Endpoint, ports ...endpoint.Port) {
	t.Helper()
	require.NoError(t, m.Register(endpoint.Registration{PID: pid, Endpoint: ep, Ports: ports}))
}

// connectedIDs lists the ids of every connected potential connection
func connectedIDs(m *Manager) []string {
	seen := map[string]bool{}
	var ids []string
	for _, ep := range m.Endpoints() {
		for _, p := range ep.Ports() {
			for _, pc := range p.PotentialConnections() {
				if pc.IsConnected() && !seen[pc.ID()] {
					seen[pc.ID()] = true
					ids = append(ids, pc.ID())
				}
			}
		}
	}
	return ids
}

// returnsWithin fails the test when fn does not return within two seconds
func returnsWithin(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("call did not return")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}
