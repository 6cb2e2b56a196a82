package connection

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/c360/semlink/endpoint"
	"github.com/c360/semlink/errors"
	"github.com/c360/semlink/events"
	"github.com/c360/semlink/metric"
)

const (
	single   = endpoint.CardinalitySingle
	multiple = endpoint.CardinalityMultiple
)

func TestRegister_BuildsPotentialConnections(t *testing.T) {
	m := newTestManager(t)

	register(t, m, "a", &recorder{}, sender("out", single, "x"), receiver("in", multiple, "y"))
	register(t, m, "b", &recorder{}, receiver("in", multiple, "x"), sender("out", single, "y"))
	register(t, m, "c", &recorder{}, receiver("in", multiple, "z"))

	a := m.Endpoint("a")
	require.NotNil(t, a)
	assert.Equal(t, []string{"in", "out"}, portNames(a))

	aOut := a.Port("out")
	bIn := m.Endpoint("b").Port("in")
	pcs := aOut.PotentialConnections()
	require.Len(t, pcs, 1)
	assert.Equal(t, "a/out|b/in", pcs[0].ID())
	assert.Same(t, pcs[0], bIn.PotentialConnectionTo(aOut))
	assert.Same(t, pcs[0], aOut.PotentialConnection("a/out|b/in"))
	assert.Same(t, pcs[0], m.PotentialConnection("a/out|b/in"))
	assert.Nil(t, aOut.PotentialConnectionTo(m.Endpoint("c").Port("in")))

	assert.Len(t, a.Port("in").PotentialConnections(), 1)
	assert.Empty(t, m.Endpoint("c").Port("in").PotentialConnections())

	stats := m.Stats()
	assert.Equal(t, 3, stats.Endpoints)
	assert.Equal(t, 5, stats.Ports)
	assert.Equal(t, 2, stats.Potential)
	assert.Equal(t, 0, stats.Connected)
}

func portNames(ep *ManagedEndpoint) []string {
	var names []string
	for _, p := range ep.Ports() {
		names = append(names, p.Name())
	}
	return names
}

func TestRegister_SameEndpointPortsNeverPair(t *testing.T) {
	m := newTestManager(t)
	register(t, m, "a", &recorder{}, sender("out", single, "x"), receiver("in", multiple, "x"))
	assert.Empty(t, m.Endpoint("a").Port("out").PotentialConnections())
}

func TestRegister_Rejects(t *testing.T) {
	m := newTestManager(t)
	register(t, m, "a", &recorder{}, sender("out", single, "x"))

	err := m.Register(endpoint.Registration{PID: "a", Endpoint: &recorder{}})
	assert.ErrorIs(t, err, errors.ErrDuplicateEndpoint)

	err = m.Register(endpoint.Registration{PID: "b", Endpoint: &recorder{}, Ports: []endpoint.Port{{Name: "bad/name", Cardinality: single}}})
	assert.ErrorIs(t, err, errors.ErrInvalidPort)
	assert.True(t, errors.IsInvalid(err))

	err = m.Deregister("missing")
	assert.ErrorIs(t, err, errors.ErrUnknownEndpoint)
}

func TestEndpoints_SortedByPID(t *testing.T) {
	m := newTestManager(t)
	for _, pid := range []string{"zeta", "alpha", "mu"} {
		register(t, m, pid, &recorder{}, sender("out", single, "x"))
	}

	var pids []string
	for _, ep := range m.Endpoints() {
		pids = append(pids, ep.PID())
	}
	assert.Equal(t, []string{"alpha", "mu", "zeta"}, pids)
	assert.Nil(t, m.Endpoint("nope"))
}

func TestConnectEndpointPorts_Taxonomy(t *testing.T) {
	m := newTestManager(t)
	register(t, m, "a", &recorder{}, sender("out", single, "x"))
	register(t, m, "b", &recorder{}, receiver("in", multiple, "x"), receiver("other", multiple, "y"))
	register(t, m, "c", &recorder{}, receiver("in", single, "x"))

	tests := []struct {
		name                       string
		pid1, port1, pid2, port2 string
		want                       error
	}{
		{"unknown endpoint", "a", "out", "zz", "in", errors.ErrUnknownEndpoint},
		{"unknown port", "a", "nope", "b", "in", errors.ErrUnknownPort},
		{"incompatible", "a", "out", "b", "other", errors.ErrIncompatible},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc, err := m.ConnectEndpointPorts(tt.pid1, tt.port1, tt.pid2, tt.port2)
			assert.Nil(t, pc)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	_, err := m.ConnectEndpointPorts("a", "out", "b", "in")
	require.NoError(t, err)

	// a/out is SINGLE and taken
	_, err = m.ConnectEndpointPorts("a", "out", "c", "in")
	assert.ErrorIs(t, err, errors.ErrNotConnectable)
	assert.False(t, m.Endpoint("c").Port("in").IsConnected())
}

func TestConnect_IsIdempotent(t *testing.T) {
	ra, rb := &recorder{}, &recorder{}
	m := newTestManager(t)
	register(t, m, "a", ra, sender("out", single, "x"))
	register(t, m, "b", rb, receiver("in", multiple, "x"))

	pc, err := m.ConnectEndpointPorts("a", "out", "b", "in")
	require.NoError(t, err)
	assert.True(t, pc.IsConnected())
	assert.False(t, pc.IsConnectable())

	// Argument order does not matter and a second connect changes nothing
	again, err := m.ConnectEndpointPorts("b", "in", "a", "out")
	require.NoError(t, err)
	assert.Same(t, pc, again)
	require.NoError(t, pc.Connect())
	assert.Equal(t, 1, ra.connCount())
	assert.Equal(t, 1, rb.connCount())

	pc.Disconnect()
	assert.False(t, pc.IsConnected())
	pc.Disconnect()

	waitFor(t, func() bool { return ra.disconnects() == 1 && rb.disconnects() == 1 })
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, ra.disconnects())
	assert.Equal(t, 1, rb.disconnects())
	assert.True(t, pc.IsConnectable())
}

func TestConnect_DeclineRollsBack(t *testing.T) {
	accepted := &recorder{}
	decliner := &mockEndpoint{}
	decliner.On("OnConnect", mock.Anything).Return(nil, nil).Once()

	m := newTestManager(t)
	register(t, m, "a", accepted, sender("out", single, "x"))
	register(t, m, "b", decliner, receiver("in", single, "x"))

	pc, err := m.ConnectEndpointPorts("a", "out", "b", "in")
	assert.Nil(t, pc)
	assert.ErrorIs(t, err, errors.ErrConnectDeclined)
	decliner.AssertExpectations(t)

	// The side that accepted hears the link is gone
	assert.Equal(t, 1, accepted.disconnects())
	potential := m.Endpoint("a").Port("out").PotentialConnections()[0]
	assert.False(t, potential.IsConnected())
	assert.True(t, potential.IsConnectable())

	// A later connect can succeed
	decliner.On("OnConnect", mock.Anything).Return(endpoint.HandlerFuncs{}, nil).Once()
	_, err = m.ConnectEndpointPorts("a", "out", "b", "in")
	require.NoError(t, err)
}

func TestConnect_CallbackErrorAndPanic(t *testing.T) {
	m := newTestManager(t)
	register(t, m, "a", &recorder{connectErr: stderrors.New("not ready")}, sender("out", single, "x"))
	register(t, m, "b", endpoint.EndpointFunc(func(endpoint.Connection) (endpoint.MessageHandler, error) {
		panic("boom")
	}), receiver("in", multiple, "x"))
	register(t, m, "c", &recorder{}, sender("out", single, "x"))

	_, err := m.ConnectEndpointPorts("a", "out", "b", "in")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready")
	assert.True(t, errors.IsTransient(err))

	_, err = m.ConnectEndpointPorts("c", "out", "b", "in")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.False(t, m.Endpoint("b").Port("in").IsConnected())
}

func TestConnect_CallbackMayReenterManager(t *testing.T) {
	m := newTestManager(t)
	var seen Stats
	ra := &recorder{onConnect: func(endpoint.Connection) {
		seen = m.Stats()
		_ = m.Endpoints()
	}}
	register(t, m, "a", ra, sender("out", single, "x"))
	register(t, m, "b", &recorder{}, receiver("in", multiple, "x"))

	_, err := m.ConnectEndpointPorts("a", "out", "b", "in")
	require.NoError(t, err)
	// Mid-connect the pair is neither connected nor available
	assert.Equal(t, 0, seen.Connected)
}

func TestConnect_SamePairFromOnConnect(t *testing.T) {
	m := newTestManager(t)
	var syncErr, pcErr error
	ra := &recorder{onConnect: func(endpoint.Connection) {
		var pc *PotentialConnection
		pc, syncErr = m.ConnectEndpointPorts("a", "out", "b", "in")
		if pc == nil {
			pc = m.Endpoint("a").Port("out").PotentialConnections()[0]
		}
		pcErr = pc.Connect()
	}}
	register(t, m, "a", ra, sender("out", single, "x"))
	register(t, m, "b", &recorder{}, receiver("in", multiple, "x"))

	var err error
	returnsWithin(t, func() { _, err = m.ConnectEndpointPorts("a", "out", "b", "in") })
	require.NoError(t, err)
	assert.ErrorIs(t, syncErr, errors.ErrNotConnectable)
	assert.ErrorIs(t, pcErr, errors.ErrNotConnectable)
	assert.True(t, m.Endpoint("a").Port("out").IsConnected())
	assert.Equal(t, 1, ra.connCount())
}

func TestSingleCardinality_ConcurrentConnects(t *testing.T) {
	m := newTestManager(t)
	register(t, m, "hub", &recorder{}, receiver("in", single, "x"))
	const n = 32
	for i := 0; i < n; i++ {
		register(t, m, fmt.Sprintf("src-%02d", i), &recorder{}, sender("out", single, "x"))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := m.ConnectEndpointPorts(fmt.Sprintf("src-%02d", i), "out", "hub", "in")
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, errors.ErrNotConnectable)
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
	connected := 0
	for _, pc := range m.Endpoint("hub").Port("in").PotentialConnections() {
		if pc.IsConnected() {
			connected++
		}
	}
	assert.Equal(t, 1, connected)
}

func TestDeregister_DisconnectsAndEvicts(t *testing.T) {
	ra, rb, rc := &recorder{}, &recorder{}, &recorder{}
	log := &eventLog{}
	m := newTestManager(t, WithObserver(log))
	register(t, m, "a", ra, sender("out", single, "x"))
	register(t, m, "b", rb, receiver("in", multiple, "x"))
	register(t, m, "c", rc, sender("out", single, "x"))

	_, err := m.ConnectEndpointPorts("a", "out", "b", "in")
	require.NoError(t, err)
	_, err = m.ConnectEndpointPorts("c", "out", "b", "in")
	require.NoError(t, err)

	bIn := m.Endpoint("b").Port("in")
	require.NoError(t, m.Deregister("b"))

	assert.Nil(t, m.Endpoint("b"))
	assert.Empty(t, m.Endpoint("a").Port("out").PotentialConnections())
	assert.Empty(t, m.Endpoint("c").Port("out").PotentialConnections())
	assert.Empty(t, bIn.PotentialConnections())
	assert.False(t, ra.lastConn().IsConnected())

	waitFor(t, func() bool { return ra.disconnects() == 1 && rb.disconnects() == 2 && rc.disconnects() == 1 })

	stats := m.Stats()
	assert.Equal(t, 0, stats.Potential)
	assert.Equal(t, 0, stats.Connected)

	kinds := log.kinds()
	assert.Equal(t, events.KindEndpointDeregistered, kinds[len(kinds)-1])
	assert.Contains(t, kinds, events.KindDisconnected)
}

func TestConnection_SendMessageOrderedAndDrainedAfterDisconnect(t *testing.T) {
	release := make(chan struct{})
	rb := &recorder{onMessage: func(any) { <-release }}
	ra := &recorder{}
	m := newTestManager(t)
	register(t, m, "a", ra, sender("out", single, "x"))
	register(t, m, "b", rb, receiver("in", multiple, "x"))

	pc, err := m.ConnectEndpointPorts("a", "out", "b", "in")
	require.NoError(t, err)

	conn := ra.lastConn()
	require.NotNil(t, conn)
	assert.Equal(t, pc.ID(), conn.ID())
	assert.Equal(t, endpoint.PortRef{PID: "b", Port: "in"}, conn.Peer())
	assert.Equal(t, "out", conn.LocalPort().Name)

	for i := 0; i < 5; i++ {
		require.NoError(t, conn.SendMessage(i))
	}

	// Disconnect returns while b is still stuck on the first message
	pc.Disconnect()
	assert.False(t, conn.IsConnected())
	assert.ErrorIs(t, conn.SendMessage(99), errors.ErrNotConnected)

	close(release)
	waitFor(t, func() bool { return rb.disconnects() == 1 })
	assert.Equal(t, []any{0, 1, 2, 3, 4}, rb.received())
	assert.Equal(t, []string{"message", "message", "message", "message", "message", "disconnected"}, rb.timeline())
}

func TestConnection_QueueFull(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	rb := &recorder{onMessage: func(any) { <-release }}
	ra := &recorder{}
	m := newTestManager(t, WithQueueSize(1))
	register(t, m, "a", ra, sender("out", single, "x"))
	register(t, m, "b", rb, receiver("in", multiple, "x"))
	_, err := m.ConnectEndpointPorts("a", "out", "b", "in")
	require.NoError(t, err)

	conn := ra.lastConn()
	var full error
	for i := 0; i < 5 && full == nil; i++ {
		full = conn.SendMessage(i)
	}
	assert.ErrorIs(t, full, errors.ErrQueueFull)
	assert.True(t, errors.IsTransient(full))
}

func TestClose(t *testing.T) {
	ra, rb := &recorder{}, &recorder{}
	m := newTestManager(t)
	register(t, m, "a", ra, sender("out", single, "x"))
	register(t, m, "b", rb, receiver("in", multiple, "x"))
	_, err := m.ConnectEndpointPorts("a", "out", "b", "in")
	require.NoError(t, err)

	f := m.AsyncConnectEndpointPorts("a", "out", "later", "in")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Close(ctx))
	require.NoError(t, m.Close(ctx))

	assert.Equal(t, 1, ra.disconnects())
	assert.Equal(t, 1, rb.disconnects())
	assert.True(t, f.IsCancelled())
	assert.True(t, m.Stats().Closed)

	err = m.Register(endpoint.Registration{PID: "c", Endpoint: &recorder{}})
	assert.ErrorIs(t, err, errors.ErrManagerClosed)
	_, err = m.ConnectEndpointPorts("a", "out", "b", "in")
	assert.ErrorIs(t, err, errors.ErrManagerClosed)
	assert.True(t, m.AsyncConnectEndpointPorts("a", "out", "b", "in").IsCancelled())
}

func TestEvents_ConnectLifecycle(t *testing.T) {
	log := &eventLog{}
	m := newTestManager(t, WithObserver(log))
	register(t, m, "a", &recorder{}, sender("out", single, "x"))
	register(t, m, "b", &recorder{}, receiver("in", multiple, "x"))

	pc, err := m.ConnectEndpointPorts("a", "out", "b", "in")
	require.NoError(t, err)
	linkID := pc.ConnectionID()
	assert.NotEmpty(t, linkID)
	pc.Disconnect()
	assert.Empty(t, pc.ConnectionID())

	assert.Equal(t, []events.Kind{
		events.KindEndpointRegistered,
		events.KindEndpointRegistered,
		events.KindConnected,
		events.KindDisconnected,
	}, log.kinds())

	log.mu.Lock()
	connected := log.evs[2]
	log.mu.Unlock()
	assert.Equal(t, "a", connected.PID)
	assert.Equal(t, "in", connected.PeerPort)
	assert.Equal(t, linkID, connected.ConnectionID)
}

func TestManager_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m := newTestManager(t, WithMetricsRegistry(registry))
	register(t, m, "a", &recorder{}, sender("out", single, "x"))
	register(t, m, "b", &recorder{}, receiver("in", multiple, "x"))
	_, err := m.ConnectEndpointPorts("a", "out", "b", "in")
	require.NoError(t, err)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, mm := range mf.GetMetric() {
			if g := mm.GetGauge(); g != nil {
				values[mf.GetName()] = g.GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, values["semlink_connection_endpoints"])
	assert.Equal(t, 1.0, values["semlink_connection_connections_active"])

	// A second manager on the same registry collides
	_, err = NewManager(WithMetricsRegistry(registry))
	assert.Error(t, err)
}
