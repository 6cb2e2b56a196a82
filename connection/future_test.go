package connection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semlink/endpoint"
	"github.com/c360/semlink/errors"
	"github.com/c360/semlink/events"
)

func TestAsyncConnect_ResolvesWhenPeerRegisters(t *testing.T) {
	log := &eventLog{}
	m := newTestManager(t, WithObserver(log))
	register(t, m, "a", &recorder{}, sender("out", single, "x"))

	f := m.AsyncConnectEndpointPorts("a", "out", "b", "in")
	assert.Equal(t, RequestWaiting, f.State())
	assert.False(t, f.IsConnected())
	assert.Nil(t, f.PotentialConnection())
	assert.Equal(t, endpoint.PortRef{PID: "a", Port: "out"}, f.From())
	assert.Equal(t, endpoint.PortRef{PID: "b", Port: "in"}, f.To())
	assert.Equal(t, 1, m.Stats().Pending)

	register(t, m, "b", &recorder{}, receiver("in", multiple, "x"))

	pc, err := f.AwaitTimeout(time.Second)
	require.NoError(t, err)
	require.NotNil(t, pc)
	assert.Equal(t, "a/out|b/in", pc.ID())
	assert.True(t, pc.IsConnected())
	assert.True(t, f.IsConnected())
	assert.Same(t, pc, f.PotentialConnection())
	assert.Equal(t, 0, m.Stats().Pending)
	assert.Contains(t, log.kinds(), events.KindRequestResolved)
}

func TestAsyncConnect_CancelledBeforePeerRegisters(t *testing.T) {
	m := newTestManager(t)
	register(t, m, "a", &recorder{}, sender("out", single, "x"))

	f := m.AsyncConnectEndpointPorts("a", "out", "b", "in")
	f.Cancel()
	assert.True(t, f.IsCancelled())
	assert.Equal(t, "CANCELLED", f.State().String())

	register(t, m, "b", &recorder{}, receiver("in", multiple, "x"))
	assert.False(t, m.Endpoint("a").Port("out").IsConnected())
	assert.True(t, f.IsCancelled())

	_, err := f.Await(context.Background())
	assert.ErrorIs(t, err, errors.ErrRequestCancelled)

	// Cancel is idempotent
	f.Cancel()
	assert.True(t, f.IsCancelled())
}

func TestAsyncConnect_AlreadyConnectablePair(t *testing.T) {
	m := newTestManager(t)
	register(t, m, "a", &recorder{}, sender("out", single, "x"))
	register(t, m, "b", &recorder{}, receiver("in", multiple, "x"))

	f := m.AsyncConnectEndpointPorts("b", "in", "a", "out")
	assert.True(t, f.IsConnected())

	// A second request on the connected pair resolves immediately too
	g := m.AsyncConnectEndpointPorts("a", "out", "b", "in")
	assert.True(t, g.IsConnected())
	assert.Same(t, f.PotentialConnection(), g.PotentialConnection())
}

func TestFuture_StaysConnectedAfterDisconnect(t *testing.T) {
	m := newTestManager(t)
	register(t, m, "a", &recorder{}, sender("out", single, "x"))
	register(t, m, "b", &recorder{}, receiver("in", multiple, "x"))

	f := m.AsyncConnectEndpointPorts("a", "out", "b", "in")
	require.True(t, f.IsConnected())

	f.PotentialConnection().Disconnect()
	f.Cancel()
	assert.True(t, f.IsConnected())
	pc, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.False(t, pc.IsConnected())
}

func TestFuture_AwaitTimeoutLeavesRequestWaiting(t *testing.T) {
	m := newTestManager(t)
	f := m.AsyncConnectEndpointPorts("a", "out", "b", "in")

	start := time.Now()
	pc, err := f.AwaitTimeout(20 * time.Millisecond)
	assert.Nil(t, pc)
	assert.ErrorIs(t, err, errors.ErrAwaitTimeout)
	assert.True(t, errors.IsTransient(err))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, RequestWaiting, f.State())
	assert.Same(t, f, m.Request(f.ID()))
}

func TestFuture_AwaitTimeoutOnResolvedFuture(t *testing.T) {
	m := newTestManager(t)
	register(t, m, "a", &recorder{}, sender("out", single, "x"))
	register(t, m, "b", &recorder{}, receiver("in", multiple, "x"))
	f := m.AsyncConnectEndpointPorts("a", "out", "b", "in")
	require.True(t, f.IsConnected())

	for i := 0; i < 100; i++ {
		pc, err := f.AwaitTimeout(0)
		require.NoError(t, err)
		assert.Same(t, f.PotentialConnection(), pc)
	}
}

func TestFuture_AwaitInterruptedByContext(t *testing.T) {
	m := newTestManager(t)
	f := m.AsyncConnectEndpointPorts("a", "out", "b", "in")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, RequestWaiting, f.State())
}

func TestFuture_AwaitWakesOnResolve(t *testing.T) {
	m := newTestManager(t)
	register(t, m, "a", &recorder{}, sender("out", single, "x"))
	f := m.AsyncConnectEndpointPorts("a", "out", "b", "in")

	var wg sync.WaitGroup
	results := make([]*PotentialConnection, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pc, err := f.AwaitTimeout(2 * time.Second)
			assert.NoError(t, err)
			results[i] = pc
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	register(t, m, "b", &recorder{}, receiver("in", multiple, "x"))
	wg.Wait()

	for _, pc := range results {
		require.NotNil(t, pc)
		assert.Equal(t, "a/out|b/in", pc.ID())
	}
}

func TestAsyncConnect_ServicedInArrivalOrder(t *testing.T) {
	m := newTestManager(t)
	register(t, m, "b", &recorder{}, receiver("in", multiple, "x"))
	register(t, m, "c", &recorder{}, receiver("in", multiple, "x"))

	first := m.AsyncConnectEndpointPorts("a", "out", "b", "in")
	second := m.AsyncConnectEndpointPorts("a", "out", "c", "in")
	assert.Equal(t, []*Future{first, second}, m.Requests())

	register(t, m, "a", &recorder{}, sender("out", single, "x"))

	assert.True(t, first.IsConnected())
	assert.Equal(t, RequestWaiting, second.State())
	assert.Equal(t, []*Future{second}, m.Requests())
	assert.Nil(t, m.Request(first.ID()))

	// Freeing the SINGLE port lets the next request in line through
	first.PotentialConnection().Disconnect()
	assert.True(t, second.IsConnected())
	assert.Empty(t, m.Requests())
}

func TestAsyncConnect_SurvivesDeregistration(t *testing.T) {
	m := newTestManager(t)
	register(t, m, "a", &recorder{}, sender("out", single, "x"))
	register(t, m, "b", &recorder{}, receiver("in", multiple, "y"))

	f := m.AsyncConnectEndpointPorts("a", "out", "b", "in")
	assert.Equal(t, RequestWaiting, f.State())

	require.NoError(t, m.Deregister("b"))
	assert.Equal(t, RequestWaiting, f.State())

	register(t, m, "b", &recorder{}, receiver("in", multiple, "x"))
	assert.True(t, f.IsConnected())
}

func TestAsyncConnect_FailedConnectKeepsWaiting(t *testing.T) {
	m := newTestManager(t)
	register(t, m, "a", &recorder{}, sender("out", single, "x"))
	register(t, m, "b", &recorder{decline: true}, receiver("in", multiple, "x"))

	f := m.AsyncConnectEndpointPorts("a", "out", "b", "in")
	assert.Equal(t, RequestWaiting, f.State())

	require.NoError(t, m.Deregister("b"))
	register(t, m, "b", &recorder{}, receiver("in", multiple, "x"))
	assert.True(t, f.IsConnected())
}

func TestFuture_CancelDuringConnect(t *testing.T) {
	t.Run("connect succeeds", func(t *testing.T) {
		m := newTestManager(t)
		register(t, m, "a", &recorder{}, sender("out", single, "x"))
		f := m.AsyncConnectEndpointPorts("a", "out", "b", "in")

		var stateAfterCancel RequestState
		register(t, m, "b", &recorder{onConnect: func(endpoint.Connection) {
			f.Cancel()
			stateAfterCancel = f.State()
		}}, receiver("in", multiple, "x"))

		assert.Equal(t, RequestCancelled, stateAfterCancel)
		assert.True(t, f.IsCancelled())
		assert.Nil(t, f.PotentialConnection())
		_, err := f.AwaitTimeout(0)
		assert.ErrorIs(t, err, errors.ErrRequestCancelled)
		assert.Empty(t, m.Requests())

		// The connect itself still went through
		assert.True(t, m.Endpoint("a").Port("out").IsConnected())
	})

	t.Run("connect fails", func(t *testing.T) {
		m := newTestManager(t)
		register(t, m, "a", &recorder{}, sender("out", single, "x"))
		f := m.AsyncConnectEndpointPorts("a", "out", "b", "in")

		register(t, m, "b", &recorder{decline: true, onConnect: func(endpoint.Connection) { f.Cancel() }},
			receiver("in", multiple, "x"))
		assert.True(t, f.IsCancelled())
		assert.Empty(t, m.Requests())
	})
}

func TestAsyncConnect_JoinsConnectInProgress(t *testing.T) {
	m := newTestManager(t)
	var joined *Future
	ra := &recorder{onConnect: func(endpoint.Connection) {
		joined = m.AsyncConnectEndpointPorts("a", "out", "b", "in")
	}}
	register(t, m, "a", ra, sender("out", single, "x"))
	register(t, m, "b", &recorder{}, receiver("in", multiple, "x"))

	_, err := m.ConnectEndpointPorts("a", "out", "b", "in")
	require.NoError(t, err)
	require.NotNil(t, joined)
	assert.True(t, joined.IsConnected())
	assert.Equal(t, 1, ra.connCount())
}

func TestStats_OldestPending(t *testing.T) {
	m := newTestManager(t)
	m.AsyncConnectEndpointPorts("a", "out", "b", "in")
	time.Sleep(5 * time.Millisecond)
	m.AsyncConnectEndpointPorts("c", "out", "d", "in")

	stats := m.Stats()
	assert.Equal(t, 2, stats.Pending)
	assert.GreaterOrEqual(t, stats.OldestPending, 5*time.Millisecond)
}
