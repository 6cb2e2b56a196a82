package heartbeat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semlink/connection"
	"github.com/c360/semlink/endpoint"
)

func TestNew_Config(t *testing.T) {
	reg, err := New("hb", nil, endpoint.Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, "out", reg.Ports[0].Name)
	assert.Equal(t, endpoint.CardinalitySingle, reg.Ports[0].Cardinality)
	assert.Equal(t, []string{MessageType}, reg.Ports[0].Sends)
	assert.Equal(t, time.Second, reg.Endpoint.(*Source).interval)

	_, err = New("hb", json.RawMessage(`{"interval":"soon"}`), endpoint.Dependencies{})
	assert.Error(t, err)
	_, err = New("hb", json.RawMessage(`{"interval":"1ms"}`), endpoint.Dependencies{})
	assert.Error(t, err)

	r := endpoint.NewRegistry()
	require.NoError(t, Register(r))
	_, err = r.Create("hb", FactoryName, json.RawMessage(`{"rate":5}`), endpoint.Dependencies{})
	assert.Error(t, err, "unknown properties are rejected by the schema")
}

type collector struct {
	mu    sync.Mutex
	beats []Beat
}

func (c *collector) OnConnect(endpoint.Connection) (endpoint.MessageHandler, error) {
	return endpoint.HandlerFuncs{OnMessage: func(msg any) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.beats = append(c.beats, msg.(Beat))
	}}, nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.beats)
}

func TestSource_BeatsWhileConnected(t *testing.T) {
	m, err := connection.NewManager()
	require.NoError(t, err)
	defer m.Close(context.Background())

	reg, err := New("hb", json.RawMessage(`{"interval":"10ms"}`), endpoint.Dependencies{})
	require.NoError(t, err)
	require.NoError(t, m.Register(reg))
	src := reg.Endpoint.(*Source)

	col := &collector{}
	require.NoError(t, m.Register(endpoint.Registration{
		PID: "monitor",
		Ports: []endpoint.Port{{
			Name: "in", Cardinality: endpoint.CardinalityMultiple, Accepts: []string{"heartbeat"},
		}},
		Endpoint: col,
	}))

	pc, err := m.ConnectEndpointPorts("hb", "out", "monitor", "in")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return col.count() >= 3 }, 2*time.Second, 5*time.Millisecond)

	pc.Disconnect()
	require.Eventually(t, func() bool { return col.count() == int(src.Sent()) }, 2*time.Second, 5*time.Millisecond)
	sent := src.Sent()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, sent, src.Sent(), "no beats after disconnect")

	col.mu.Lock()
	defer col.mu.Unlock()
	for i, b := range col.beats {
		assert.Equal(t, "hb", b.PID)
		assert.Equal(t, uint64(i+1), b.Seq, "beats arrive in order")
	}
}
