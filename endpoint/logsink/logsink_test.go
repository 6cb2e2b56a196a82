package logsink

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semlink/connection"
	"github.com/c360/semlink/endpoint"
)

type reading struct {
	Value float64 `json:"value"`
}

func (reading) MessageType() string { return "sensor.temp" }

func TestNew_Defaults(t *testing.T) {
	reg, err := New("sink", nil, endpoint.Dependencies{})
	require.NoError(t, err)
	require.NoError(t, reg.Validate())

	require.Len(t, reg.Ports, 1)
	assert.Equal(t, "in", reg.Ports[0].Name)
	assert.Equal(t, endpoint.CardinalityMultiple, reg.Ports[0].Cardinality)
	assert.Equal(t, []string{">"}, reg.Ports[0].Accepts)
}

func TestRegistry_ValidatesSchema(t *testing.T) {
	r := endpoint.NewRegistry()
	require.NoError(t, Register(r))

	_, err := r.Create("sink", FactoryName, json.RawMessage(`{"level":"loud"}`), endpoint.Dependencies{})
	assert.Error(t, err)

	reg, err := r.Create("sink", FactoryName, json.RawMessage(`{"port":"readings","accepts":["sensor.*"]}`), endpoint.Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, "readings", reg.Ports[0].Name)
	assert.Equal(t, []string{"sensor.*"}, reg.Ports[0].Accepts)
}

func TestSink_LogsMessages(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	m, err := connection.NewManager()
	require.NoError(t, err)
	defer m.Close(context.Background())

	reg, err := New("sink", json.RawMessage(`{"accepts":["sensor.*"],"level":"debug"}`), endpoint.Dependencies{Logger: logger})
	require.NoError(t, err)
	require.NoError(t, m.Register(reg))
	sink := reg.Endpoint.(*Sink)

	var sensorConn endpoint.Connection
	require.NoError(t, m.Register(endpoint.Registration{
		PID: "sensor",
		Ports: []endpoint.Port{{
			Name: "out", Cardinality: endpoint.CardinalitySingle, Sends: []string{"sensor.temp"},
		}},
		Endpoint: endpoint.EndpointFunc(func(conn endpoint.Connection) (endpoint.MessageHandler, error) {
			sensorConn = conn
			return endpoint.HandlerFuncs{}, nil
		}),
	}))

	report := m.AutoConnect()
	require.Equal(t, []string{"sensor/out|sink/in"}, report.Connected)
	assert.EqualValues(t, 1, sink.Links())

	for i := 0; i < 3; i++ {
		require.NoError(t, sensorConn.SendMessage(reading{Value: float64(i)}))
	}
	require.Eventually(t, func() bool { return sink.Received() == 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Deregister("sensor"))
	require.Eventually(t, func() bool { return sink.Links() == 0 }, 2*time.Second, 5*time.Millisecond)

	out := buf.String()
	assert.Contains(t, out, `"msg":"Message received"`)
	assert.Contains(t, out, `"type":"sensor.temp"`)
	assert.Contains(t, out, `"from":"sensor/out"`)
}
