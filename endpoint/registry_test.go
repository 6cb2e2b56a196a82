package endpoint

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const echoSchema = `{
	"type": "object",
	"properties": {
		"accepts": {"type": "array", "items": {"type": "string"}, "minItems": 1}
	},
	"required": ["accepts"],
	"additionalProperties": false
}`

func echoFactory(pid string, raw json.RawMessage, _ Dependencies) (Registration, error) {
	var cfg struct {
		Accepts []string `json:"accepts"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Registration{}, err
	}
	return Registration{
		PID: pid,
		Ports: []Port{{
			Name:        "in",
			Cardinality: CardinalityMultiple,
			Accepts:     cfg.Accepts,
		}},
		Endpoint: EndpointFunc(func(Connection) (MessageHandler, error) { return HandlerFuncs{}, nil }),
	}, nil
}

func TestRegistry_RegisterFactory(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.RegisterFactory(FactoryInfo{Name: "echo", Schema: echoSchema, Factory: echoFactory}))

	err := r.RegisterFactory(FactoryInfo{Name: "echo", Factory: echoFactory})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	assert.Error(t, r.RegisterFactory(FactoryInfo{Name: "", Factory: echoFactory}))
	assert.Error(t, r.RegisterFactory(FactoryInfo{Name: "nil"}))
	assert.Error(t, r.RegisterFactory(FactoryInfo{Name: "bad-schema", Schema: "{", Factory: echoFactory}))

	assert.Equal(t, []string{"echo"}, r.ListFactories())
	info, ok := r.Factory("echo")
	assert.True(t, ok)
	assert.Equal(t, "echo", info.Name)
}

func TestRegistry_Create(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterFactory(FactoryInfo{Name: "echo", Schema: echoSchema, Factory: echoFactory}))

	t.Run("valid config", func(t *testing.T) {
		reg, err := r.Create("sink-1", "echo", json.RawMessage(`{"accepts":["x"]}`), Dependencies{})
		require.NoError(t, err)
		assert.Equal(t, "sink-1", reg.PID)
		require.Len(t, reg.Ports, 1)
		assert.Equal(t, []string{"x"}, reg.Ports[0].Accepts)
	})

	t.Run("schema violation", func(t *testing.T) {
		_, err := r.Create("sink-1", "echo", json.RawMessage(`{"accepts":[]}`), Dependencies{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "accepts")
	})

	t.Run("unknown property rejected", func(t *testing.T) {
		_, err := r.Create("sink-1", "echo", json.RawMessage(`{"accepts":["x"],"bogus":1}`), Dependencies{})
		assert.Error(t, err)
	})

	t.Run("unknown factory", func(t *testing.T) {
		_, err := r.Create("x", "missing", nil, Dependencies{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown endpoint factory")
	})

	t.Run("factory error propagates", func(t *testing.T) {
		require.NoError(t, r.RegisterFactory(FactoryInfo{
			Name: "broken",
			Factory: func(string, json.RawMessage, Dependencies) (Registration, error) {
				return Registration{}, fmt.Errorf("boom")
			},
		}))
		_, err := r.Create("x", "broken", nil, Dependencies{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	})
}
