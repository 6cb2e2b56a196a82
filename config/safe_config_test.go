package config

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeConfig_GetReturnsCopy(t *testing.T) {
	sc := NewSafeConfig(nil)

	cfg := sc.Get()
	cfg.Platform.ID = "mutated"

	assert.Equal(t, DefaultPlatformID, sc.Get().Platform.ID)
}

func TestConfig_CloneIsDeep(t *testing.T) {
	cfg := Default()
	cfg.Manager.DrainTimeout = Duration(3 * time.Second)
	cfg.NATS.URLs = []string{"nats://a:4222", "nats://b:4222"}
	cfg.Wiring.Rules = []RuleConfig{{From: "beat/out", To: "sink/in"}}
	cfg.Endpoints = EndpointConfigs{
		"beat": {Factory: "heartbeat", Enabled: true, Config: json.RawMessage(`{"interval":"5s"}`)},
	}
	cfg.HTTP.TLS.AllowedClientCNs = []string{"ops"}

	clone := cfg.Clone()
	if diff := cmp.Diff(cfg, clone); diff != "" {
		t.Fatalf("clone differs (-orig +clone):\n%s", diff)
	}

	clone.NATS.URLs[0] = "nats://other:4222"
	clone.Wiring.Rules[0].To = "sink/other"
	clone.HTTP.TLS.AllowedClientCNs[0] = "nobody"
	assert.Equal(t, "nats://a:4222", cfg.NATS.URLs[0])
	assert.Equal(t, "sink/in", cfg.Wiring.Rules[0].To)
	assert.Equal(t, "ops", cfg.HTTP.TLS.AllowedClientCNs[0])
}

func TestSafeConfig_UpdateValidates(t *testing.T) {
	sc := NewSafeConfig(Default())

	assert.Error(t, sc.Update(nil))
	assert.Error(t, sc.Update(&Config{HTTP: HTTPConfig{Port: -1}}))
	assert.Equal(t, DefaultHTTPPort, sc.Get().HTTP.Port)

	require.NoError(t, sc.Update(&Config{HTTP: HTTPConfig{Port: 9000}}))
	assert.Equal(t, 9000, sc.Get().HTTP.Port)
	assert.Equal(t, DefaultQueueSize, sc.Get().Manager.QueueSize)
}

func TestSafeConfig_Concurrent(t *testing.T) {
	sc := NewSafeConfig(Default())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(port int) {
			defer wg.Done()
			_ = sc.Update(&Config{HTTP: HTTPConfig{Port: 8000 + port}})
		}(i)
		go func() {
			defer wg.Done()
			cfg := sc.Get()
			assert.GreaterOrEqual(t, cfg.HTTP.Port, 8000)
		}()
	}
	wg.Wait()
}
