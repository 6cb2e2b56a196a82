package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semlink/config"
	"github.com/c360/semlink/events"
	"github.com/c360/semlink/natsclient"
)

func TestNewApp_PublishesStartupEvents(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("Skipping integration test. Set INTEGRATION_TESTS=1 to run.")
	}
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var mu sync.Mutex
	seen := map[events.Kind]int{}
	_, err := tc.Client.Subscribe(ctx, config.DefaultEventsSubject+".>", func(_ context.Context, _ string, data []byte) {
		var ev events.Event
		if json.Unmarshal(data, &ev) == nil {
			mu.Lock()
			seen[ev.Kind]++
			mu.Unlock()
		}
	})
	require.NoError(t, err)

	cfg := testConfig(t, func(cfg *config.Config) {
		cfg.NATS.URLs = []string{tc.URL}
		cfg.Wiring.Rules = []config.RuleConfig{{From: "beat/out", To: "sink/in"}}
	})
	a, err := newApp(ctx, cfg, newLogger(io.Discard, "info", "json"))
	require.NoError(t, err)
	defer func() { _ = a.close(context.Background()) }()

	// Everything here happened inside newApp, before run
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[events.KindEndpointRegistered] == 2 &&
			seen[events.KindConnected] == 1 &&
			seen[events.KindRequestResolved] == 1
	}, 10*time.Second, 20*time.Millisecond)
	assert.Zero(t, a.publisher.Stats().Dropped)
}
