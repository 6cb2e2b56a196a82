package health

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/c360/semlink/connection"
	"github.com/c360/semlink/natsclient"
)

func TestFromManager(t *testing.T) {
	tests := []struct {
		name  string
		stats connection.Stats
		want  string
	}{
		{"running", connection.Stats{Endpoints: 3, Connected: 2}, "healthy"},
		{"young pending request", connection.Stats{Pending: 1, OldestPending: time.Second}, "healthy"},
		{"stale pending request", connection.Stats{Pending: 2, OldestPending: time.Hour}, "degraded"},
		{"closed", connection.Stats{Closed: true, Pending: 2, OldestPending: time.Hour}, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := FromManager("connections", tt.stats, time.Minute)
			assert.Equal(t, tt.want, s.Status)
			assert.Equal(t, "connections", s.Component)
			assert.Equal(t, tt.stats.Pending, s.Counts.Pending)
		})
	}

	// The default threshold applies when none is given
	s := FromManager("connections", connection.Stats{Pending: 1, OldestPending: 2 * time.Minute}, 0)
	assert.True(t, s.IsHealthy())
}

func TestFromNATS(t *testing.T) {
	assert.True(t, FromNATS("nats", natsclient.StatusConnected).IsHealthy())
	assert.True(t, FromNATS("nats", natsclient.StatusReconnecting).IsDegraded())
	assert.True(t, FromNATS("nats", natsclient.StatusClosed).IsUnhealthy())
}

func TestFromError(t *testing.T) {
	assert.True(t, FromError("store", nil).IsHealthy())

	s := FromError("store", fmt.Errorf("cannot reach nats://10.0.0.1:4222 with token=abc123"))
	assert.True(t, s.IsUnhealthy())
	assert.NotContains(t, s.Message, "10.0.0.1")
	assert.NotContains(t, s.Message, "abc123")
}

func TestRedact(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"failed to open /etc/semlink/config.yaml", "failed to open [PATH]"},
		{"cannot read C:\\Users\\Admin\\config.json", "cannot read [PATH]"},
		{"connection failed to https://api.example.com/v1/health", "connection failed to [URL]"},
		{"cannot connect to nats://localhost:4222", "cannot connect to [URL]"},
		{"timeout connecting to 192.168.1.100", "timeout connecting to [IP]"},
		{"failed to bind to :8080", "failed to bind to [PORT]"},
		{"auth failed: password=hunter2", "auth failed: [REDACTED]"},
		{"endpoint declined the link", "endpoint declined the link"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, redact(tt.input))
		})
	}
}

func TestStatus_WithSubStatusDoesNotShareBacking(t *testing.T) {
	base := NewHealthy("system", "ok").WithSubStatus(NewHealthy("a", "ok"))
	left := base.WithSubStatus(NewDegraded("b", "slow"))
	right := base.WithSubStatus(NewUnhealthy("c", "down"))

	assert.Len(t, base.SubStatuses, 1)
	assert.Equal(t, "b", left.SubStatuses[1].Component)
	assert.Equal(t, "c", right.SubStatuses[1].Component)
}
