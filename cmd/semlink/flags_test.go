package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlagSet(t *testing.T) {
	t.Setenv("SEMLINK_LOG_FORMAT", "text")
	t.Setenv("SEMLINK_SHUTDOWN_TIMEOUT", "5s")

	cfg := parseFlagSet(flag.NewFlagSet("test", flag.ContinueOnError),
		[]string{"-c", "semlink.yaml", "--log-level=warn", "--validate"})

	assert.Equal(t, "semlink.yaml", cfg.ConfigPath)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.Validate)
}

func TestParseFlagSet_DebugOverridesLevel(t *testing.T) {
	cfg := parseFlagSet(flag.NewFlagSet("test", flag.ContinueOnError),
		[]string{"--log-level=error", "--debug"})
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidateFlags(t *testing.T) {
	valid := func() *CLIConfig {
		return &CLIConfig{LogLevel: "info", LogFormat: "json", ShutdownTimeout: time.Second}
	}

	tests := []struct {
		name    string
		mutate  func(c *CLIConfig)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*CLIConfig) {}},
		{name: "missing config file", mutate: func(c *CLIConfig) { c.ConfigPath = "/nonexistent/semlink.json" }, wantErr: true},
		{name: "bad level", mutate: func(c *CLIConfig) { c.LogLevel = "trace" }, wantErr: true},
		{name: "bad format", mutate: func(c *CLIConfig) { c.LogFormat = "xml" }, wantErr: true},
		{name: "zero timeout", mutate: func(c *CLIConfig) { c.ShutdownTimeout = 0 }, wantErr: true},
		{name: "version skips checks", mutate: func(c *CLIConfig) { c.ShowVersion = true; c.LogLevel = "bogus" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := validateFlags(c)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, appName, line["service"])
	assert.Equal(t, Version, line["version"])
	assert.Equal(t, "value", line["key"])
}

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("SEMLINK_PLATFORM_ID", "edge1")

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "edge1", cfg.Platform.ID)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.False(t, cfg.NATS.Enabled())
}
