// Package logsink provides an endpoint that logs every message it receives
package logsink

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/c360/semlink/endpoint"
	"github.com/c360/semlink/errors"
)

// FactoryName is the name logsink registers under
const FactoryName = "logsink"

// Config holds configuration for a log sink
type Config struct {
	// Port is the name of the input port (default: "in")
	Port string `json:"port,omitempty"`
	// Accepts lists accepted message types; wildcards allowed (default: [">"])
	Accepts []string `json:"accepts,omitempty"`
	// Level is "debug" or "info" (default: "info")
	Level string `json:"level,omitempty"`
}

const schema = `{
  "type": "object",
  "properties": {
    "port":    {"type": "string", "minLength": 1, "pattern": "^[^/\\s]+$"},
    "accepts": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "level":   {"type": "string", "enum": ["debug", "info"]}
  },
  "additionalProperties": false
}`

// DefaultConfig returns the default log sink configuration
func DefaultConfig() Config {
	return Config{Port: "in", Accepts: []string{">"}, Level: "info"}
}

// Sink logs each message arriving on any of its connections
type Sink struct {
	pid      string
	logger   *slog.Logger
	level    slog.Level
	received atomic.Int64
	links    atomic.Int64
}

// Received returns the number of messages logged so far
func (s *Sink) Received() int64 {
	return s.received.Load()
}

// Links returns the number of live connections
func (s *Sink) Links() int64 {
	return s.links.Load()
}

// OnConnect implements endpoint.Endpoint
func (s *Sink) OnConnect(conn endpoint.Connection) (endpoint.MessageHandler, error) {
	peer := conn.Peer().String()
	s.links.Add(1)
	s.logger.Info("Log sink connected", "peer", peer, "connection", conn.ID())

	return endpoint.HandlerFuncs{
		OnMessage: func(msg any) {
			s.received.Add(1)
			s.logger.Log(context.Background(), s.level, "Message received",
				"from", peer, "type", endpoint.TypeOf(msg), "message", msg)
		},
		OnDisconnected: func() {
			s.logger.Info("Log sink disconnected", "peer", peer)
			s.links.Add(-1)
		},
	}, nil
}

// New creates a log sink registration from raw configuration
func New(pid string, rawConfig json.RawMessage, deps endpoint.Dependencies) (endpoint.Registration, error) {
	cfg := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return endpoint.Registration{}, errors.WrapInvalid(err, "LogSink", "New", "config unmarshal")
		}
	}
	if cfg.Port == "" {
		cfg.Port = "in"
	}
	if len(cfg.Accepts) == 0 {
		cfg.Accepts = []string{">"}
	}

	level := slog.LevelInfo
	if cfg.Level == "debug" {
		level = slog.LevelDebug
	}

	sink := &Sink{
		pid:    pid,
		logger: deps.GetLogger().With("component", "logsink", "pid", pid),
		level:  level,
	}
	return endpoint.Registration{
		PID: pid,
		Ports: []endpoint.Port{{
			Name:        cfg.Port,
			Cardinality: endpoint.CardinalityMultiple,
			Accepts:     cfg.Accepts,
			Description: "Logs every message received",
		}},
		Endpoint: sink,
	}, nil
}

// Register registers the log sink factory
func Register(registry *endpoint.Registry) error {
	return registry.RegisterFactory(endpoint.FactoryInfo{
		Name:        FactoryName,
		Description: "Logs every message received on a MULTIPLE input port",
		Version:     "0.1.0",
		Schema:      schema,
		Factory:     New,
	})
}
