// Package heartbeat provides an endpoint that emits a periodic heartbeat
// message on a SINGLE port while it is connected.
package heartbeat

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/semlink/endpoint"
	"github.com/c360/semlink/errors"
)

// FactoryName is the name heartbeat registers under
const FactoryName = "heartbeat"

// MessageType is the type name carried by heartbeat messages
const MessageType = "heartbeat"

// Config holds configuration for a heartbeat source
type Config struct {
	Port     string `json:"port,omitempty"`     // default "out"
	Interval string `json:"interval,omitempty"` // default "1s"
}

const schema = `{
  "type": "object",
  "properties": {
    "port":     {"type": "string", "minLength": 1, "pattern": "^[^/\\s]+$"},
    "interval": {"type": "string", "minLength": 2}
  },
  "additionalProperties": false
}`

// Beat is one heartbeat
type Beat struct {
	PID  string    `json:"pid"`
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"time"`
}

// MessageType implements endpoint.Typed
func (Beat) MessageType() string {
	return MessageType
}

// Source sends a Beat every interval on each live connection
type Source struct {
	pid      string
	interval time.Duration
	logger   *slog.Logger
	seq      atomic.Uint64
	sent     atomic.Int64
}

// Sent returns the number of beats delivered to the connection so far
func (s *Source) Sent() int64 {
	return s.sent.Load()
}

// OnConnect implements endpoint.Endpoint. The ticker goroutine runs until
// the handler hears Disconnected.
func (s *Source) OnConnect(conn endpoint.Connection) (endpoint.MessageHandler, error) {
	stop := make(chan struct{})
	var once sync.Once

	go s.run(conn, stop)

	return endpoint.HandlerFuncs{
		OnDisconnected: func() {
			once.Do(func() { close(stop) })
		},
	}, nil
}

func (s *Source) run(conn endpoint.Connection, stop <-chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			// the link may still be finalizing right after OnConnect
			if !conn.IsConnected() {
				continue
			}
			beat := Beat{PID: s.pid, Seq: s.seq.Add(1), Time: now.UTC()}
			if err := conn.SendMessage(beat); err != nil {
				s.logger.Debug("Heartbeat not sent", "peer", conn.Peer().String(), "error", err)
				continue
			}
			s.sent.Add(1)
		}
	}
}

// New creates a heartbeat registration from raw configuration
func New(pid string, rawConfig json.RawMessage, deps endpoint.Dependencies) (endpoint.Registration, error) {
	cfg := Config{Port: "out", Interval: "1s"}
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return endpoint.Registration{}, errors.WrapInvalid(err, "Heartbeat", "New", "config unmarshal")
		}
	}
	if cfg.Port == "" {
		cfg.Port = "out"
	}
	if cfg.Interval == "" {
		cfg.Interval = "1s"
	}

	interval, err := time.ParseDuration(cfg.Interval)
	if err != nil {
		return endpoint.Registration{}, errors.WrapInvalid(err, "Heartbeat", "New", "interval parse")
	}
	if interval < 10*time.Millisecond {
		return endpoint.Registration{}, errors.WrapInvalid(errors.ErrInvalidConfig, "Heartbeat", "New",
			"interval must be at least 10ms")
	}

	return endpoint.Registration{
		PID: pid,
		Ports: []endpoint.Port{{
			Name:        cfg.Port,
			Cardinality: endpoint.CardinalitySingle,
			Sends:       []string{MessageType},
			Description: "Periodic heartbeat while connected",
		}},
		Endpoint: &Source{
			pid:      pid,
			interval: interval,
			logger:   deps.GetLogger().With("component", "heartbeat", "pid", pid),
		},
	}, nil
}

// Register registers the heartbeat factory
func Register(registry *endpoint.Registry) error {
	return registry.RegisterFactory(endpoint.FactoryInfo{
		Name:        FactoryName,
		Description: "Sends heartbeat messages on a SINGLE port while connected",
		Version:     "0.1.0",
		Schema:      schema,
		Factory:     New,
	})
}
