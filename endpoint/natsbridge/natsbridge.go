// Package natsbridge provides an endpoint that connects the manager's
// message flow to NATS subjects.
//
// The "publish" port (MULTIPLE) forwards every message it receives to a NATS
// subject as a JSON envelope. The "subscribe" port (SINGLE) forwards NATS
// messages into its connection, rate limited.
package natsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/c360/semlink/endpoint"
	"github.com/c360/semlink/errors"
)

// FactoryName is the name natsbridge registers under
const FactoryName = "natsbridge"

// Port names
const (
	PublishPort   = "publish"
	SubscribePort = "subscribe"
)

// Config holds configuration for a NATS bridge. At least one of Subject and
// Subscribe must be set; each enables its port.
type Config struct {
	// Subject receives messages arriving on the publish port
	Subject string `json:"subject,omitempty"`
	// Accepts lists the types the publish port takes (default: [">"])
	Accepts []string `json:"accepts,omitempty"`
	// Subscribe is the NATS subject (wildcards allowed) fed into the subscribe port
	Subscribe string `json:"subscribe,omitempty"`
	// MessageType names inbound messages for port matching (default: "nats.message")
	MessageType string `json:"message_type,omitempty"`
	// RateLimit caps inbound messages per second (default: 100)
	RateLimit float64 `json:"rate_limit,omitempty"`
	// Burst is the inbound burst size (default: 10)
	Burst int `json:"burst,omitempty"`
	// PublishTimeout bounds one publish (default: "5s")
	PublishTimeout string `json:"publish_timeout,omitempty"`
}

const schema = `{
  "type": "object",
  "properties": {
    "subject":         {"type": "string", "minLength": 1},
    "accepts":         {"type": "array", "items": {"type": "string", "minLength": 1}},
    "subscribe":       {"type": "string", "minLength": 1},
    "message_type":    {"type": "string", "minLength": 1},
    "rate_limit":      {"type": "number", "minimum": 0},
    "burst":           {"type": "integer", "minimum": 1},
    "publish_timeout": {"type": "string"}
  },
  "anyOf": [{"required": ["subject"]}, {"required": ["subscribe"]}],
  "additionalProperties": false
}`

// Message is a NATS message delivered through the subscribe port
type Message struct {
	Type    string          `json:"type"`
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

// MessageType implements endpoint.Typed
func (m Message) MessageType() string {
	return m.Type
}

// Envelope is what the publish port writes to NATS
type Envelope struct {
	Type string          `json:"type"`
	From string          `json:"from"`
	PID  string          `json:"pid"`
	Time time.Time       `json:"time"`
	Data json.RawMessage `json:"data"`
}

// natsConn is the part of natsclient.Client the bridge uses
type natsConn interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string,
		handler func(ctx context.Context, subject string, data []byte)) (*nats.Subscription, error)
}

// Bridge is the natsbridge endpoint
type Bridge struct {
	pid            string
	cfg            Config
	client         natsConn
	limiter        *rate.Limiter
	publishTimeout time.Duration
	logger         *slog.Logger

	published atomic.Int64
	forwarded atomic.Int64
	dropped   atomic.Int64
}

// Stats reports message counts
type Stats struct {
	Published int64 `json:"published"`
	Forwarded int64 `json:"forwarded"`
	Dropped   int64 `json:"dropped"`
}

// Stats returns the bridge counters
func (b *Bridge) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Forwarded: b.forwarded.Load(),
		Dropped:   b.dropped.Load(),
	}
}

// OnConnect implements endpoint.Endpoint
func (b *Bridge) OnConnect(conn endpoint.Connection) (endpoint.MessageHandler, error) {
	switch conn.LocalPort().Name {
	case PublishPort:
		return b.publisher(conn), nil
	case SubscribePort:
		return b.subscriber(conn)
	default:
		return nil, nil
	}
}

func (b *Bridge) publisher(conn endpoint.Connection) endpoint.MessageHandler {
	from := conn.Peer().String()
	return endpoint.HandlerFuncs{
		OnMessage: func(msg any) {
			data, err := json.Marshal(msg)
			if err != nil {
				b.dropped.Add(1)
				b.logger.Warn("Message not encodable, dropped", "from", from, "error", err)
				return
			}
			env, err := json.Marshal(Envelope{
				Type: endpoint.TypeOf(msg),
				From: from,
				PID:  b.pid,
				Time: time.Now().UTC(),
				Data: data,
			})
			if err != nil {
				b.dropped.Add(1)
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), b.publishTimeout)
			defer cancel()
			if err := b.client.Publish(ctx, b.cfg.Subject, env); err != nil {
				b.dropped.Add(1)
				b.logger.Warn("Publish failed", "subject", b.cfg.Subject, "error", err)
				return
			}
			b.published.Add(1)
		},
	}
}

func (b *Bridge) subscriber(conn endpoint.Connection) (endpoint.MessageHandler, error) {
	sub, err := b.client.Subscribe(context.Background(), b.cfg.Subscribe,
		func(_ context.Context, subject string, data []byte) {
			if !b.limiter.Allow() {
				b.dropped.Add(1)
				return
			}
			payload := json.RawMessage(data)
			if !json.Valid(data) {
				// non-JSON payloads travel as a JSON string
				payload, _ = json.Marshal(string(data))
			}
			msg := Message{Type: b.cfg.MessageType, Subject: subject, Data: payload}
			if err := conn.SendMessage(msg); err != nil {
				b.dropped.Add(1)
				b.logger.Debug("Inbound message not forwarded", "subject", subject, "error", err)
				return
			}
			b.forwarded.Add(1)
		})
	if err != nil {
		return nil, errors.Wrap(err, "Bridge", "OnConnect", "subscribe to "+b.cfg.Subscribe)
	}

	b.logger.Info("Bridge subscribed", "subject", b.cfg.Subscribe, "peer", conn.Peer().String())
	return endpoint.HandlerFuncs{
		OnDisconnected: func() {
			if sub == nil {
				return
			}
			if err := sub.Unsubscribe(); err != nil {
				b.logger.Debug("Unsubscribe failed", "subject", b.cfg.Subscribe, "error", err)
			}
		},
	}, nil
}

func parseConfig(rawConfig json.RawMessage) (Config, time.Duration, error) {
	cfg := Config{}
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return cfg, 0, errors.WrapInvalid(err, "Bridge", "New", "config unmarshal")
		}
	}
	if cfg.Subject == "" && cfg.Subscribe == "" {
		return cfg, 0, errors.WrapInvalid(errors.ErrInvalidConfig, "Bridge", "New",
			"subject or subscribe is required")
	}
	if len(cfg.Accepts) == 0 {
		cfg.Accepts = []string{">"}
	}
	if cfg.MessageType == "" {
		cfg.MessageType = "nats.message"
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	timeout := 5 * time.Second
	if cfg.PublishTimeout != "" {
		d, err := time.ParseDuration(cfg.PublishTimeout)
		if err != nil || d <= 0 {
			return cfg, 0, errors.WrapInvalid(
				fmt.Errorf("%w: publish_timeout %q", errors.ErrInvalidConfig, cfg.PublishTimeout),
				"Bridge", "New", "timeout parse")
		}
		timeout = d
	}
	return cfg, timeout, nil
}

func newBridge(pid string, rawConfig json.RawMessage, client natsConn, logger *slog.Logger) (endpoint.Registration, error) {
	cfg, timeout, err := parseConfig(rawConfig)
	if err != nil {
		return endpoint.Registration{}, err
	}

	b := &Bridge{
		pid:            pid,
		cfg:            cfg,
		client:         client,
		limiter:        rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		publishTimeout: timeout,
		logger:         logger.With("component", "natsbridge", "pid", pid),
	}

	var ports []endpoint.Port
	if cfg.Subject != "" {
		ports = append(ports, endpoint.Port{
			Name:        PublishPort,
			Cardinality: endpoint.CardinalityMultiple,
			Accepts:     cfg.Accepts,
			Description: "Publishes received messages to " + cfg.Subject,
		})
	}
	if cfg.Subscribe != "" {
		ports = append(ports, endpoint.Port{
			Name:        SubscribePort,
			Cardinality: endpoint.CardinalitySingle,
			Sends:       []string{cfg.MessageType},
			Description: "Forwards messages from " + cfg.Subscribe,
		})
	}
	return endpoint.Registration{PID: pid, Ports: ports, Endpoint: b}, nil
}

// New creates a NATS bridge registration. A NATS client is required.
func New(pid string, rawConfig json.RawMessage, deps endpoint.Dependencies) (endpoint.Registration, error) {
	if deps.NATSClient == nil {
		return endpoint.Registration{}, errors.WrapFatal(errors.ErrNoConnection, "Bridge", "New", "NATS client required")
	}
	return newBridge(pid, rawConfig, deps.NATSClient, deps.GetLogger())
}

// Register registers the NATS bridge factory
func Register(registry *endpoint.Registry) error {
	return registry.RegisterFactory(endpoint.FactoryInfo{
		Name:        FactoryName,
		Description: "Bridges ports to NATS subjects: publish (MULTIPLE) and subscribe (SINGLE)",
		Version:     "0.1.0",
		Schema:      schema,
		Factory:     New,
	})
}
