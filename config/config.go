package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/c360/semlink/endpoint"
	"github.com/c360/semlink/errors"
	"github.com/c360/semlink/pkg/tlsutil"
)

// Defaults applied by Validate to unset fields
const (
	DefaultPlatformID       = "semlink"
	DefaultQueueSize        = 1024
	DefaultDrainTimeout     = 10 * time.Second
	DefaultPendingThreshold = 5 * time.Minute
	DefaultEventsSubject    = "semlink.events"
	DefaultWiringBucket     = "semlink_wiring"
	DefaultHTTPPort         = 8080
	DefaultMetricsPort      = 9090
	DefaultMetricsPath      = "/metrics"
)

// EndpointConfigs holds endpoint instance configurations keyed by pid.
// An endpoint is only created when its factory is registered and the
// entry is enabled.
type EndpointConfigs map[string]EndpointConfig

// EndpointConfig selects a factory and carries its raw configuration
type EndpointConfig struct {
	Factory string          `json:"factory"`
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// Config is the complete application configuration
type Config struct {
	Version   string          `json:"version"`
	Platform  PlatformConfig  `json:"platform"`
	Manager   ManagerConfig   `json:"manager"`
	NATS      NATSConfig      `json:"nats"`
	Wiring    WiringConfig    `json:"wiring"`
	Endpoints EndpointConfigs `json:"endpoints"`
	HTTP      HTTPConfig      `json:"http"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// PlatformConfig identifies this instance
type PlatformConfig struct {
	ID          string `json:"id"`
	Environment string `json:"environment,omitempty"` // "prod", "dev", "test"
}

// ManagerConfig tunes the connection manager
type ManagerConfig struct {
	AutoConnect      bool     `json:"auto_connect"`
	QueueSize        int      `json:"queue_size,omitempty"`
	DrainTimeout     Duration `json:"drain_timeout,omitempty"`
	PendingThreshold Duration `json:"pending_threshold,omitempty"` // age at which waiting requests degrade health
}

// NATSConfig defines NATS connection settings. Without URLs semlink runs
// without NATS: no wiring store, no event publishing, no natsbridge.
type NATSConfig struct {
	URLs          []string `json:"urls,omitempty"`
	MaxReconnects int      `json:"max_reconnects,omitempty"`
	ReconnectWait Duration `json:"reconnect_wait,omitempty"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	Token         string   `json:"token,omitempty"`
	EventsSubject string   `json:"events_subject,omitempty"`

	TLS tlsutil.ClientConfig `json:"tls,omitempty"`
}

// Enabled reports whether a NATS server is configured
func (n NATSConfig) Enabled() bool {
	return len(n.URLs) > 0
}

// WiringConfig lists desired connections
type WiringConfig struct {
	Bucket string       `json:"bucket,omitempty"`
	Rules  []RuleConfig `json:"rules,omitempty"`
}

// RuleConfig is one desired connection given as two "pid/port" strings
type RuleConfig struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// HTTPConfig configures the management gateway
type HTTPConfig struct {
	Port int                  `json:"port,omitempty"`
	TLS  tlsutil.ServerConfig `json:"tls,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Duration is a time.Duration that reads "1m30s" strings or nanosecond numbers
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON writes the duration as a string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(val))
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
	return nil
}

// Default returns a configuration with every default filled in
func Default() *Config {
	cfg := &Config{}
	_ = cfg.Validate()
	return cfg
}

// Validate fills defaults and checks the configuration
func (c *Config) Validate() error {
	if c.Platform.ID == "" {
		c.Platform.ID = DefaultPlatformID
	}
	if !isValidNATSSubjectPart(c.Platform.ID) {
		return invalid("platform.id %q is not valid for NATS subjects", c.Platform.ID)
	}

	if err := c.validateManager(); err != nil {
		return err
	}
	if err := c.validateNATS(); err != nil {
		return err
	}
	if err := c.validateWiring(); err != nil {
		return err
	}
	if err := c.validateEndpoints(); err != nil {
		return err
	}
	return c.validateServers()
}

func (c *Config) validateManager() error {
	m := &c.Manager
	if m.QueueSize < 0 {
		return invalid("manager.queue_size must not be negative, got %d", m.QueueSize)
	}
	if m.QueueSize == 0 {
		m.QueueSize = DefaultQueueSize
	}
	if m.DrainTimeout < 0 || m.PendingThreshold < 0 {
		return invalid("manager durations must not be negative")
	}
	if m.DrainTimeout == 0 {
		m.DrainTimeout = Duration(DefaultDrainTimeout)
	}
	if m.PendingThreshold == 0 {
		m.PendingThreshold = Duration(DefaultPendingThreshold)
	}
	return nil
}

func (c *Config) validateNATS() error {
	n := &c.NATS
	for i, u := range n.URLs {
		if !strings.HasPrefix(u, "nats://") && !strings.HasPrefix(u, "tls://") {
			return invalid("nats.urls[%d] %q must use nats:// or tls://", i, u)
		}
	}
	if n.MaxReconnects == 0 {
		n.MaxReconnects = -1
	}
	if n.ReconnectWait == 0 {
		n.ReconnectWait = Duration(2 * time.Second)
	}
	if n.EventsSubject == "" {
		n.EventsSubject = DefaultEventsSubject
	}
	if !isValidNATSSubjectPart(n.EventsSubject) {
		return invalid("nats.events_subject %q is not a literal NATS subject", n.EventsSubject)
	}
	if err := n.TLS.Validate(); err != nil {
		return invalid("nats.tls: %v", err)
	}
	return nil
}

func (c *Config) validateWiring() error {
	if c.Wiring.Bucket == "" {
		c.Wiring.Bucket = DefaultWiringBucket
	}
	for i, r := range c.Wiring.Rules {
		if _, err := endpoint.ParsePortRef(r.From); err != nil {
			return errors.Wrap(err, "Config", "Validate", fmt.Sprintf("wiring.rules[%d].from", i))
		}
		if _, err := endpoint.ParsePortRef(r.To); err != nil {
			return errors.Wrap(err, "Config", "Validate", fmt.Sprintf("wiring.rules[%d].to", i))
		}
	}
	return nil
}

func (c *Config) validateEndpoints() error {
	for pid, ec := range c.Endpoints {
		if pid == "" {
			return invalid("endpoint pid cannot be empty")
		}
		if ec.Enabled && ec.Factory == "" {
			return invalid("endpoint %s: factory is required", pid)
		}
		if len(ec.Config) > 0 && !json.Valid(ec.Config) {
			return invalid("endpoint %s: config is not valid JSON", pid)
		}
	}
	return nil
}

func (c *Config) validateServers() error {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	for name, port := range map[string]int{"http.port": c.HTTP.Port, "metrics.port": c.Metrics.Port} {
		if port < 1 || port > 65535 {
			return invalid("%s %d is out of range", name, port)
		}
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return invalid("metrics.path %q must start with /", c.Metrics.Path)
	}
	if err := c.HTTP.TLS.Validate(); err != nil {
		return invalid("http.tls: %v", err)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
		"Config", "Validate", "configuration check")
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	// Use JSON marshaling/unmarshaling for deep copy
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String returns a JSON representation with credentials masked
func (c *Config) String() string {
	safe := c.Clone()
	if safe.NATS.Password != "" {
		safe.NATS.Password = "****"
	}
	if safe.NATS.Token != "" {
		safe.NATS.Token = "****"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "nil config")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "SafeConfig", "Update", "validate config")
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg.Clone()
	return nil
}
