package gateway

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/c360/semlink/errors"
)

// Config holds configuration for the management gateway
type Config struct {
	// Port the HTTP server listens on
	Port int `json:"port"`

	// EnableCORS enables CORS headers (default: false, requires explicit cors_origins)
	EnableCORS bool `json:"enable_cors"`

	// CORSOrigins lists allowed CORS origins (required when EnableCORS is true)
	// Use ["*"] for development only
	CORSOrigins []string `json:"cors_origins,omitempty"`

	// MaxRequestSize limits request body size in bytes (default: 1MB)
	MaxRequestSize int64 `json:"max_request_size,omitempty"`

	// RequestRetention is how long a settled request stays visible under
	// /api/requests/{id} (default: 5m)
	RequestRetention time.Duration `json:"request_retention,omitempty"`

	// WriteTimeout bounds a single websocket write (default: 10s)
	WriteTimeout time.Duration `json:"write_timeout,omitempty"`

	// PingInterval is the websocket keepalive period (default: 30s)
	PingInterval time.Duration `json:"ping_interval,omitempty"`

	// TLS serves HTTPS and WSS when set
	TLS *tls.Config `json:"-"`
}

// DefaultConfig returns the gateway defaults
func DefaultConfig() Config {
	return Config{
		Port:             8080,
		MaxRequestSize:   1 << 20,
		RequestRetention: 5 * time.Minute,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
	}
}

// Validate fills defaults and checks ranges
func (c *Config) Validate() error {
	d := DefaultConfig()
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = d.MaxRequestSize
	}
	if c.RequestRetention == 0 {
		c.RequestRetention = d.RequestRetention
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = d.PingInterval
	}

	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("port %d out of range", c.Port))
	}
	if c.MaxRequestSize < 0 || c.MaxRequestSize > 100<<20 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size must be between 1 byte and 100MB")
	}
	if c.RequestRetention < 0 || c.WriteTimeout < 0 || c.PingInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"durations must not be negative")
	}
	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"cors_origins must be set when enable_cors is true")
	}
	return nil
}
