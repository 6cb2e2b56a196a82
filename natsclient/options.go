package natsclient

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/semlink/metric"
	"github.com/c360/semlink/pkg/retry"
)

// ClientOption configures a Client. Options that map onto nats.go settings
// are appended after the defaults, so they override them.
type ClientOption func(*Client) error

func dialOption(o nats.Option) ClientOption {
	return func(c *Client) error {
		c.dialOpts = append(c.dialOpts, o)
		return nil
	}
}

func noop(*Client) error { return nil }

// WithMaxReconnects caps reconnection attempts; -1 retries forever.
func WithMaxReconnects(n int) ClientOption {
	return dialOption(nats.MaxReconnects(n))
}

func WithReconnectWait(d time.Duration) ClientOption {
	if d < 0 {
		return func(*Client) error { return fmt.Errorf("negative reconnect wait %v", d) }
	}
	return dialOption(nats.ReconnectWait(d))
}

func WithPingInterval(d time.Duration) ClientOption {
	return dialOption(nats.PingInterval(d))
}

// WithTimeout sets the dial timeout.
func WithTimeout(d time.Duration) ClientOption {
	if d <= 0 {
		return func(*Client) error { return fmt.Errorf("dial timeout must be positive, got %v", d) }
	}
	return dialOption(nats.Timeout(d))
}

// WithDrainTimeout bounds how long Close waits for in-flight messages.
func WithDrainTimeout(d time.Duration) ClientOption {
	return dialOption(nats.DrainTimeout(d))
}

// WithCredentials enables user/password auth when both are set.
func WithCredentials(username, password string) ClientOption {
	if username == "" || password == "" {
		return noop
	}
	return dialOption(nats.UserInfo(username, password))
}

func WithToken(token string) ClientOption {
	if token == "" {
		return noop
	}
	return dialOption(nats.Token(token))
}

// WithTLSConfig dials with TLS. A nil config leaves the connection plain.
func WithTLSConfig(cfg *tls.Config) ClientOption {
	if cfg == nil {
		return noop
	}
	return dialOption(nats.Secure(cfg))
}

// WithName sets the client name shown in server connz output.
func WithName(name string) ClientOption {
	return dialOption(nats.Name(name))
}

// WithConnectRetry replaces the backoff Connect uses for the initial dial.
func WithConnectRetry(cfg retry.Config) ClientOption {
	return func(c *Client) error {
		c.connectRetry = cfg
		return nil
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

func WithDisconnectCallback(fn func(error)) ClientOption {
	return func(c *Client) error {
		c.onDisconnect = fn
		return nil
	}
}

func WithReconnectCallback(fn func()) ClientOption {
	return func(c *Client) error {
		c.onReconnect = fn
		return nil
	}
}

// WithMetrics mirrors connection status into the core NATS gauges.
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	if registry == nil {
		return noop
	}
	return func(c *Client) error {
		c.metrics = registry.CoreMetrics()
		return nil
	}
}
