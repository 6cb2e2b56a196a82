package endpoint

import (
	"log/slog"

	"github.com/c360/semlink/metric"
	"github.com/c360/semlink/natsclient"
)

// Dependencies provides the shared infrastructure an endpoint factory may use.
// Factories must not perform I/O; connections to external systems are opened
// from OnConnect.
type Dependencies struct {
	NATSClient      *natsclient.Client      // optional, required by NATS-backed endpoints
	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger            // optional, defaults to slog.Default()
}

// GetLogger returns the configured logger or the process default
func (d Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
