package health

import (
	"fmt"
	"time"

	"github.com/c360/semlink/connection"
	"github.com/c360/semlink/natsclient"
)

// DefaultPendingThreshold is how long a request may wait before the manager
// reports degraded
const DefaultPendingThreshold = 5 * time.Minute

// FromManager derives the connection manager's health from its statistics.
// A closed manager is unhealthy. Requests waiting longer than threshold make
// it degraded; threshold <= 0 uses DefaultPendingThreshold.
func FromManager(name string, stats connection.Stats, threshold time.Duration) Status {
	if threshold <= 0 {
		threshold = DefaultPendingThreshold
	}

	var s Status
	switch {
	case stats.Closed:
		s = NewUnhealthy(name, "Connection manager closed")
	case stats.Pending > 0 && stats.OldestPending > threshold:
		s = NewDegraded(name, fmt.Sprintf("%d pending connect requests, oldest waiting %s",
			stats.Pending, stats.OldestPending.Round(time.Second)))
	default:
		s = NewHealthy(name, fmt.Sprintf("%d endpoints, %d connected, %d pending",
			stats.Endpoints, stats.Connected, stats.Pending))
	}
	s.Counts = &Counts{Endpoints: stats.Endpoints, Connected: stats.Connected, Pending: stats.Pending}
	return s
}

// FromNATS maps a NATS client status. Reconnecting counts as degraded.
func FromNATS(name string, cs natsclient.ConnectionStatus) Status {
	switch cs {
	case natsclient.StatusConnected:
		return NewHealthy(name, "Connected to NATS")
	case natsclient.StatusReconnecting, natsclient.StatusConnecting:
		return NewDegraded(name, "NATS connection is "+cs.String())
	default:
		return NewUnhealthy(name, "NATS connection is "+cs.String())
	}
}

// FromError reports err as unhealthy, or healthy when err is nil. The
// message is redacted before it is exposed.
func FromError(name string, err error) Status {
	if err == nil {
		return NewHealthy(name, "OK")
	}
	return NewUnhealthy(name, redact(err.Error()))
}
