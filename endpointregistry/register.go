// Package endpointregistry registers the built-in endpoint factories.
package endpointregistry

import (
	"errors"

	"github.com/c360/semlink/endpoint"
	"github.com/c360/semlink/endpoint/heartbeat"
	"github.com/c360/semlink/endpoint/logsink"
	"github.com/c360/semlink/endpoint/natsbridge"
	pkgerrors "github.com/c360/semlink/errors"
)

// RegisterAll registers every built-in endpoint factory with the registry:
//   - logsink: logs messages arriving on a MULTIPLE port
//   - heartbeat: periodic heartbeat on a SINGLE port
//   - natsbridge: publish to and subscribe from NATS subjects
func RegisterAll(registry *endpoint.Registry) error {
	// Nil registry is a programming error (fatal), not invalid input
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"EndpointRegistry", "RegisterAll", "registry validation")
	}

	if err := logsink.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "EndpointRegistry", "RegisterAll", "logsink registration")
	}
	if err := heartbeat.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "EndpointRegistry", "RegisterAll", "heartbeat registration")
	}
	if err := natsbridge.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "EndpointRegistry", "RegisterAll", "natsbridge registration")
	}
	return nil
}
