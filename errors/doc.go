// Package errors provides standardized error handling for semlink.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid
// (bad input, non-retryable) and Fatal (unrecoverable). On top of that the
// connection manager reports failures through a fixed taxonomy of sentinel
// errors that callers match with errors.Is:
//
//   - ErrUnknownEndpoint, ErrUnknownPort: the pid or port name is not registered
//   - ErrIncompatible: no potential connection exists between the two ports
//   - ErrNotConnectable: a SINGLE end of the pair is already taken
//   - ErrAwaitTimeout: a timed wait on a connection future elapsed
//   - ErrConnectDeclined: an endpoint produced no message handler
//
// Taxonomy errors are always Invalid, even when their text happens to match a
// transient pattern.
//
// # Wrapping
//
// Wrap errors with the component and operation that observed them:
//
//	if err != nil {
//	    return errors.WrapInvalid(err, "Manager", "ConnectEndpointPorts", "resolve ports")
//	}
//
// The resulting message follows "component.method: action failed: cause" and
// the cause stays reachable through errors.Is and errors.As.
package errors
