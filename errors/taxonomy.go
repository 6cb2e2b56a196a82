package errors

import "errors"

// Connection taxonomy. Every error returned by the connection manager matches
// exactly one of these with errors.Is.
var (
	ErrUnknownEndpoint   = errors.New("unknown endpoint")
	ErrUnknownPort       = errors.New("unknown port")
	ErrIncompatible      = errors.New("ports are not compatible")
	ErrNotConnectable    = errors.New("ports are not connectable")
	ErrConnectDeclined   = errors.New("endpoint declined the link")
	ErrRequestCancelled  = errors.New("request cancelled")
	ErrDuplicateEndpoint = errors.New("endpoint already registered")
	ErrInvalidPort       = errors.New("invalid port descriptor")
	ErrManagerClosed     = errors.New("manager closed")
	ErrNotConnected      = errors.New("link is not connected")

	// ErrAwaitTimeout is returned when a timed wait elapses before the
	// request resolved. The request itself stays pending.
	ErrAwaitTimeout = errors.New("await deadline elapsed")
	// ErrQueueFull is returned when a handler's delivery queue is at capacity
	ErrQueueFull = errors.New("delivery queue full")
)

// Infrastructure conditions raised by the ambient packages.
var (
	ErrNoConnection       = errors.New("no connection available")
	ErrConnectionLost     = errors.New("connection lost")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrKeyNotFound        = errors.New("key not found")

	ErrInvalidData   = errors.New("invalid data format")
	ErrParsingFailed = errors.New("parsing failed")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	ErrAlreadyStarted    = errors.New("component already started")
	ErrResourceExhausted = errors.New("resource exhausted")
)

// taxonomy lists the caller-facing connection errors. They are never retried
// automatically.
var taxonomy = []error{
	ErrUnknownEndpoint,
	ErrUnknownPort,
	ErrIncompatible,
	ErrNotConnectable,
	ErrConnectDeclined,
	ErrRequestCancelled,
	ErrDuplicateEndpoint,
	ErrInvalidPort,
	ErrManagerClosed,
	ErrNotConnected,
}

// IsTaxonomy reports whether err is one of the connection taxonomy errors.
func IsTaxonomy(err error) bool {
	return matchesAny(err, taxonomy)
}

func matchesAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
