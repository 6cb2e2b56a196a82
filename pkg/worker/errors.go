package worker

import "github.com/c360/semlink/errors"

var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolStopped        = errors.New("worker pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	ErrQueueClosed        = errors.New("queue closed")
	ErrNilProcessor       = errors.New("processor function cannot be nil")
	ErrStopTimeout        = errors.New("timeout waiting for workers to stop")

	// ErrQueueFull is the connection taxonomy's error, so callers can match
	// it without importing this package.
	ErrQueueFull = errors.ErrQueueFull

	errPanicked = errors.New("worker panic")
)
