package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Queue delivers items to a single consumer goroutine in submission order.
// Close stops intake, lets the consumer drain what is already queued and
// then runs the final callback, all without blocking the caller.
type Queue[T any] struct {
	ch      chan T
	process func(T)
	final   func()
	done    chan struct{}
	logger  *slog.Logger
	tally

	mu     sync.Mutex
	closed bool
}

// QueueOption configures a Queue
type QueueOption func(*queueOptions)

type queueOptions struct {
	logger  *slog.Logger
	metrics *Metrics
}

// WithQueueLogger sets the logger used to report recovered panics
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(o *queueOptions) {
		o.logger = logger
	}
}

// WithQueueMetrics attaches shared metrics
func WithQueueMetrics(m *Metrics) QueueOption {
	return func(o *queueOptions) {
		o.metrics = m
	}
}

// NewQueue starts a queue holding at most size items. process runs on the
// queue's own goroutine; a panic inside it is recovered and counted as a
// failure.
func NewQueue[T any](size int, process func(T), opts ...QueueOption) *Queue[T] {
	if process == nil {
		panic(ErrNilProcessor)
	}
	if size <= 0 {
		size = 1024
	}

	o := queueOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	q := &Queue[T]{
		ch:      make(chan T, size),
		process: process,
		done:    make(chan struct{}),
		logger:  o.logger,
	}
	q.metrics = o.metrics
	go q.run()
	return q
}

// Submit enqueues item without blocking
func (q *Queue[T]) Submit(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- item:
		q.accepted()
		return nil
	default:
		q.rejected()
		return ErrQueueFull
	}
}

// Close stops intake. Items already queued are still processed, then final
// runs once on the consumer goroutine. Later calls are no-ops and return false.
func (q *Queue[T]) Close(final func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.closed = true
	q.final = final
	close(q.ch)
	return true
}

// Closed reports whether Close has been called
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Done is closed after the queue drained and the final callback returned
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

// Wait blocks until Done or ctx is cancelled
func (q *Queue[T]) Wait(ctx context.Context) error {
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Stats returns a snapshot of the queue counters
func (q *Queue[T]) Stats() PoolStats {
	return q.snapshot(1, cap(q.ch), len(q.ch))
}

func (q *Queue[T]) run() {
	defer close(q.done)

	for item := range q.ch {
		start := time.Now()
		q.finished(start, q.consume(func() { q.process(item) }))
	}

	// q.final is written under q.mu before the channel is closed
	q.mu.Lock()
	final := q.final
	q.mu.Unlock()
	if final != nil {
		_ = q.consume(final)
	}
}

func (q *Queue[T]) consume(fn func()) error {
	err := guard(func() error {
		fn()
		return nil
	})
	if err != nil {
		q.logger.Error("Queue consumer panicked", "error", err)
	}
	return err
}
