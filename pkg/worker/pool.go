package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pool runs processor on a fixed number of goroutines fed from one bounded
// channel. Items may complete in any order.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error
	logger    *slog.Logger
	tally

	mu      sync.Mutex
	items   chan T // nil until Start
	stopped bool
	wg      sync.WaitGroup
}

type Option[T any] func(*Pool[T])

func WithMetrics[T any](m *Metrics) Option[T] {
	return func(p *Pool[T]) { p.metrics = m }
}

func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pool[T]) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool panics on a nil processor. Non-positive sizes mean 4 workers and
// room for 1000 items.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if processor == nil {
		panic(ErrNilProcessor)
	}
	p := &Pool[T]{
		workers:   cmpOr(workers, 4),
		queueSize: cmpOr(queueSize, 1000),
		processor: processor,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func cmpOr(n, fallback int) int {
	if n <= 0 {
		return fallback
	}
	return n
}

// Start launches the workers. They exit once Stop drains the channel or ctx
// is cancelled, whichever comes first.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.items != nil || p.stopped {
		return ErrPoolAlreadyStarted
	}
	p.items = make(chan T, p.queueSize)
	p.wg.Add(p.workers)
	for range p.workers {
		go p.run(ctx, p.items)
	}
	return nil
}

// Submit never blocks; a full channel yields ErrQueueFull.
func (p *Pool[T]) Submit(item T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.stopped:
		return ErrPoolStopped
	case p.items == nil:
		return ErrPoolNotStarted
	}
	select {
	case p.items <- item:
		p.accepted()
		return nil
	default:
		p.rejected()
		return ErrQueueFull
	}
}

// Stop refuses new items and waits up to timeout for accepted ones.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.items == nil || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.items)
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

func (p *Pool[T]) Stats() PoolStats {
	p.mu.Lock()
	depth := len(p.items)
	p.mu.Unlock()
	return p.snapshot(p.workers, p.queueSize, depth)
}

func (p *Pool[T]) run(ctx context.Context, items <-chan T) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-items:
			if !ok {
				return
			}
			start := time.Now()
			err := guard(func() error { return p.processor(ctx, item) })
			if err != nil {
				p.logger.Debug("Work item failed", "error", err)
			}
			p.finished(start, err)
		}
	}
}
