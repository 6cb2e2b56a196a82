package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/c360/semlink/errors"
	"github.com/c360/semlink/metric"
	"github.com/c360/semlink/pkg/worker"
)

// DefaultSubject is the subject prefix used when none is configured
const DefaultSubject = "semlink.events"

// Publisher is the subset of natsclient.Client the NATS publisher needs
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NATSPublisher publishes every observed event as JSON on <subject>.<kind>.
// Observe hands the event to a worker pool and returns at once; events that
// arrive while the pool is saturated are dropped and counted.
type NATSPublisher struct {
	client  Publisher
	subject string
	pool    *worker.Pool[Event]
	logger  *slog.Logger
	timeout time.Duration
}

// PublisherOption configures a NATSPublisher
type PublisherOption func(*publisherOptions)

type publisherOptions struct {
	subject  string
	workers  int
	queue    int
	timeout  time.Duration
	logger   *slog.Logger
	registry *metric.MetricsRegistry
}

// WithSubject sets the subject prefix
func WithSubject(subject string) PublisherOption {
	return func(o *publisherOptions) {
		if subject != "" {
			o.subject = strings.TrimSuffix(subject, ".")
		}
	}
}

// WithWorkers sets the number of publishing goroutines and the queue size
func WithWorkers(workers, queue int) PublisherOption {
	return func(o *publisherOptions) {
		o.workers = workers
		o.queue = queue
	}
}

// WithPublishTimeout bounds each publish call
func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(o *publisherOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(o *publisherOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPublisherMetrics registers queue metrics under the "events" service
func WithPublisherMetrics(registry *metric.MetricsRegistry) PublisherOption {
	return func(o *publisherOptions) {
		o.registry = registry
	}
}

// NewNATSPublisher creates a publisher. Call Start before events are observed.
func NewNATSPublisher(client Publisher, opts ...PublisherOption) (*NATSPublisher, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "NATSPublisher", "NewNATSPublisher", "client check")
	}

	o := publisherOptions{
		subject: DefaultSubject,
		workers: 2,
		queue:   1000,
		timeout: 5 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	p := &NATSPublisher{
		client:  client,
		subject: o.subject,
		logger:  o.logger.With("component", "event-publisher"),
		timeout: o.timeout,
	}

	metrics, err := worker.NewMetrics(o.registry, "events", "publish")
	if err != nil {
		return nil, errors.Wrap(err, "NATSPublisher", "NewNATSPublisher", "register metrics")
	}
	p.pool = worker.NewPool(o.workers, o.queue, p.publish,
		worker.WithMetrics[Event](metrics),
		worker.WithLogger[Event](p.logger))
	return p, nil
}

// Subject returns the subject an event of kind is published on
func (p *NATSPublisher) Subject(kind Kind) string {
	return p.subject + "." + string(kind)
}

// Start starts the publishing workers
func (p *NATSPublisher) Start(ctx context.Context) error {
	if err := p.pool.Start(ctx); err != nil {
		return errors.WrapInvalid(err, "NATSPublisher", "Start", "start worker pool")
	}
	return nil
}

// Stop waits up to timeout for queued events to be published
func (p *NATSPublisher) Stop(timeout time.Duration) error {
	return errors.WrapTransient(p.pool.Stop(timeout), "NATSPublisher", "Stop", "drain worker pool")
}

// Observe implements Observer
func (p *NATSPublisher) Observe(ev Event) {
	if err := p.pool.Submit(ev); err != nil {
		p.logger.Debug("Event not published", "kind", string(ev.Kind), "id", ev.ID, "error", err)
	}
}

// Stats returns the worker pool statistics
func (p *NATSPublisher) Stats() worker.PoolStats {
	return p.pool.Stats()
}

func (p *NATSPublisher) publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.WrapInvalid(err, "NATSPublisher", "publish", "marshal event")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.Subject(ev.Kind), data); err != nil {
		p.logger.Warn("Failed to publish event", "kind", string(ev.Kind), "error", err)
		return errors.WrapTransient(err, "NATSPublisher", "publish", "publish "+string(ev.Kind))
	}
	return nil
}
