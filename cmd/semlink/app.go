package main

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/semlink/config"
	"github.com/c360/semlink/connection"
	"github.com/c360/semlink/endpoint"
	"github.com/c360/semlink/endpointregistry"
	"github.com/c360/semlink/errors"
	"github.com/c360/semlink/events"
	"github.com/c360/semlink/gateway"
	"github.com/c360/semlink/health"
	"github.com/c360/semlink/metric"
	"github.com/c360/semlink/natsclient"
	"github.com/c360/semlink/pkg/tlsutil"
	"github.com/c360/semlink/wiringstore"
)

// natsConnectTimeout bounds the initial connection and the wait after it
const natsConnectTimeout = 10 * time.Second

// Service status values reported through the core metrics
const (
	statusStarting = 1
	statusRunning  = 2
	statusStopping = 3
	statusFailed   = 4
)

// app owns every long-lived part of the process
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	monitor *health.Monitor

	nats      *natsclient.Client
	metrics   *metric.MetricsRegistry
	hub       *events.Hub
	publisher *events.NATSPublisher
	manager   *connection.Manager
	factories *endpoint.Registry
	syncer    *wiringstore.Syncer
	store     *wiringstore.Store
	gateway   *gateway.Server
}

// newApp builds the process from a validated configuration. Endpoints are
// registered and configured wiring rules are issued before it returns.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		monitor: health.NewMonitor(),
		metrics: metric.NewMetricsRegistry(),
		hub:     events.NewHub(logger),
	}
	a.metrics.CoreMetrics().RecordServiceStatus(appName, statusStarting)

	if err := a.setup(ctx); err != nil {
		a.metrics.CoreMetrics().RecordServiceStatus(appName, statusFailed)
		_ = a.close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *app) setup(ctx context.Context) error {
	if a.cfg.NATS.Enabled() {
		if err := a.connectNATS(ctx); err != nil {
			return err
		}
	}

	observers := []events.Observer{a.hub}
	if a.nats != nil {
		pub, err := events.NewNATSPublisher(a.nats,
			events.WithSubject(a.cfg.NATS.EventsSubject),
			events.WithPublisherLogger(a.logger),
			events.WithPublisherMetrics(a.metrics))
		if err != nil {
			return errors.Wrap(err, "app", "setup", "create event publisher")
		}
		// Started before any endpoint registers so startup events are
		// published. Workers outlive ctx so that close can flush them.
		if err := pub.Start(context.WithoutCancel(ctx)); err != nil {
			return errors.Wrap(err, "app", "setup", "start event publisher")
		}
		a.publisher = pub
		observers = append(observers, pub)
	}

	manager, err := connection.NewManager(
		connection.WithLogger(a.logger),
		connection.WithMetricsRegistry(a.metrics),
		connection.WithObserver(events.Multi(observers...)),
		connection.WithQueueSize(a.cfg.Manager.QueueSize),
		connection.WithAutoConnectOnRegister(a.cfg.Manager.AutoConnect),
	)
	if err != nil {
		return errors.Wrap(err, "app", "setup", "create connection manager")
	}
	a.manager = manager
	a.monitor.Register("manager", func() health.Status {
		return health.FromManager("manager", a.manager.Stats(), a.cfg.Manager.PendingThreshold.Std())
	})

	a.factories = endpoint.NewRegistry()
	if err := endpointregistry.RegisterAll(a.factories); err != nil {
		return errors.Wrap(err, "app", "setup", "register endpoint factories")
	}
	a.logger.Info("Endpoint factories registered", "factories", a.factories.ListFactories())

	if err := a.createEndpoints(); err != nil {
		return err
	}

	a.syncer = wiringstore.NewSyncer(a.manager, a.logger)
	if a.nats != nil {
		store, err := wiringstore.NewStore(ctx, a.nats, a.cfg.Wiring.Bucket, a.logger)
		if err != nil {
			return errors.Wrap(err, "app", "setup", "open wiring store")
		}
		a.store = store
	}
	a.applyRules(ctx)

	serverTLS, err := tlsutil.LoadServerConfig(a.cfg.HTTP.TLS)
	if err != nil {
		return errors.Wrap(err, "app", "setup", "load gateway TLS")
	}
	gw, err := gateway.NewServer(gateway.Config{Port: a.cfg.HTTP.Port, TLS: serverTLS}, a.manager,
		gateway.WithLogger(a.logger),
		gateway.WithEventHub(a.hub),
		gateway.WithMetricsRegistry(a.metrics),
		gateway.WithHealth(a.health),
	)
	if err != nil {
		return errors.Wrap(err, "app", "setup", "create gateway")
	}
	a.gateway = gw
	return nil
}

func (a *app) connectNATS(ctx context.Context) error {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(a.logger),
		natsclient.WithName(appName + "-" + a.cfg.Platform.ID),
		natsclient.WithMaxReconnects(a.cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(a.cfg.NATS.ReconnectWait.Std()),
		natsclient.WithMetrics(a.metrics),
	}
	if a.cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(a.cfg.NATS.Username, a.cfg.NATS.Password))
	}
	if a.cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(a.cfg.NATS.Token))
	}
	tlsConfig, err := tlsutil.LoadClientConfig(a.cfg.NATS.TLS)
	if err != nil {
		return errors.Wrap(err, "app", "connectNATS", "load NATS TLS")
	}
	if tlsConfig != nil {
		opts = append(opts, natsclient.WithTLSConfig(tlsConfig))
	}

	client, err := natsclient.NewClient(strings.Join(a.cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return errors.Wrap(err, "app", "connectNATS", "create NATS client")
	}
	a.nats = client
	a.monitor.Register("nats", func() health.Status {
		return health.FromNATS("nats", client.Status())
	})

	connCtx, cancel := context.WithTimeout(ctx, natsConnectTimeout)
	defer cancel()

	a.logger.Info("Connecting to NATS", "urls", a.cfg.NATS.URLs)
	if err := client.Connect(connCtx); err != nil {
		return errors.Wrap(err, "app", "connectNATS", "connect to NATS")
	}
	if err := client.WaitForConnection(connCtx); err != nil {
		return errors.Wrap(err, "app", "connectNATS", "wait for NATS")
	}
	return nil
}

// createEndpoints instantiates every enabled endpoint in pid order
func (a *app) createEndpoints() error {
	deps := endpoint.Dependencies{
		NATSClient:      a.nats,
		MetricsRegistry: a.metrics,
		Logger:          a.logger,
	}

	for _, pid := range slices.Sorted(maps.Keys(a.cfg.Endpoints)) {
		ec := a.cfg.Endpoints[pid]
		if !ec.Enabled {
			a.logger.Info("Endpoint disabled in config", "pid", pid)
			continue
		}

		reg, err := a.factories.Create(pid, ec.Factory, ec.Config, deps)
		if err != nil {
			return errors.Wrap(err, "app", "createEndpoints", "create endpoint "+pid)
		}
		if err := a.manager.Register(reg); err != nil {
			return errors.Wrap(err, "app", "createEndpoints", "register endpoint "+pid)
		}
		a.logger.Debug("Created endpoint", "pid", pid, "factory", ec.Factory)
	}
	return nil
}

// applyRules issues a request per configured rule and records it in the
// wiring store so that other instances watching the bucket see it too.
func (a *app) applyRules(ctx context.Context) {
	for _, rc := range a.cfg.Wiring.Rules {
		rule, err := wiringstore.ParseRule(rc.From, rc.To)
		if err != nil {
			a.logger.Warn("Skipping wiring rule", "from", rc.From, "to", rc.To, "error", err)
			continue
		}
		a.syncer.Apply(rule)

		if a.store == nil {
			continue
		}
		if _, err := a.store.Put(ctx, rule); err != nil {
			a.logger.Warn("Failed to persist wiring rule", "rule", rule.String(), "error", err)
		}
	}
}

// health runs the probes and reports each component's score
func (a *app) health() health.Status {
	status := a.monitor.Check(appName)
	core := a.metrics.CoreMetrics()
	for _, sub := range status.SubStatuses {
		core.RecordHealthStatus(sub.Component, sub.Score())
	}
	return status
}

// run serves until ctx is done or a server fails
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if err := a.gateway.Start(gctx); err != nil {
		return err
	}

	if a.cfg.Metrics.Enabled {
		srv := metric.NewServer(a.cfg.Metrics.Port, a.cfg.Metrics.Path, a.metrics)
		g.Go(func() error { return srv.Serve(gctx) })
		a.logger.Info("Metrics server starting", "port", a.cfg.Metrics.Port, "path", a.cfg.Metrics.Path)
	}

	if a.store != nil {
		changes, err := a.store.Watch(gctx)
		if err != nil {
			return errors.Wrap(err, "app", "run", "watch wiring rules")
		}
		g.Go(func() error {
			if err := a.syncer.Run(gctx, changes); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if a.cfg.Manager.AutoConnect {
		report := a.manager.AutoConnect()
		a.logger.Info("Auto-connect complete",
			"connected", len(report.Connected),
			"failed", len(report.Failed),
			"passes", report.Passes)
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	a.metrics.CoreMetrics().RecordServiceStatus(appName, statusRunning)
	stats := a.manager.Stats()
	a.logger.Info("semlink started",
		"endpoints", stats.Endpoints,
		"connected", stats.Connected,
		"pending", stats.Pending,
		"gateway", a.gateway.Addr())

	return g.Wait()
}

// close stops everything in reverse dependency order. The manager closes
// before the publisher so that the final disconnect events get out.
func (a *app) close(ctx context.Context) error {
	a.metrics.CoreMetrics().RecordServiceStatus(appName, statusStopping)
	var errs []error

	if a.gateway != nil {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := a.gateway.Stop(timeout); err != nil {
			errs = append(errs, err)
		}
	}

	if a.manager != nil {
		drainCtx, cancel := context.WithTimeout(ctx, a.cfg.Manager.DrainTimeout.Std())
		if err := a.manager.Close(drainCtx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}

	if a.publisher != nil {
		if err := a.publisher.Stop(5 * time.Second); err != nil {
			errs = append(errs, err)
		}
	}

	a.hub.Close()

	if a.nats != nil {
		if err := a.nats.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
