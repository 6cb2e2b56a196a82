package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/semlink/connection"
	"github.com/c360/semlink/errors"
	"github.com/c360/semlink/events"
	"github.com/c360/semlink/health"
	"github.com/c360/semlink/metric"
)

// HealthFunc reports the current system health
type HealthFunc func() health.Status

// Server is the management HTTP API over a connection manager
type Server struct {
	config  Config
	manager *connection.Manager
	hub     *events.Hub
	health  HealthFunc
	logger  *slog.Logger
	metrics *gatewayMetrics

	metricsRegistry *metric.MetricsRegistry

	mux      *http.ServeMux
	upgrader websocket.Upgrader

	// futures issued through the API, kept for RequestRetention after settling
	futuresMu sync.RWMutex
	futures   map[string]*connection.Future

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	clients  map[*eventClient]struct{}
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEventHub enables GET /api/events fed by hub
func WithEventHub(hub *events.Hub) Option {
	return func(s *Server) {
		s.hub = hub
	}
}

// WithHealth sets the function behind GET /api/health
func WithHealth(fn HealthFunc) Option {
	return func(s *Server) {
		s.health = fn
	}
}

// WithMetricsRegistry registers the gateway's collectors
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(s *Server) {
		s.metricsRegistry = registry
	}
}

// NewServer builds the gateway. The manager is required.
func NewServer(cfg Config, manager *connection.Manager, opts ...Option) (*Server, error) {
	if manager == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Server", "NewServer", "connection manager is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Server", "NewServer", "config validation")
	}

	s := &Server{
		config:   cfg,
		manager:  manager,
		logger:   slog.Default(),
		futures:  make(map[string]*connection.Future),
		clients:  make(map[*eventClient]struct{}),
		shutdown: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "gateway")

	m, err := newGatewayMetrics(s.metricsRegistry)
	if err != nil {
		return nil, err
	}
	s.metrics = m

	if s.health == nil {
		s.health = func() health.Status {
			return health.FromManager("connection-manager", manager.Stats(), health.DefaultPendingThreshold)
		}
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	s.mux = http.NewServeMux()
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.handle("GET /api/endpoints", "endpoints", s.listEndpoints)
	s.handle("GET /api/endpoints/{pid}", "endpoint", s.getEndpoint)
	s.handle("GET /api/connections", "connections", s.listConnections)
	s.handle("POST /api/connections", "connect", s.connect)
	s.handle("DELETE /api/connections/{id...}", "disconnect", s.disconnect)
	s.handle("GET /api/requests", "requests", s.listRequests)
	s.handle("POST /api/requests", "request", s.createRequest)
	s.handle("GET /api/requests/{id}", "request_get", s.getRequest)
	s.handle("DELETE /api/requests/{id}", "request_cancel", s.cancelRequest)
	s.handle("POST /api/autoconnect", "autoconnect", s.autoConnect)
	s.handle("GET /api/stats", "stats", s.stats)
	s.handle("GET /api/health", "health", s.getHealth)
	s.mux.HandleFunc("GET /api/events", s.streamEvents)
	if s.config.EnableCORS {
		s.mux.HandleFunc("OPTIONS /api/", func(w http.ResponseWriter, r *http.Request) {
			s.applyCORS(w, r)
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

// handle wraps a route with request ids, CORS, body limits and metrics
func (s *Server) handle(pattern, route string, fn http.HandlerFunc) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := getOrGenerateRequestID(r)
		w.Header().Set("X-Request-ID", requestID)
		if s.config.EnableCORS {
			s.applyCORS(w, r)
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)

		s.metrics.requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		s.metrics.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		s.logger.Debug("HTTP request",
			"request_id", requestID, "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(start))
	})
}

// Handler returns the HTTP handler serving the API
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on the configured port and serves until Stop
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "gateway already running")
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", "listen")
	}
	if s.config.TLS != nil {
		ln = tls.NewListener(ln, s.config.TLS)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Gateway server failed", "error", err)
		}
	}()
	s.logger.Info("Gateway listening", "address", ln.Addr().String(), "tls", s.config.TLS != nil)
	return nil
}

// Addr returns the listen address, empty before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the HTTP server down, closes event streams and waits for
// their goroutines up to timeout.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	srv := s.server
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
	for c := range s.clients {
		c.close()
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, errors.WrapTransient(ctx.Err(), "Server", "Stop", "wait for event streams"))
	}

	s.metrics.unregister()
	return err
}

// trackFuture remembers a future issued through the API until it has been
// settled for RequestRetention.
func (s *Server) trackFuture(f *connection.Future) {
	s.futuresMu.Lock()
	s.futures[f.ID()] = f
	s.futuresMu.Unlock()

	if !s.addWorker() {
		return
	}
	go func() {
		defer s.wg.Done()
		select {
		case <-f.Done():
		case <-s.shutdown:
			return
		}
		timer := time.NewTimer(s.config.RequestRetention)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.shutdown:
		}
		s.futuresMu.Lock()
		delete(s.futures, f.ID())
		s.futuresMu.Unlock()
	}()
}

// addWorker counts a background goroutine unless Stop has begun
func (s *Server) addWorker() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.shutdown:
		return false
	default:
	}
	s.wg.Add(1)
	return true
}

func (s *Server) lookupFuture(id string) *connection.Future {
	s.futuresMu.RLock()
	f := s.futures[id]
	s.futuresMu.RUnlock()
	if f != nil {
		return f
	}
	return s.manager.Request(id)
}

// getOrGenerateRequestID extracts request ID from headers or generates a new one
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}
	return uuid.NewString()
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.config.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// checkOrigin accepts same-host websocket upgrades and configured CORS origins
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.config.EnableCORS && s.originAllowed(origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// applyCORS applies CORS headers to the response
func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if !s.originAllowed(origin) {
		return
	}
	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	} else {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// statusFor maps manager errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, errors.ErrUnknownEndpoint), errors.Is(err, errors.ErrUnknownPort):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrNotConnectable), errors.Is(err, errors.ErrConnectDeclined):
		return http.StatusConflict
	case errors.Is(err, errors.ErrIncompatible):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errors.ErrManagerClosed):
		return http.StatusServiceUnavailable
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorCode names the taxonomy entry behind err for clients
func errorCode(err error) string {
	codes := []struct {
		target error
		code   string
	}{
		{errors.ErrUnknownEndpoint, "unknown_endpoint"},
		{errors.ErrUnknownPort, "unknown_port"},
		{errors.ErrIncompatible, "incompatible"},
		{errors.ErrNotConnectable, "not_connectable"},
		{errors.ErrConnectDeclined, "connect_declined"},
		{errors.ErrManagerClosed, "manager_closed"},
		{errors.ErrInvalidData, "invalid_request"},
	}
	for _, c := range codes {
		if errors.Is(err, c.target) {
			return c.code
		}
	}
	return "internal"
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write response", "error", err)
	}
}

// writeError writes an error response. Internal errors are not echoed.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if s.metricsRegistry != nil {
		s.metricsRegistry.CoreMetrics().RecordError("gateway", errors.Classify(err).String())
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err)
		message = "internal server error"
	}
	s.writeJSON(w, status, map[string]any{
		"error":  message,
		"code":   errorCode(err),
		"status": status,
	})
}

// decodeBody reads a JSON body into v
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidData, err), "Server", "decodeBody", "decode request")
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
