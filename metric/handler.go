package metric

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/semlink/errors"
)

const shutdownGrace = 5 * time.Second

// Server exposes a registry over HTTP for Prometheus scrapes.
type Server struct {
	port     int
	path     string
	registry *MetricsRegistry

	mu   sync.Mutex
	addr net.Addr
}

// NewServer returns a scrape server. An empty path means /metrics. Port 0
// picks a free port, readable from Addr once Serve is listening.
func NewServer(port int, path string, registry *MetricsRegistry) *Server {
	if path == "" {
		path = "/metrics"
	}
	return &Server{port: port, path: path, registry: registry}
}

func (s *Server) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry.PrometheusRegistry(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// Serve listens and serves until ctx is cancelled, then shuts down
// gracefully. The listener is bound before Serve blocks.
func (s *Server) Serve(ctx context.Context) error {
	if s.registry == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "Server", "Serve", "metrics registry not provided")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return errors.WrapFatal(err, "Server", "Serve", fmt.Sprintf("listen on port %d", s.port))
	}

	s.mu.Lock()
	if s.addr != nil {
		s.mu.Unlock()
		_ = ln.Close()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Serve", "start metrics server")
	}
	s.addr = ln.Addr()
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.Handle("GET "+s.path, s.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	select {
	case err := <-served:
		return errors.WrapFatal(err, "Server", "Serve", "serve metrics")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.WrapTransient(err, "Server", "Serve", "shut down metrics server")
	}
	return nil
}

// Addr is the bound listener address, nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// URL is the scrape URL, empty before Serve.
func (s *Server) URL() string {
	addr := s.Addr()
	if addr == nil {
		return ""
	}
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return ""
	}
	return fmt.Sprintf("http://localhost:%d%s", tcp.Port, s.path)
}
