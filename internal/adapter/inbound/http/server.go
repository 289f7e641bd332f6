package http

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// shutdownTimeout bounds graceful shutdown of in-flight requests.
const shutdownTimeout = 10 * time.Second

// Server is the inbound HTTP adapter that puts the gatekeeping pipeline in front of
// a downstream handler.
type Server struct {
	admitter          Admitter
	downstream        http.Handler
	addr              string
	certFile          string
	keyFile           string
	trustProxyHeaders bool
	logger            *slog.Logger
	registry          *prometheus.Registry
	metrics           *Metrics
	healthChecker     *HealthChecker

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *Server) {
		s.healthChecker = hc
	}
}

// WithTrustProxyHeaders makes the client IP come from X-Forwarded-For / X-Real-IP.
// Enable only behind a proxy that overwrites those headers.
func WithTrustProxyHeaders(trust bool) Option {
	return func(s *Server) {
		s.trustProxyHeaders = trust
	}
}

// WithKeyCounter exposes the number of tracked rate limit keys as a gauge.
func WithKeyCounter(size func() int) Option {
	return func(s *Server) {
		RegisterKeyGauge(s.registry, size)
	}
}

// NewServer creates a Server admitting requests through admitter and passing the
// admitted ones to downstream.
func NewServer(admitter Admitter, downstream http.Handler, opts ...Option) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{
		admitter:   admitter,
		downstream: downstream,
		addr:       "127.0.0.1:8080",
		logger:     slog.Default(),
		registry:   reg,
		metrics:    NewMetrics(reg),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.healthChecker == nil {
		s.healthChecker = NewHealthChecker("")
	}
	return s
}

// Metrics returns the server's Prometheus metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler builds the full routing and middleware chain.
//
// Middleware order (outermost first):
//  1. MetricsMiddleware - duration and status (outermost to capture full duration)
//  2. RequestIDMiddleware - request ID and request-scoped logger
//  3. mux: /health and /metrics unguarded, everything else through
//     ClientIPMiddleware and GatekeepMiddleware to the downstream handler
func (s *Server) Handler() http.Handler {
	guarded := GatekeepMiddleware(s.admitter, s.metrics)(s.downstream)
	guarded = ClientIPMiddleware(s.trustProxyHeaders)(guarded)

	mux := http.NewServeMux()
	mux.Handle("/health", s.healthChecker.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		Registry: s.registry,
	}))
	mux.Handle("/favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.Handle("/", guarded)

	var handler http.Handler = mux
	handler = RequestIDMiddleware(s.logger)(handler)
	handler = MetricsMiddleware(s.metrics)(handler)
	return handler
}

// Start begins accepting HTTP connections.
// It blocks until the context is cancelled or the server fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	tlsEnabled := s.certFile != "" && s.keyFile != ""
	if tlsEnabled {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsEnabled {
			s.logger.Info("starting HTTPS server", "addr", ln.Addr().String())
			err = srv.ServeTLS(ln, s.certFile, s.keyFile)
		} else {
			s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

// Addr returns the bound listen address once Start has run, or the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) shutdown() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	return s.shutdown()
}
