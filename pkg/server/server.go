// Package server runs the management HTTP endpoint that exposes metrics and
// health checks next to the supervisor or a worker.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/nimburion/queuevisor/pkg/health"
	"github.com/nimburion/queuevisor/pkg/observability/logger"
	"github.com/nimburion/queuevisor/pkg/observability/metrics"
)

const (
	DefaultAddress     = ":9090"
	DefaultMetricsPath = "/metrics"
	HealthPath         = "/healthz"

	shutdownTimeout = 5 * time.Second
)

// Config holds the listener settings of the management server.
type Config struct {
	Address      string
	MetricsPath  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c *Config) normalize() {
	c.Address = strings.TrimSpace(c.Address)
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	c.MetricsPath = strings.TrimSpace(c.MetricsPath)
	if c.MetricsPath == "" {
		c.MetricsPath = DefaultMetricsPath
	}
	if !strings.HasPrefix(c.MetricsPath, "/") {
		c.MetricsPath = "/" + c.MetricsPath
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// ManagementServer serves the metrics and health endpoints.
type ManagementServer struct {
	config  Config
	router  *mux.Router
	logger  logger.Logger
	httpSrv *http.Server
}

// NewManagementServer builds the router. A nil health registry leaves the
// health endpoint out.
func NewManagementServer(cfg Config, registry *metrics.Registry, checks *health.Registry, log logger.Logger) (*ManagementServer, error) {
	if registry == nil {
		return nil, errors.New("metrics registry is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	cfg.normalize()

	r := mux.NewRouter()
	r.Handle(cfg.MetricsPath, registry.Handler()).Methods(http.MethodGet)
	if checks != nil {
		r.Handle(HealthPath, health.Handler(checks)).Methods(http.MethodGet)
	}
	return &ManagementServer{config: cfg, router: r, logger: log}, nil
}

// Handler returns the routed endpoints.
func (s *ManagementServer) Handler() http.Handler {
	return s.router
}

// Start listens until ctx is cancelled and then shuts down gracefully.
func (s *ManagementServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("management server failed to listen on %s: %w", s.config.Address, err)
	}
	return s.Serve(ctx, listener)
}

// Serve runs the server on an existing listener.
func (s *ManagementServer) Serve(ctx context.Context, listener net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadTimeout,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
	}
	s.logger.Info("starting management server", "address", listener.Addr().String(), "metrics_path", s.config.MetricsPath)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err, ok := <-errChan:
		if ok {
			return fmt.Errorf("management server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("management server shutdown failed: %w", err)
		}
		s.logger.Info("management server stopped", "address", listener.Addr().String())
		return nil
	}
}
