package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"mercator-hq/interpose/pkg/ca"
	"mercator-hq/interpose/pkg/config"
	"mercator-hq/interpose/pkg/endpoint"
	"mercator-hq/interpose/pkg/inventory"
	"mercator-hq/interpose/pkg/proxy"
	"mercator-hq/interpose/pkg/telemetry/health"
	"mercator-hq/interpose/pkg/telemetry/logging"
	"mercator-hq/interpose/pkg/telemetry/metrics"
)

// EndpointLister lists cached MITM endpoints.
type EndpointLister interface {
	Snapshots() []endpoint.Snapshot
}

// TunnelLister lists open tunnels.
type TunnelLister interface {
	Tunnels() []proxy.TunnelInfo
}

// Build identifies the running binary on /version.
type Build struct {
	Version   string
	Commit    string
	BuildTime string
}

// Deps are the sources the admin server reports on. Nil fields disable
// the matching routes.
type Deps struct {
	Config      config.AdminConfig
	MetricsPath string
	Build       Build

	Checker   *health.Checker
	Metrics   *metrics.Collector
	Root      *ca.RootCA
	Endpoints EndpointLister
	Tunnels   TunnelLister
	Inventory inventory.Storage
	Logger    *slog.Logger
}

// Server is the admin HTTP server.
type Server struct {
	deps       Deps
	logger     *slog.Logger
	handler    http.Handler
	httpServer *http.Server

	mu           sync.RWMutex
	listener     net.Listener
	isRunning    bool
	shutdownOnce sync.Once
}

// NewServer creates an admin server. Routes are fixed at construction.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if deps.Checker == nil {
		deps.Checker = health.New(0)
	}
	if deps.MetricsPath == "" {
		deps.MetricsPath = config.DefaultPrometheusPath
	}

	s := &Server{
		deps:   deps,
		logger: logger.With("component", "admin"),
	}
	s.handler = s.setupRoutes()
	return s
}

// Start listens on the configured address and serves until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.deps.Config.ListenAddress)
	if err != nil {
		return fmt.Errorf("admin listen on %s: %w", s.deps.Config.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends, then shuts down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.deps.Config.ReadTimeout,
		ReadHeaderTimeout: s.deps.Config.ReadTimeout,
		WriteTimeout:      s.deps.Config.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.mu.Unlock()

	s.logger.Info("starting admin server", "address", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("admin server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return err
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.RLock()
		srv := s.httpServer
		s.mu.RUnlock()
		if srv == nil {
			return
		}

		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("error during admin server shutdown", "error", err)
			shutdownErr = fmt.Errorf("admin server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		s.logger.Info("admin server stopped")
	})

	return shutdownErr
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// setupRoutes configures HTTP routes and middleware chain.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	health.Register(mux, s.deps.Checker, s.deps.Build.Version, s.deps.Build.Commit, s.deps.Build.BuildTime)

	if s.deps.Metrics != nil {
		mux.Handle(s.deps.MetricsPath, s.deps.Metrics.Handler())
	}
	if s.deps.Root != nil {
		mux.HandleFunc("/ca.pem", s.handleRootPEM)
	}
	if s.deps.Endpoints != nil {
		mux.HandleFunc("/endpoints", s.handleEndpoints)
	}
	if s.deps.Tunnels != nil {
		mux.HandleFunc("/tunnels", s.handleTunnels)
	}
	if s.deps.Inventory != nil {
		mux.HandleFunc("/inventory/certificates", s.handleCertificates)
		mux.HandleFunc("/inventory/tunnels", s.handleTunnelHistory)
	}

	var handler http.Handler = mux
	handler = loggingMiddleware(s.logger, handler)
	handler = requestIDMiddleware(handler)
	handler = recoveryMiddleware(s.logger, handler)
	return handler
}
