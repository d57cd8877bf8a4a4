// Package server provides HTTP server implementations with graceful startup and shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nimburion/jobqueue/pkg/observability/logger"
)

// DefaultShutdownTimeout bounds graceful shutdown when Config leaves it unset.
const DefaultShutdownTimeout = 30 * time.Second

// Server wraps http.Server with configurable timeouts and graceful lifecycle management.
type Server struct {
	name    string
	handler http.Handler
	logger  logger.Logger
	config  Config

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// Config holds configuration for the HTTP server.
type Config struct {
	// Port 0 picks a free port; Addr reports it once the server listens.
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a server named name (used only in logs) serving handler.
func NewServer(name string, cfg Config, handler http.Handler, log logger.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Server{
		name:    name,
		handler: handler,
		logger:  log.With("server", name),
		config:  cfg,
	}
}

// Handler returns the root handler, mostly useful for httptest.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start listens on the configured port and serves until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("%s server failed to listen: %w", s.name, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on a caller-provided listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.mu.Lock()
	s.httpServer = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("starting server", "addr", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("%s server failed: %w", s.name, err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown stops accepting connections and waits for in-flight requests,
// bounded by Config.ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s server shutdown failed: %w", s.name, err)
	}
	s.logger.Info("server shutdown complete")
	return nil
}
