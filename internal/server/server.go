// Package server runs the two listeners: the data listener serving
// dispatched routes and the admin listener serving health, metrics and
// documentation.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/routegate/routegate/internal/config"
	"github.com/routegate/routegate/internal/middleware"
	"github.com/routegate/routegate/internal/observability"
)

// Server is the data listener. All requests flow through the
// middleware chain into the dispatcher.
type Server struct {
	httpServer *http.Server
	logger     observability.Logger

	mu      sync.Mutex
	running bool
}

// Option is a functional option for configuring the server.
type Option func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates the data listener around a dispatcher handler.
func New(cfg config.ServerConfig, dispatcher http.Handler, opts ...Option) *Server {
	s := &Server{
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	handler := middleware.Chain(
		middleware.Recovery(s.logger),
		middleware.RequestID(),
		middleware.Logging(s.logger),
		middleware.CORS(middleware.DefaultCORSConfig()),
	)(dispatcher)

	s.httpServer = &http.Server{
		Addr:         cfg.Listen,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout.Duration(),
		WriteTimeout: cfg.WriteTimeout.Duration(),
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Handler returns the full handler chain, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving requests until the listener closes.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting data listener",
		observability.String("address", s.httpServer.Addr),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("data listener: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping data listener")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown data listener: %w", err)
	}
	return nil
}
