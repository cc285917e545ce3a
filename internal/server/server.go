// Package server runs the HTTP listeners of the dispatcher.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/avalb/internal/observability"
)

// Default timeouts applied when the configuration leaves them unset.
const (
	DefaultReadTimeout       = 30 * time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20 // 1MB
)

// Server wraps an http.Server with lifecycle management.
type Server struct {
	name    string
	addr    string
	handler http.Handler
	logger  observability.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	server    *http.Server
	running   atomic.Bool
	boundAddr atomic.Value
}

// Option is a functional option for configuring a server.
type Option func(*Server)

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithReadTimeout sets the read timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// WithWriteTimeout sets the write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithIdleTimeout sets the idle timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}

// New creates a new server.
func New(name, addr string, handler http.Handler, opts ...Option) *Server {
	s := &Server{
		name:         name,
		addr:         addr,
		handler:      handler,
		logger:       observability.NopLogger(),
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
		idleTimeout:  DefaultIdleTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the server name.
func (s *Server) Name() string {
	return s.name
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// BoundAddr returns the address the server actually bound to. Empty
// until Start succeeds.
func (s *Server) BoundAddr() string {
	if v := s.boundAddr.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server %s is already running", s.name)
	}

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadTimeout:       s.readTimeout,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       s.idleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.boundAddr.Store(ln.Addr().String())
	s.running.Store(true)

	s.logger.Info("server started",
		observability.String("name", s.name),
		observability.String("address", ln.Addr().String()),
	)

	go s.serve(ln)

	return nil
}

// serve runs the accept loop.
func (s *Server) serve(ln net.Listener) {
	err := s.server.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		s.logger.Error("server error",
			observability.String("name", s.name),
			observability.Error(err),
		)
	}
	s.running.Store(false)
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.Load() {
		return nil
	}

	s.logger.Info("stopping server",
		observability.String("name", s.name),
	)

	if err := s.server.Shutdown(ctx); err != nil {
		if closeErr := s.server.Close(); closeErr != nil {
			return fmt.Errorf("failed to close server: %w", closeErr)
		}
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	s.running.Store(false)

	s.logger.Info("server stopped",
		observability.String("name", s.name),
	)

	return nil
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}
