package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lockbook/lockbook/internal/logger"
	"github.com/lockbook/lockbook/pkg/metrics"
	"github.com/lockbook/lockbook/pkg/server/store"
)

// Server is the Lockbook wire-protocol HTTP server: a stopped-by-default
// *http.Server plus a sync.Once-guarded graceful Stop.
type Server struct {
	server       *http.Server
	config       Config
	shutdownOnce sync.Once
}

// New creates a server backed by st, in a stopped state. Call Start to
// begin serving requests. m may be nil to skip request metrics.
func New(config Config, st store.Store, m *metrics.ServerMetrics) *Server {
	config.applyDefaults()

	router := NewRouter(st, config, m)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return &Server{server: httpServer, config: config}
}

// Start serves requests until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("lockbook server listening", "port", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("lockbook server shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("lockbook server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("lockbook server shutdown error: %w", err)
			logger.Error("lockbook server shutdown error", "error", err)
		} else {
			logger.Info("lockbook server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server is configured to listen on.
func (s *Server) Port() int {
	return s.config.Port
}
