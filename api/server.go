// Package api exposes a prefstore.Store over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/CreativeUnicorns/prefstore"
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	store      *prefstore.Store
	logger     prefstore.Logger
	router     *chi.Mux
	httpServer *http.Server

	keepAlive time.Duration
}

// Config holds configuration for the API server.
type Config struct {
	ListenAddress string
	Store         *prefstore.Store
	Logger        prefstore.Logger

	// KeepAlive is the interval between SSE comment frames on idle change streams. Defaults to 15s.
	KeepAlive time.Duration
}

// NewServer creates and configures a new API server instance.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: store is required", prefstore.ErrInvalidInput)
	}
	if cfg.Logger == nil {
		cfg.Logger = cfg.Store.Logger()
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8080"
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 15 * time.Second
	}

	s := &Server{
		store:     cfg.Store,
		logger:    cfg.Logger,
		router:    chi.NewRouter(),
		keepAlive: cfg.KeepAlive,
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: s.router,
		// Change streams extend their own write deadline per event.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the routed handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server. It blocks until the server is shut down and returns nil
// after a graceful Stop.
func (s *Server) Start() error {
	s.logger.Info("API server starting", "address", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("could not start server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("API server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("API server stopped gracefully")
	return nil
}
