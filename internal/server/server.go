// Package server exposes the job trigger and CRUD surface over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tobysauze/BookByte-sub001/internal/store"
)

// JobRunner advances one job one step; implemented by worker.Orchestrator.
type JobRunner interface {
	Run(ctx context.Context, jobID string, ref *store.SourceRef) (*store.Job, error)
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// Secret guards the trigger endpoint; requests must present it in
	// the X-BookByte-Secret header.
	Secret string
	// DefaultModel is assigned to jobs created without one.
	DefaultModel string
	// Store persists job records.
	Store store.Store
	// Runner advances jobs.
	Runner JobRunner
	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// Server is the BookByte worker HTTP server.
type Server struct {
	httpServer   *http.Server
	store        store.Store
	runner       JobRunner
	secret       string
	defaultModel string
	logger       *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("trigger secret is required")
	}

	s := &Server{
		store:        cfg.Store,
		runner:       cfg.Runner,
		secret:       cfg.Secret,
		defaultModel: cfg.DefaultModel,
		logger:       cfg.Logger,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// Trigger invocations run a whole generation step before
		// responding, so writes may take minutes.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Handler returns the route handler; used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
