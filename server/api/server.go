// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the query surface over HTTP: the realtime window,
// historical range queries, health, and Prometheus metrics. Every data
// endpoint sits behind bearer-token auth and a per-client rate limit.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/senstream/featurepipe/ratelimit"
	"github.com/senstream/featurepipe/storage"
	"github.com/senstream/featurepipe/view"
)

// Config holds the API server settings.
type Config struct {
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Tokens is the static list of accepted bearer tokens. Each token
	// is one client identity for rate limiting.
	Tokens []string `yaml:"tokens"`
}

// DefaultConfig returns the default API server configuration.
func DefaultConfig() Config {
	return Config{
		Address:         ":8080",
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate checks the configuration for correctness.
func (c Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("api address must not be empty")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("api shutdown timeout must be positive, got %s", c.ShutdownTimeout)
	}
	return nil
}

// Server serves the feature query API.
type Server struct {
	config     Config
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// New creates an API server over the given view, store, and limiter.
func New(config Config, v *view.RealtimeView, store storage.Store, limiter *ratelimit.ClientLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	h := &handler{
		view:    v,
		store:   store,
		limiter: limiter,
		tokens:  make(map[string]bool, len(config.Tokens)),
		logger:  logger,
	}
	for _, tok := range config.Tokens {
		h.tokens[tok] = true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /features/realtime", h.guard("realtime", h.realtime))
	mux.HandleFunc("GET /features/historical", h.guard("historical", h.historical))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	httpServer := &http.Server{
		Addr:         config.Address,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return &Server{
		config:     config,
		httpServer: httpServer,
		handler:    mux,
		logger:     logger,
	}
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Listen starts the API server and blocks until the context is canceled
// or the listener fails.
func (s *Server) Listen(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting API server", slog.String("address", s.config.Address))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("API server error: %w", err)
	}
}
