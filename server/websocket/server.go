// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package websocket streams feature envelopes to browser and CLI
// clients. Each connection gets its own fanout subscriptions, so slow
// clients never affect each other or the pipeline.
package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/senstream/featurepipe/broker"
	"github.com/senstream/featurepipe/core"
)

// Config holds the websocket server settings.
type Config struct {
	Address         string        `yaml:"address"`
	Path            string        `yaml:"path"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Tokens          []string      `yaml:"tokens"`
}

// DefaultConfig returns the default websocket server configuration.
func DefaultConfig() Config {
	return Config{
		Address:         ":8081",
		Path:            "/stream",
		ShutdownTimeout: 10 * time.Second,
	}
}

// streamFrame is one streamed message, tagged with the payload kind so
// clients can dispatch without sniffing fields.
type streamFrame struct {
	Kind     string         `json:"kind"`
	Envelope *core.Envelope `json:"envelope"`
}

// Server upgrades HTTP connections and streams features over them.
type Server struct {
	config   Config
	broker   *broker.Broker
	tokens   map[string]bool
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader

	pollTimeout time.Duration
}

// New creates a websocket streaming server over the broker's feature
// topics.
func New(cfg Config, b *broker.Broker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "/stream"
	}

	s := &Server{
		config: cfg,
		broker: b,
		tokens: make(map[string]bool, len(cfg.Tokens)),
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		pollTimeout: 250 * time.Millisecond,
	}
	for _, tok := range cfg.Tokens {
		s.tokens[tok] = true
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, s.handleStream)

	s.server = &http.Server{
		Addr:    cfg.Address,
		Handler: mux,
	}

	return s
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Listen starts the websocket server and blocks until the context is
// canceled or the listener fails.
func (s *Server) Listen(ctx context.Context) error {
	s.logger.Info("starting websocket server",
		slog.String("address", s.config.Address),
		slog.String("path", s.config.Path))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down websocket server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

// authorized checks the bearer token, accepting it from the header or
// the token query parameter since browsers cannot set headers on
// websocket dials.
func (s *Server) authorized(r *http.Request) bool {
	if len(s.tokens) == 0 {
		return true
	}

	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return s.tokens[token]
		}
		return false
	}
	return s.tokens[r.URL.Query().Get("token")]
}

// handleStream upgrades the connection and relays both feature topics
// until the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	subA, err := s.broker.Subscribe(broker.FeaturesA)
	if err != nil {
		http.Error(w, "subscription failed", http.StatusInternalServerError)
		return
	}
	subB, err := s.broker.Subscribe(broker.FeaturesB)
	if err != nil {
		s.broker.Unsubscribe(subA)
		http.Error(w, "subscription failed", http.StatusInternalServerError)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.broker.Unsubscribe(subA)
		s.broker.Unsubscribe(subB)
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	s.logger.Debug("websocket client connected", slog.String("remote_addr", r.RemoteAddr))

	defer func() {
		s.broker.Unsubscribe(subA)
		s.broker.Unsubscribe(subB)
		ws.Close()
		s.logger.Debug("websocket client disconnected", slog.String("remote_addr", r.RemoteAddr))
	}()

	// Surface client disconnects; inbound frames are otherwise ignored.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		default:
		}

		for _, sub := range []*broker.Subscription{subA, subB} {
			env, err := sub.Consume(s.pollTimeout / 2)
			if err != nil || env == nil {
				continue
			}
			frame := streamFrame{Kind: env.Payload.Kind().String(), Envelope: env}
			if err := ws.WriteJSON(frame); err != nil {
				return
			}
		}
	}
}
