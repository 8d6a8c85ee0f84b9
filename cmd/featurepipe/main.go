// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/senstream/featurepipe/broker"
	"github.com/senstream/featurepipe/config"
	"github.com/senstream/featurepipe/feature"
	"github.com/senstream/featurepipe/ledger"
	"github.com/senstream/featurepipe/notifier"
	"github.com/senstream/featurepipe/ratelimit"
	"github.com/senstream/featurepipe/sensor"
	"github.com/senstream/featurepipe/server/api"
	"github.com/senstream/featurepipe/server/websocket"
	"github.com/senstream/featurepipe/stage"
	"github.com/senstream/featurepipe/storage"
	"github.com/senstream/featurepipe/storage/badger"
	"github.com/senstream/featurepipe/storage/memory"
	"github.com/senstream/featurepipe/view"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup logging
	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("Starting feature pipeline", "version", "0.1.0")
	slog.Info("Configuration loaded",
		"api_addr", cfg.API.Address,
		"ws_addr", cfg.WebSocket.Address,
		"sensors", cfg.Sensors.Count,
		"storage", cfg.Storage.Type,
		"log_level", cfg.Log.Level)

	// Initialize storage backend
	var store storage.Store
	switch cfg.Storage.Type {
	case "memory":
		store = memory.New()
		slog.Info("Using in-memory storage")
	case "badger":
		badgerStore, err := badger.New(badger.Config{
			Dir: cfg.Storage.BadgerDir,
		})
		if err != nil {
			slog.Error("Failed to initialize BadgerDB storage", "error", err)
			os.Exit(1)
		}
		store = badgerStore
		defer store.Close()
		slog.Info("Using BadgerDB persistent storage", "dir", cfg.Storage.BadgerDir)
	default:
		slog.Error("Unknown storage type", "type", cfg.Storage.Type)
		os.Exit(1)
	}

	// Create the broker and register every subscription before any
	// producer starts, so no feature envelope is lost at startup.
	b := broker.New(cfg.Broker, logger)

	ledgerSubA, err := b.Subscribe(broker.FeaturesA)
	if err != nil {
		slog.Error("Failed to subscribe ledger", "error", err)
		os.Exit(1)
	}
	ledgerSubB, err := b.Subscribe(broker.FeaturesB)
	if err != nil {
		slog.Error("Failed to subscribe ledger", "error", err)
		os.Exit(1)
	}
	classifySub, err := b.Subscribe(broker.FeaturesA)
	if err != nil {
		slog.Error("Failed to subscribe classifier", "error", err)
		os.Exit(1)
	}

	ledgerWriter := ledger.NewWriter(store, logger, ledgerSubA, ledgerSubB)

	// Notifier pushes each newly stored record to external endpoints.
	if cfg.Notifier.Enabled {
		notify, err := notifier.New(cfg.Notifier, "featurepipe", notifier.NewHTTPSender(), logger)
		if err != nil {
			slog.Error("Failed to initialize notifier", "error", err)
			os.Exit(1)
		}
		defer notify.Close()
		ledgerWriter.OnInsert(notify.Notify)
	}

	// Realtime view and rate limiter backing the API
	realtimeView := view.New(store, cfg.View, logger)
	limiter := ratelimit.NewClientLimiter(cfg.RateLimit)
	defer limiter.Stop()

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	serverErr := make(chan error, 10)

	// Extraction pool: competing consumers on the audio work queue.
	extractRunners := make([]*stage.Runner, cfg.Pipeline.ExtractWorkers)
	for i := range extractRunners {
		extractRunners[i] = stage.NewRunner(
			b.WorkQueue(broker.AudioStream),
			feature.NewExtractor(fmt.Sprintf("extract-%d", i+1)),
			b.Topic(broker.FeaturesA),
			cfg.Pipeline.PollTimeout,
			logger,
		)
	}

	// Classification pool: competing consumers on one shared Feature A
	// subscription, so the set processes each feature exactly once.
	classifyRunners := make([]*stage.Runner, cfg.Pipeline.ClassifyWorkers)
	for i := range classifyRunners {
		classifyRunners[i] = stage.NewRunner(
			classifySub,
			feature.NewClassifier(fmt.Sprintf("classify-%d", i+1)),
			b.Topic(broker.FeaturesB),
			cfg.Pipeline.PollTimeout,
			logger,
		)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := stage.RunPool(ctx, extractRunners); err != nil && ctx.Err() == nil {
			serverErr <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := stage.RunPool(ctx, classifyRunners); err != nil && ctx.Err() == nil {
			serverErr <- err
		}
	}()

	// Ledger: persist both feature streams.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ledgerWriter.Run(ctx); err != nil && ctx.Err() == nil {
			serverErr <- err
		}
	}()

	// Sensors
	for _, s := range sensor.Fleet(b, cfg.Sensors, logger) {
		wg.Add(1)
		go func(s *sensor.Sensor) {
			defer wg.Done()
			if err := s.Run(ctx); err != nil && ctx.Err() == nil {
				serverErr <- err
			}
		}(s)
	}

	// API server
	apiServer := api.New(cfg.API, realtimeView, store, limiter, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Listen(ctx); err != nil {
			serverErr <- err
		}
	}()

	// WebSocket streaming server
	wsServer := websocket.New(cfg.WebSocket, b, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := wsServer.Listen(ctx); err != nil {
			serverErr <- err
		}
	}()

	slog.Info("Feature pipeline started successfully")

	// Wait for shutdown signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
		cancel()
	case err := <-serverErr:
		slog.Error("Server error", "error", err)
		cancel()
	}

	wg.Wait()

	// Drain what is already in flight so shutdown loses nothing that
	// reached the broker.
	for _, r := range append(extractRunners, classifyRunners...) {
		if _, err := r.Drain(); err != nil {
			slog.Warn("Drain failed", "error", err)
		}
	}
	if _, err := ledgerWriter.Flush(context.Background()); err != nil {
		slog.Warn("Ledger flush failed", "error", err)
	}

	slog.Info("Ledger totals",
		"inserted", ledgerWriter.Inserted(),
		"duplicates", ledgerWriter.Duplicates(),
		"rejected", ledgerWriter.Rejected())

	slog.Info("Feature pipeline stopped")
}
