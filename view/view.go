// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package view serves the realtime window over recently persisted
// feature records. Responses are memoized for a short TTL and cache
// refreshes are collapsed so a burst of callers triggers one store
// query.
package view

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/senstream/featurepipe/storage"
)

const (
	// DefaultWindow is how far back the realtime view reaches.
	DefaultWindow = 5 * time.Minute

	// DefaultTTL is how long a computed snapshot stays fresh.
	DefaultTTL = 2 * time.Second
)

// Config holds the realtime view settings.
type Config struct {
	Window time.Duration `yaml:"window"`
	TTL    time.Duration `yaml:"ttl"`
}

// DefaultConfig returns the default view configuration.
func DefaultConfig() Config {
	return Config{
		Window: DefaultWindow,
		TTL:    DefaultTTL,
	}
}

// Validate checks the configuration for correctness.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("view window must be positive, got %s", c.Window)
	}
	if c.TTL < 0 {
		return fmt.Errorf("view ttl must not be negative, got %s", c.TTL)
	}
	return nil
}

// RealtimeView computes windowed snapshots of recent feature records.
type RealtimeView struct {
	store  storage.Store
	window time.Duration
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	group singleflight.Group

	mu          sync.RWMutex
	snapshot    []*storage.FeatureRecord
	refreshedAt time.Time
}

// New creates a realtime view over the store.
func New(store storage.Store, cfg Config, logger *slog.Logger) *RealtimeView {
	if logger == nil {
		logger = slog.Default()
	}

	return &RealtimeView{
		store:  store,
		window: cfg.Window,
		ttl:    cfg.TTL,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// Recent returns the records processed within the view window, most
// recent first. Within the TTL the memoized snapshot is served without
// touching the store; when the snapshot is stale, concurrent callers
// share a single refresh.
func (v *RealtimeView) Recent(ctx context.Context) ([]*storage.FeatureRecord, error) {
	v.mu.RLock()
	if v.ttl > 0 && !v.refreshedAt.IsZero() && v.now().Sub(v.refreshedAt) < v.ttl {
		snap := v.snapshot
		v.mu.RUnlock()
		return snap, nil
	}
	v.mu.RUnlock()

	res, err, _ := v.group.Do("refresh", func() (any, error) {
		return v.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return res.([]*storage.FeatureRecord), nil
}

// refresh queries the window and installs the new snapshot.
func (v *RealtimeView) refresh(ctx context.Context) ([]*storage.FeatureRecord, error) {
	now := v.now()

	recs, err := v.store.Query(ctx, storage.Filter{Start: now.Add(-v.window)})
	if err != nil {
		return nil, err
	}

	// Most recent first for display.
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].ProcessedAt.After(recs[j].ProcessedAt)
	})

	v.mu.Lock()
	v.snapshot = recs
	v.refreshedAt = now
	v.mu.Unlock()

	v.logger.Debug("realtime view refreshed",
		slog.Int("records", len(recs)),
		slog.Duration("window", v.window))
	return recs, nil
}

// Invalidate drops the memoized snapshot so the next call refreshes.
func (v *RealtimeView) Invalidate() {
	v.mu.Lock()
	v.refreshedAt = time.Time{}
	v.mu.Unlock()
}
