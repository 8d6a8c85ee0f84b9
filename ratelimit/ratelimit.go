// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit throttles API callers per client identity. Each
// client gets a counted window: up to Limit requests are admitted per
// Window, the counter resets when a new window starts, and idle clients
// are evicted so the table never grows without bound.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Config holds the per-client rate limiter settings.
type Config struct {
	// Limit is the maximum number of requests admitted per window.
	Limit int `yaml:"limit"`

	// Window is the counting interval.
	Window time.Duration `yaml:"window"`

	// IdleEviction is how long an inactive client entry is kept.
	IdleEviction time.Duration `yaml:"idle_eviction"`

	// CleanupInterval is how often stale entries are swept.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultConfig returns the default rate limiter configuration.
func DefaultConfig() Config {
	return Config{
		Limit:           100,
		Window:          time.Minute,
		IdleEviction:    10 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// Validate checks the configuration for correctness.
func (c Config) Validate() error {
	if c.Limit <= 0 {
		return fmt.Errorf("rate limit must be positive, got %d", c.Limit)
	}
	if c.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", c.Window)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup interval must be positive, got %s", c.CleanupInterval)
	}
	return nil
}

type clientWindow struct {
	windowStart time.Time
	count       int
	lastSeen    time.Time
}

// ClientLimiter tracks request counts per client identity.
type ClientLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
	cfg     Config
	now     func() time.Time
	stopCh  chan struct{}
	done    chan struct{}
}

// NewClientLimiter creates a limiter and starts its cleanup goroutine.
func NewClientLimiter(cfg Config) *ClientLimiter {
	l := &ClientLimiter{
		clients: make(map[string]*clientWindow),
		cfg:     cfg,
		now:     time.Now,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a request from the given client is admitted.
// The first request of a window always is; once Limit requests have
// been counted the rest of the window is denied. A denied request still
// counts as activity for eviction purposes.
func (l *ClientLimiter) Allow(clientID string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	cw, exists := l.clients[clientID]
	if !exists || now.Sub(cw.windowStart) >= l.cfg.Window {
		l.clients[clientID] = &clientWindow{
			windowStart: now,
			count:       1,
			lastSeen:    now,
		}
		return true
	}

	cw.lastSeen = now
	if cw.count >= l.cfg.Limit {
		return false
	}
	cw.count++
	return true
}

// Remaining returns how many requests the client has left in its
// current window. Unknown clients have the full limit.
func (l *ClientLimiter) Remaining(clientID string) int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	cw, exists := l.clients[clientID]
	if !exists || now.Sub(cw.windowStart) >= l.cfg.Window {
		return l.cfg.Limit
	}
	if cw.count >= l.cfg.Limit {
		return 0
	}
	return l.cfg.Limit - cw.count
}

// cleanupLoop periodically removes stale entries.
func (l *ClientLimiter) cleanupLoop() {
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictStale()
		case <-l.stopCh:
			return
		}
	}
}

func (l *ClientLimiter) evictStale() {
	threshold := l.now().Add(-l.cfg.IdleEviction)

	l.mu.Lock()
	defer l.mu.Unlock()

	for id, cw := range l.clients {
		if cw.lastSeen.Before(threshold) {
			delete(l.clients, id)
		}
	}
}

// Stop stops the cleanup goroutine.
func (l *ClientLimiter) Stop() {
	close(l.stopCh)
	<-l.done
}

// Len returns the number of tracked clients.
func (l *ClientLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
