// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package notifier pushes newly stored feature records to external HTTP
// endpoints. Deliveries run on a bounded worker pool with per-endpoint
// circuit breakers and exponential backoff retries, so a slow or dead
// endpoint never backs up the pipeline.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/senstream/featurepipe/storage"
)

// RetryConfig controls delivery retries.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
}

// CircuitBreakerConfig controls the per-endpoint breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// EndpointConfig describes one delivery target. FeatureTypes limits
// which record types the endpoint receives; empty means all.
type EndpointConfig struct {
	Name         string            `yaml:"name"`
	URL          string            `yaml:"url"`
	FeatureTypes []string          `yaml:"feature_types"`
	Headers      map[string]string `yaml:"headers"`
	Timeout      time.Duration     `yaml:"timeout"`
	Retry        *RetryConfig      `yaml:"retry"`
}

// Defaults carries settings endpoints inherit unless they override them.
type Defaults struct {
	Timeout        time.Duration        `yaml:"timeout"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// Config holds the notifier settings.
type Config struct {
	Enabled         bool             `yaml:"enabled"`
	QueueSize       int              `yaml:"queue_size"`
	Workers         int              `yaml:"workers"`
	DropPolicy      string           `yaml:"drop_policy"` // "oldest" or "newest"
	ShutdownTimeout time.Duration    `yaml:"shutdown_timeout"`
	Defaults        Defaults         `yaml:"defaults"`
	Endpoints       []EndpointConfig `yaml:"endpoints"`
}

// DefaultConfig returns the default notifier configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:         false,
		QueueSize:       1000,
		Workers:         4,
		DropPolicy:      "newest",
		ShutdownTimeout: 10 * time.Second,
		Defaults: Defaults{
			Timeout: 5 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     10 * time.Second,
				Multiplier:      2.0,
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
		},
	}
}

// Validate checks the configuration for correctness.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("notifier queue size must be positive, got %d", c.QueueSize)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("notifier workers must be positive, got %d", c.Workers)
	}
	if c.DropPolicy != "oldest" && c.DropPolicy != "newest" {
		return fmt.Errorf("notifier drop policy must be oldest or newest, got %q", c.DropPolicy)
	}
	for _, ep := range c.Endpoints {
		if ep.Name == "" || ep.URL == "" {
			return fmt.Errorf("notifier endpoint needs both name and url")
		}
	}
	return nil
}

// Event is the JSON body delivered to endpoints.
type Event struct {
	Service   string                 `json:"service"`
	EmittedAt time.Time              `json:"emitted_at"`
	Record    *storage.FeatureRecord `json:"record"`
}

type endpoint struct {
	name    string
	url     string
	types   map[string]bool
	headers map[string]string
	timeout time.Duration
	retry   RetryConfig
}

type job struct {
	record   *storage.FeatureRecord
	endpoint endpoint
	attempt  int
}

// Notifier fans stored records out to configured endpoints.
type Notifier struct {
	cfg       Config
	serviceID string
	endpoints []endpoint
	jobs      chan job
	breakers  map[string]*gobreaker.CircuitBreaker
	sender    Sender
	logger    *slog.Logger
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a notifier and starts its worker pool.
func New(cfg Config, serviceID string, sender Sender, logger *slog.Logger) (*Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if sender == nil {
		return nil, fmt.Errorf("sender cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())

	endpoints := make([]endpoint, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		types := make(map[string]bool, len(ep.FeatureTypes))
		for _, ft := range ep.FeatureTypes {
			types[ft] = true
		}

		timeout := cfg.Defaults.Timeout
		if ep.Timeout > 0 {
			timeout = ep.Timeout
		}
		retry := cfg.Defaults.Retry
		if ep.Retry != nil {
			retry = *ep.Retry
		}

		endpoints = append(endpoints, endpoint{
			name:    ep.Name,
			url:     ep.URL,
			types:   types,
			headers: ep.Headers,
			timeout: timeout,
			retry:   retry,
		})
	}

	breakers := make(map[string]*gobreaker.CircuitBreaker, len(endpoints))
	for _, ep := range endpoints {
		breakers[ep.name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        ep.name,
			MaxRequests: 1,
			Timeout:     cfg.Defaults.CircuitBreaker.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(cfg.Defaults.CircuitBreaker.FailureThreshold)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn("notifier circuit breaker state changed",
					slog.String("endpoint", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		})
	}

	n := &Notifier{
		cfg:       cfg,
		serviceID: serviceID,
		endpoints: endpoints,
		jobs:      make(chan job, cfg.QueueSize),
		breakers:  breakers,
		sender:    sender,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}

	logger.Info("notifier started",
		slog.Int("workers", cfg.Workers),
		slog.Int("queue_size", cfg.QueueSize),
		slog.Int("endpoints", len(endpoints)))
	return n, nil
}

// Notify queues the record for delivery to every matching endpoint. The
// call never blocks; when the queue is full the drop policy decides
// which job is lost.
func (n *Notifier) Notify(rec *storage.FeatureRecord) {
	for _, ep := range n.endpoints {
		if len(ep.types) > 0 && !ep.types[string(rec.FeatureType)] {
			continue
		}

		j := job{record: rec, endpoint: ep}
		select {
		case n.jobs <- j:
		default:
			if n.cfg.DropPolicy == "oldest" {
				select {
				case <-n.jobs:
				default:
				}
				select {
				case n.jobs <- j:
					continue
				default:
				}
			}
			n.logger.Error("notifier queue full, record dropped",
				slog.String("endpoint", ep.name),
				slog.String("id", rec.MessageID))
		}
	}
}

func (n *Notifier) worker() {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			return
		case j := <-n.jobs:
			n.process(j)
		}
	}
}

// process delivers one job through the endpoint's breaker, requeueing
// with backoff on failure until the retry budget runs out.
func (n *Notifier) process(j job) {
	breaker := n.breakers[j.endpoint.name]

	_, err := breaker.Execute(func() (any, error) {
		return nil, n.send(j)
	})
	if err == nil {
		return
	}

	if j.attempt < j.endpoint.retry.MaxAttempts-1 {
		j.attempt++
		delay := retryDelay(j.attempt, j.endpoint.retry)

		n.logger.Debug("notifier delivery failed, retrying",
			slog.String("endpoint", j.endpoint.name),
			slog.String("id", j.record.MessageID),
			slog.Int("attempt", j.attempt),
			slog.Duration("retry_after", delay),
			slog.String("error", err.Error()))

		time.AfterFunc(delay, func() {
			select {
			case n.jobs <- j:
			default:
				n.logger.Error("failed to requeue record for retry",
					slog.String("endpoint", j.endpoint.name),
					slog.String("id", j.record.MessageID))
			}
		})
		return
	}

	n.logger.Error("notifier delivery failed after max retries",
		slog.String("endpoint", j.endpoint.name),
		slog.String("id", j.record.MessageID),
		slog.Int("attempts", j.attempt+1),
		slog.String("error", err.Error()))
}

func (n *Notifier) send(j job) error {
	payload, err := json.Marshal(Event{
		Service:   n.serviceID,
		EmittedAt: time.Now().UTC(),
		Record:    j.record,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.endpoint.timeout)
	defer cancel()

	if err := n.sender.Send(ctx, j.endpoint.url, j.endpoint.headers, payload, j.endpoint.timeout); err != nil {
		return err
	}

	n.logger.Debug("notification delivered",
		slog.String("endpoint", j.endpoint.name),
		slog.String("id", j.record.MessageID))
	return nil
}

func retryDelay(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.InitialInterval)
	for i := 0; i < attempt; i++ {
		delay *= cfg.Multiplier
	}
	if delay > float64(cfg.MaxInterval) {
		delay = float64(cfg.MaxInterval)
	}
	return time.Duration(delay)
}

// Close stops the workers, draining what it can within the shutdown
// timeout.
func (n *Notifier) Close() error {
	n.cancel()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.logger.Info("notifier stopped")
	case <-time.After(n.cfg.ShutdownTimeout):
		n.logger.Warn("notifier shutdown timeout, pending deliveries lost",
			slog.Int("queue_depth", len(n.jobs)))
	}
	return nil
}
