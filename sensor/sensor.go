// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package sensor emits synthetic audio chunks onto the ingest queue.
// Each sensor paces itself with a token-bucket limiter so a fleet of
// sensors produces a steady, configurable load.
package sensor

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/senstream/featurepipe/broker"
	"github.com/senstream/featurepipe/core"
)

// Config holds the sensor fleet settings.
type Config struct {
	// Count is the number of concurrent sensors.
	Count int `yaml:"count"`

	// Rate is messages per second per sensor.
	Rate float64 `yaml:"rate"`

	// Burst is the pacing burst allowance.
	Burst int `yaml:"burst"`
}

// DefaultConfig returns the default sensor configuration.
func DefaultConfig() Config {
	return Config{
		Count: 2,
		Rate:  4,
		Burst: 1,
	}
}

// Validate checks the configuration for correctness.
func (c Config) Validate() error {
	if c.Count < 0 {
		return fmt.Errorf("sensor count must not be negative, got %d", c.Count)
	}
	if c.Count > 0 && c.Rate <= 0 {
		return fmt.Errorf("sensor rate must be positive, got %f", c.Rate)
	}
	if c.Burst <= 0 {
		return fmt.Errorf("sensor burst must be positive, got %d", c.Burst)
	}
	return nil
}

// Publisher is the slice of the broker a sensor needs.
type Publisher interface {
	Publish(env *core.Envelope) error
}

// Sensor produces audio envelopes at a fixed pace.
type Sensor struct {
	id      string
	sink    Publisher
	limiter *rate.Limiter
	logger  *slog.Logger

	emitted atomic.Uint64
	dropped atomic.Uint64
}

// New creates a sensor publishing to the given sink.
func New(id string, sink Publisher, perSecond float64, burst int, logger *slog.Logger) *Sensor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Sensor{
		id:      id,
		sink:    sink,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:  logger,
	}
}

// ID returns the sensor identity.
func (s *Sensor) ID() string { return s.id }

// Emit produces and publishes a single audio envelope.
func (s *Sensor) Emit() error {
	env, err := core.NewEnvelope(s.id, &core.AudioPayload{
		SensorID: s.id,
		Data:     base64.StdEncoding.EncodeToString(chunk()),
	})
	if err != nil {
		return err
	}

	if err := s.sink.Publish(env); err != nil {
		s.dropped.Add(1)
		return err
	}
	s.emitted.Add(1)
	return nil
}

// Run emits paced envelopes until the context is canceled. A full
// ingest queue is logged and skipped rather than treated as fatal: the
// sensor keeps its cadence and the chunk is lost.
func (s *Sensor) Run(ctx context.Context) error {
	s.logger.Info("sensor started", slog.String("sensor", s.id))

	for {
		if err := s.limiter.Wait(ctx); err != nil {
			s.logger.Info("sensor stopped",
				slog.String("sensor", s.id),
				slog.Uint64("emitted", s.emitted.Load()),
				slog.Uint64("dropped", s.dropped.Load()))
			return err
		}

		if err := s.Emit(); err != nil {
			s.logger.Warn("sensor publish failed",
				slog.String("sensor", s.id),
				slog.String("error", err.Error()))
		}
	}
}

// Emitted returns the number of successfully published envelopes.
func (s *Sensor) Emitted() uint64 { return s.emitted.Load() }

// chunk fabricates one audio payload's raw content.
func chunk() []byte {
	return []byte("SYNTHETIC_AUDIO_" + uuid.NewString())
}

// Fleet creates cfg.Count sensors publishing to the broker's ingest
// queue.
func Fleet(b *broker.Broker, cfg Config, logger *slog.Logger) []*Sensor {
	sensors := make([]*Sensor, cfg.Count)
	for i := range sensors {
		id := fmt.Sprintf("sensor-%d", i+1)
		sensors[i] = New(id, b.WorkQueue(broker.AudioStream), cfg.Rate, cfg.Burst, logger)
	}
	return sensors
}
