// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package stage implements the generic pipeline stage loop: consume one
// envelope, transform it, publish the result. A failing message is
// recorded and skipped; it never halts the loop or produces partial
// output. Running several runners against the same work queue is how the
// pipeline scales horizontally.
package stage

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/senstream/featurepipe/core"
	"github.com/senstream/featurepipe/metrics"
)

// DefaultPollTimeout bounds each blocking consume.
const DefaultPollTimeout = 250 * time.Millisecond

// Source yields envelopes. Both broker work queues and fanout
// subscriptions satisfy it.
type Source interface {
	Consume(timeout time.Duration) (*core.Envelope, error)
}

// Sink accepts transformed envelopes. Both work queues and fanout topics
// satisfy it.
type Sink interface {
	Publish(env *core.Envelope) error
}

// Transform turns an input envelope into an output envelope. It reports
// bad input with core.ValidationError or core.TypeMismatchError; any other
// error is treated as an infrastructure fault. Identical valid input must
// always produce identical output (only processed-at may differ).
type Transform interface {
	Name() string
	Process(in *core.Envelope) (*core.Envelope, error)
}

// Runner drives one consume-transform-publish loop.
type Runner struct {
	source      Source
	transform   Transform
	sink        Sink
	pollTimeout time.Duration
	logger      *slog.Logger

	processed atomic.Uint64
	failed    atomic.Uint64
}

// NewRunner wires a stage loop. A zero pollTimeout uses DefaultPollTimeout.
func NewRunner(source Source, transform Transform, sink Sink, pollTimeout time.Duration, logger *slog.Logger) *Runner {
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		source:      source,
		transform:   transform,
		sink:        sink,
		pollTimeout: pollTimeout,
		logger:      logger,
	}
}

// ProcessOne pulls one envelope and runs it through the stage. It returns
// false when the source was empty for the whole poll timeout. A poison
// message is recorded and dropped; the error return is reserved for
// source/sink faults.
func (r *Runner) ProcessOne() (bool, error) {
	in, err := r.source.Consume(r.pollTimeout)
	if err != nil {
		return false, err
	}
	if in == nil {
		return false, nil
	}

	out, err := r.transform.Process(in)
	if err != nil {
		if core.IsMessageError(err) {
			r.reject(in, err)
			return true, nil
		}
		return true, err
	}

	if err := r.sink.Publish(out); err != nil {
		return true, err
	}

	r.processed.Add(1)
	metrics.StageProcessedTotal.WithLabelValues(r.transform.Name()).Inc()
	r.logger.Debug("stage processed envelope",
		slog.String("stage", r.transform.Name()),
		slog.String("in", in.ID),
		slog.String("out", out.ID),
		slog.String("sensor", in.ProducerID))
	return true, nil
}

func (r *Runner) reject(in *core.Envelope, err error) {
	r.failed.Add(1)
	metrics.StageFailedTotal.WithLabelValues(r.transform.Name()).Inc()
	r.logger.Warn("stage rejected envelope",
		slog.String("stage", r.transform.Name()),
		slog.String("id", in.ID),
		slog.String("error", err.Error()))
}

// Run loops until the context is canceled. Source and sink faults are
// logged and the loop continues; only cancellation ends it.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := r.ProcessOne(); err != nil {
			r.logger.Error("stage iteration failed",
				slog.String("stage", r.transform.Name()),
				slog.String("error", err.Error()))
		}
	}
}

// Drain processes until the source stays empty for one poll timeout.
// Returns the number of envelopes pulled.
func (r *Runner) Drain() (int, error) {
	count := 0
	for {
		ok, err := r.ProcessOne()
		if err != nil {
			return count, err
		}
		if !ok {
			return count, nil
		}
		count++
	}
}

// Processed returns the number of successful transformations.
func (r *Runner) Processed() uint64 {
	return r.processed.Load()
}

// Failed returns the number of rejected envelopes.
func (r *Runner) Failed() uint64 {
	return r.failed.Load()
}

// RunPool runs the given runners concurrently until the context is
// canceled, then waits for all of them to stop.
func RunPool(ctx context.Context, runners []*Runner) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		g.Go(func() error {
			return r.Run(ctx)
		})
	}
	return g.Wait()
}
