// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ledger persists pipeline output. The writer subscribes to the
// feature fanout topics and forwards every accepted envelope to the
// store, leaning on the store's idempotent insert to absorb duplicate
// deliveries.
package ledger

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/senstream/featurepipe/broker"
	"github.com/senstream/featurepipe/core"
	"github.com/senstream/featurepipe/metrics"
	"github.com/senstream/featurepipe/storage"
)

// DefaultPollTimeout bounds each blocking consume in Run.
const DefaultPollTimeout = 250 * time.Millisecond

// Writer drains feature subscriptions into the store.
type Writer struct {
	store       storage.Store
	subs        []*broker.Subscription
	pollTimeout time.Duration
	logger      *slog.Logger
	onInsert    func(*storage.FeatureRecord)

	inserted   atomic.Uint64
	duplicates atomic.Uint64
	rejected   atomic.Uint64
}

// NewWriter creates a ledger writer over already-registered
// subscriptions. Callers subscribe before any publisher starts so no
// feature envelope is missed.
func NewWriter(store storage.Store, logger *slog.Logger, subs ...*broker.Subscription) *Writer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Writer{
		store:       store,
		subs:        subs,
		pollTimeout: DefaultPollTimeout,
		logger:      logger,
	}
}

// OnInsert registers a hook invoked once per newly stored record, after
// the insert succeeded. Duplicates never trigger it. Must be set before
// Run starts.
func (w *Writer) OnInsert(fn func(*storage.FeatureRecord)) {
	w.onInsert = fn
}

// Flush drains every subscription without blocking and persists all
// pending envelopes. Returns the number of newly stored records.
func (w *Writer) Flush(ctx context.Context) (int, error) {
	written := 0
	for _, sub := range w.subs {
		for {
			env, err := sub.Consume(0)
			if err != nil {
				return written, err
			}
			if env == nil {
				break
			}
			ok, err := w.write(ctx, env)
			if err != nil {
				return written, err
			}
			if ok {
				written++
			}
		}
	}

	if written > 0 {
		w.logger.Info("ledger flushed records", slog.Int("written", written))
	}
	return written, nil
}

// Run consumes each subscription in its own goroutine until the context
// is canceled. Store faults are logged and the loop keeps going; a bad
// envelope never blocks the ones behind it.
func (w *Writer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, sub := range w.subs {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}

				env, err := sub.Consume(w.pollTimeout)
				if err != nil {
					return err
				}
				if env == nil {
					continue
				}
				if _, err := w.write(ctx, env); err != nil {
					w.logger.Error("ledger insert failed",
						slog.String("topic", sub.Topic()),
						slog.String("id", env.ID),
						slog.String("error", err.Error()))
				}
			}
		})
	}
	return g.Wait()
}

// write converts and persists one envelope. Returns true when a new
// record was stored.
func (w *Writer) write(ctx context.Context, env *core.Envelope) (bool, error) {
	rec, err := Record(env)
	if err != nil {
		w.rejected.Add(1)
		metrics.LedgerRejectedTotal.Inc()
		w.logger.Warn("ledger rejected envelope",
			slog.String("id", env.ID),
			slog.String("error", err.Error()))
		return false, nil
	}

	inserted, err := w.store.Insert(ctx, rec)
	if err != nil {
		return false, err
	}
	if !inserted {
		w.duplicates.Add(1)
		metrics.DuplicatesSkippedTotal.Inc()
		w.logger.Debug("ledger skipped duplicate", slog.String("id", rec.MessageID))
		return false, nil
	}

	w.inserted.Add(1)
	metrics.RecordsInsertedTotal.Inc()
	if w.onInsert != nil {
		w.onInsert(rec)
	}
	w.logger.Debug("ledger wrote record",
		slog.String("id", rec.MessageID),
		slog.String("feature_type", string(rec.FeatureType)),
		slog.String("sensor", rec.SensorID))
	return true, nil
}

// Inserted returns the number of records newly stored.
func (w *Writer) Inserted() uint64 { return w.inserted.Load() }

// Duplicates returns the number of redeliveries absorbed.
func (w *Writer) Duplicates() uint64 { return w.duplicates.Load() }

// Rejected returns the number of malformed envelopes dropped.
func (w *Writer) Rejected() uint64 { return w.rejected.Load() }

// Record converts a feature envelope into its persisted form. Envelopes
// with a non-feature payload or missing required fields are rejected
// with a validation error.
func Record(env *core.Envelope) (*storage.FeatureRecord, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if env.OriginID == "" {
		return nil, &core.ValidationError{Field: "origin_id", Reason: "must not be empty"}
	}

	rec := &storage.FeatureRecord{
		MessageID:       env.ID,
		SourceMessageID: env.OriginID,
		CreatedAt:       env.CreatedAt,
	}

	switch p := env.Payload.(type) {
	case *core.FeatureA:
		rec.SensorID = p.SensorID
		rec.FeatureType = storage.FeatureTypeA
		rec.ProcessedAt = p.ProcessedAt
		rec.Attributes = map[string]any{
			"mfcc":               append([]float64(nil), p.MFCC...),
			"spectral_centroid":  p.SpectralCentroid,
			"zero_crossing_rate": p.ZeroCrossingRate,
			"rms_energy":         p.RMSEnergy,
		}
	case *core.FeatureB:
		rec.SensorID = p.SensorID
		rec.FeatureType = storage.FeatureTypeB
		rec.ProcessedAt = p.ProcessedAt
		rec.Attributes = map[string]any{
			"classification": string(p.Label),
			"confidence":     p.Confidence,
			"derived_metrics": map[string]any{
				"mfcc_mean":       p.MFCCMean,
				"spectral_spread": p.SpectralSpread,
				"activity_score":  p.ActivityScore,
			},
		}
	default:
		return nil, &core.TypeMismatchError{Want: core.KindFeatureA, Got: env.Payload.Kind()}
	}

	return rec, nil
}
