// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics registers the pipeline's Prometheus collectors. They are
// served by the API server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PublishedTotal counts envelopes accepted by a work queue.
	PublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "featurepipe_published_total",
		Help: "Envelopes published to a work queue.",
	}, []string{"queue"})

	// ConsumedTotal counts envelopes handed to a consumer.
	ConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "featurepipe_consumed_total",
		Help: "Envelopes consumed from a work queue.",
	}, []string{"queue"})

	// FanoutDeliveredTotal counts per-subscriber copies delivered on a topic.
	FanoutDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "featurepipe_fanout_delivered_total",
		Help: "Envelope copies delivered to fanout subscribers.",
	}, []string{"topic"})

	// FanoutDroppedTotal counts copies dropped because a subscriber queue was full.
	FanoutDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "featurepipe_fanout_dropped_total",
		Help: "Envelope copies dropped due to a slow fanout subscriber.",
	}, []string{"topic"})

	// StageProcessedTotal counts successful transformations per stage.
	StageProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "featurepipe_stage_processed_total",
		Help: "Envelopes successfully transformed by a pipeline stage.",
	}, []string{"stage"})

	// StageFailedTotal counts poison messages recorded per stage.
	StageFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "featurepipe_stage_failed_total",
		Help: "Envelopes rejected by a pipeline stage.",
	}, []string{"stage"})

	// RecordsInsertedTotal counts new feature records persisted by the ledger.
	RecordsInsertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "featurepipe_records_inserted_total",
		Help: "Feature records newly persisted.",
	})

	// DuplicatesSkippedTotal counts redelivered records absorbed by the
	// store's idempotent insert.
	DuplicatesSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "featurepipe_duplicates_skipped_total",
		Help: "Duplicate feature records skipped on insert.",
	})

	// LedgerRejectedTotal counts malformed envelopes dropped by the ledger.
	LedgerRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "featurepipe_ledger_rejected_total",
		Help: "Malformed envelopes rejected by the ledger writer.",
	})

	// RequestsTotal counts API requests by endpoint and status code.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "featurepipe_api_requests_total",
		Help: "API requests served.",
	}, []string{"endpoint", "code"})

	// RateLimitedTotal counts requests rejected by the rate limiter.
	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "featurepipe_rate_limited_total",
		Help: "API requests rejected with a quota-exceeded verdict.",
	})
)
