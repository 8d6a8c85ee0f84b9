// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the feature record store: idempotent keyed
// inserts and range/filter queries. Two implementations honor the same
// contract, an in-memory reference store and a durable BadgerDB store.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidRange = errors.New("invalid range: start after end")
)

// FeatureType distinguishes extraction output from classification output.
type FeatureType string

const (
	FeatureTypeA FeatureType = "A"
	FeatureTypeB FeatureType = "B"
)

// FeatureRecord is one persisted pipeline result. MessageID is the sole
// natural key: at most one stored record exists per MessageID regardless
// of how many times it was delivered. Records are immutable once stored.
type FeatureRecord struct {
	MessageID       string         `json:"message_id"`
	SourceMessageID string         `json:"source_message_id"`
	SensorID        string         `json:"sensor_id"`
	FeatureType     FeatureType    `json:"feature_type"`
	CreatedAt       time.Time      `json:"created_at"`
	ProcessedAt     time.Time      `json:"processed_at"`
	Attributes      map[string]any `json:"attributes"`
}

// CopyRecord creates a deep copy of a record.
func CopyRecord(r *FeatureRecord) *FeatureRecord {
	if r == nil {
		return nil
	}

	cp := *r
	if r.Attributes != nil {
		cp.Attributes = make(map[string]any, len(r.Attributes))
		for k, v := range r.Attributes {
			cp.Attributes[k] = v
		}
	}
	return &cp
}

// Filter constrains a query. Zero values leave a dimension unconstrained.
// Start is inclusive and End exclusive on ProcessedAt.
type Filter struct {
	SensorID    string
	FeatureType FeatureType
	Start       time.Time
	End         time.Time
}

// Validate rejects a malformed range before any querying happens.
func (f Filter) Validate() error {
	if !f.Start.IsZero() && !f.End.IsZero() && f.Start.After(f.End) {
		return ErrInvalidRange
	}
	return nil
}

// Matches reports whether a record satisfies the filter.
func (f Filter) Matches(r *FeatureRecord) bool {
	if f.SensorID != "" && r.SensorID != f.SensorID {
		return false
	}
	if f.FeatureType != "" && r.FeatureType != f.FeatureType {
		return false
	}
	if !f.Start.IsZero() && r.ProcessedAt.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && !r.ProcessedAt.Before(f.End) {
		return false
	}
	return true
}

// Store persists feature records.
type Store interface {
	// Insert persists the record unless one with the same MessageID
	// already exists, in which case it is a silent no-op that leaves the
	// stored record untouched. The existence check and the write form one
	// atomic unit under concurrent callers. Returns true if the record
	// was newly stored.
	Insert(ctx context.Context, rec *FeatureRecord) (bool, error)

	// Query returns a snapshot of matching records ordered by ProcessedAt
	// ascending. A filter with Start after End fails with ErrInvalidRange
	// before touching storage.
	Query(ctx context.Context, f Filter) ([]*FeatureRecord, error)

	// Close releases the backing resources.
	Close() error
}
