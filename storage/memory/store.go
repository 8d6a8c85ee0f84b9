// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/senstream/featurepipe/storage"
)

var _ storage.Store = (*Store)(nil)

// Store is the in-memory reference implementation of storage.Store.
type Store struct {
	mu   sync.RWMutex
	data map[string]*storage.FeatureRecord
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		data: make(map[string]*storage.FeatureRecord),
	}
}

// Insert stores a copy of the record unless its MessageID is already
// present. The mutex makes check-and-insert atomic.
func (s *Store) Insert(_ context.Context, rec *storage.FeatureRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[rec.MessageID]; exists {
		return false, nil
	}
	s.data[rec.MessageID] = storage.CopyRecord(rec)
	return true, nil
}

// Query returns copies of matching records ordered by ProcessedAt ascending.
func (s *Store) Query(_ context.Context, f storage.Filter) ([]*storage.FeatureRecord, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var result []*storage.FeatureRecord
	for _, rec := range s.data {
		if f.Matches(rec) {
			result = append(result, storage.CopyRecord(rec))
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].ProcessedAt.Before(result[j].ProcessedAt)
	})
	return result, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
