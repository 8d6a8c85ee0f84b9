// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/senstream/featurepipe/storage"
)

var _ storage.Store = (*Store)(nil)

// recordPrefix namespaces feature record keys.
const recordPrefix = "feature/"

// Config holds BadgerDB configuration.
type Config struct {
	Dir string // Directory for BadgerDB data
}

// Store is the durable BadgerDB-backed implementation of storage.Store.
// Badger's serializable transactions make the existence check and the
// write one atomic unit; a conflicting concurrent insert surfaces as a
// transaction conflict and is retried, after which the duplicate is seen.
type Store struct {
	db *badger.DB

	gcStopCh chan struct{}
	gcDone   chan struct{}
	closed   bool
	mu       sync.Mutex
}

// New opens a BadgerDB-backed store.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = nil // Disable BadgerDB's internal logging
	opts.NumVersionsToKeep = 1
	opts.NumCompactors = 2

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:       db,
		gcStopCh: make(chan struct{}),
		gcDone:   make(chan struct{}),
	}

	go s.runGC()

	return s, nil
}

func recordKey(messageID string) []byte {
	return []byte(recordPrefix + messageID)
}

// Insert writes the record unless its MessageID already has one.
func (s *Store) Insert(_ context.Context, rec *storage.FeatureRecord) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to marshal record: %w", err)
	}

	key := recordKey(rec.MessageID)
	for {
		inserted := false
		err := s.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(key)
			switch {
			case err == nil:
				return nil // duplicate, leave the stored record untouched
			case errors.Is(err, badger.ErrKeyNotFound):
				inserted = true
				return txn.Set(key, data)
			default:
				return err
			}
		})
		if errors.Is(err, badger.ErrConflict) {
			// A concurrent insert for the same key committed first.
			// Retry: the next round observes it as a duplicate.
			continue
		}
		if err != nil {
			return false, err
		}
		return inserted, nil
	}
}

// Query scans all records, filters, and returns them ordered by
// ProcessedAt ascending.
func (s *Store) Query(_ context.Context, f storage.Filter) ([]*storage.FeatureRecord, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	var result []*storage.FeatureRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec storage.FeatureRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("failed to unmarshal record: %w", err)
				}
				if f.Matches(&rec) {
					result = append(result, &rec)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ProcessedAt.Before(result[j].ProcessedAt)
	})
	return result, nil
}

// Close gracefully closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.gcStopCh)
	<-s.gcDone

	return s.db.Close()
}

// runGC runs BadgerDB's value log garbage collection periodically.
func (s *Store) runGC() {
	defer close(s.gcDone)

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = s.db.RunValueLogGC(0.5)
		case <-s.gcStopCh:
			return
		}
	}
}
