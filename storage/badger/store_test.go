// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senstream/featurepipe/storage"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func record(id string, processedAt time.Time) *storage.FeatureRecord {
	return &storage.FeatureRecord{
		MessageID:       id,
		SourceMessageID: "src-" + id,
		SensorID:        "sensor-1",
		FeatureType:     storage.FeatureTypeA,
		CreatedAt:       processedAt.Add(-time.Second),
		ProcessedAt:     processedAt,
		Attributes:      map[string]any{"spectral_centroid": 523.0},
	}
}

func TestInsertIsIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	inserted, err := s.Insert(ctx, record("m1", now))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.Insert(ctx, record("m1", now))
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.Query(ctx, storage.Filter{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestConcurrentInsertSingleRecordPerIdentity(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	const writers = 5
	const identities = 10

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < identities; i++ {
				id := fmt.Sprintf("m%d", i)
				_, err := s.Insert(ctx, record(id, now))
				assert.NoError(t, err)
				_, err = s.Insert(ctx, record(id, now))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Query(ctx, storage.Filter{})
	require.NoError(t, err)
	assert.Len(t, got, identities)
}

func TestQueryOrderingAndRange(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"m3", "m1", "m2"} {
		offsets := map[string]time.Duration{"m1": time.Minute, "m2": 2 * time.Minute, "m3": 3 * time.Minute}
		_, err := s.Insert(ctx, record(id, base.Add(offsets[id])))
		require.NoError(t, err, "insert %d", i)
	}

	got, err := s.Query(ctx, storage.Filter{Start: base, End: base.Add(3 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].MessageID)
	assert.Equal(t, "m2", got[1].MessageID)

	_, err = s.Query(ctx, storage.Filter{Start: base.Add(time.Hour), End: base})
	assert.ErrorIs(t, err, storage.ErrInvalidRange)
}

func TestRecordSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	now := time.Now().UTC()

	s, err := New(Config{Dir: dir})
	require.NoError(t, err)
	_, err = s.Insert(ctx, record("m1", now))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := New(Config{Dir: dir})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Query(ctx, storage.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].MessageID)
}
