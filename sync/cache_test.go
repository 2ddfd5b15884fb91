// ABOUTME: Tests for the event cache
// ABOUTME: Idempotent upserts on SQLite plus retry and batching behaviour under lock contention
package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/calmirror/db"
	"github.com/harperreed/calmirror/models"
)

func mirroredEvent(userID, id string) models.MirroredEvent {
	return models.MirroredEvent{
		UserID:          userID,
		ProviderEventID: id,
		CalendarID:      "primary",
		CalendarName:    "Alice",
		Title:           "Event " + id,
		Start:           testNow,
		End:             testNow.Add(time.Hour),
	}
}

func fastCacheConfig() CacheConfig {
	return CacheConfig{
		BatchSize:  10,
		BatchPause: time.Millisecond,
		Retry:      RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
	}
}

func TestCacheUpsertIdempotent(t *testing.T) {
	database := setupTestDB(t)
	repo := db.NewEventsRepository(database)
	cache := NewEventCache(repo, fastCacheConfig(), testLogger())
	ctx := context.Background()

	ev := mirroredEvent("alice", "evt-1")
	created, err := cache.Upsert(ctx, &ev)
	require.NoError(t, err)
	assert.True(t, created)

	same := mirroredEvent("alice", "evt-1")
	created, err = cache.Upsert(ctx, &same)
	require.NoError(t, err)
	assert.False(t, created)

	count, err := repo.Count(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCacheStoreCountsCreatedAndUpdated(t *testing.T) {
	database := setupTestDB(t)
	cache := NewEventCache(db.NewEventsRepository(database), fastCacheConfig(), testLogger())
	ctx := context.Background()

	first := []models.MirroredEvent{mirroredEvent("alice", "a"), mirroredEvent("alice", "b")}
	stats := cache.Store(ctx, first)
	assert.Equal(t, CacheStats{Created: 2}, stats)

	second := []models.MirroredEvent{mirroredEvent("alice", "a"), mirroredEvent("alice", "c")}
	stats = cache.Store(ctx, second)
	assert.Equal(t, CacheStats{Created: 1, Updated: 1}, stats)
}

// lockingStore reports db.ErrLocked for the first failures calls per event.
type lockingStore struct {
	failures map[string]int
	calls    map[string]int
	err      error
}

func newLockingStore() *lockingStore {
	return &lockingStore{failures: map[string]int{}, calls: map[string]int{}, err: db.ErrLocked}
}

func (s *lockingStore) Upsert(ctx context.Context, ev *models.MirroredEvent) (bool, error) {
	s.calls[ev.ProviderEventID]++
	if s.calls[ev.ProviderEventID] <= s.failures[ev.ProviderEventID] {
		return false, fmt.Errorf("upsert: %w", s.err)
	}
	return true, nil
}

func TestCacheRetriesLockedWrites(t *testing.T) {
	store := newLockingStore()
	store.failures["evt"] = 2
	cache := NewEventCache(store, fastCacheConfig(), testLogger())

	ev := mirroredEvent("alice", "evt")
	created, err := cache.Upsert(context.Background(), &ev)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 3, store.calls["evt"])
}

func TestCacheGivesUpAfterMaxAttempts(t *testing.T) {
	store := newLockingStore()
	store.failures["evt"] = 100
	cache := NewEventCache(store, fastCacheConfig(), testLogger())

	ev := mirroredEvent("alice", "evt")
	_, err := cache.Upsert(context.Background(), &ev)

	var writeErr *CacheWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "evt", writeErr.EventID)
	assert.Equal(t, 3, writeErr.Attempts)
	assert.ErrorIs(t, err, db.ErrLocked)
	assert.Equal(t, 3, store.calls["evt"])
}

func TestCacheDoesNotRetryOtherErrors(t *testing.T) {
	store := newLockingStore()
	store.err = errors.New("constraint failed")
	store.failures["evt"] = 1
	cache := NewEventCache(store, fastCacheConfig(), testLogger())

	ev := mirroredEvent("alice", "evt")
	_, err := cache.Upsert(context.Background(), &ev)

	var writeErr *CacheWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, 1, writeErr.Attempts)
}

func TestCacheStoreIsolatesFailures(t *testing.T) {
	store := newLockingStore()
	store.failures["bad"] = 100
	store.failures["flaky"] = 1
	cache := NewEventCache(store, fastCacheConfig(), testLogger())

	events := []models.MirroredEvent{
		mirroredEvent("alice", "ok"),
		mirroredEvent("alice", "bad"),
		mirroredEvent("alice", "flaky"),
	}
	stats := cache.Store(context.Background(), events)

	assert.Equal(t, CacheStats{Created: 2, Failed: 1}, stats)
}

func TestCacheStorePausesBetweenBatches(t *testing.T) {
	store := newLockingStore()
	cache := NewEventCache(store, CacheConfig{BatchSize: 10, BatchPause: 50 * time.Millisecond}, testLogger())

	var pauses []time.Duration
	cache.sleep = func(ctx context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}

	events := make([]models.MirroredEvent, 25)
	for i := range events {
		events[i] = mirroredEvent("alice", fmt.Sprintf("evt-%d", i))
	}
	stats := cache.Store(context.Background(), events)

	assert.Equal(t, 25, stats.Created)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond}, pauses)
}

func TestCacheStoreStopsWhenContextEnds(t *testing.T) {
	store := newLockingStore()
	cache := NewEventCache(store, CacheConfig{BatchSize: 2, BatchPause: time.Millisecond}, testLogger())
	cache.sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	events := make([]models.MirroredEvent, 5)
	for i := range events {
		events[i] = mirroredEvent("alice", fmt.Sprintf("evt-%d", i))
	}
	stats := cache.Store(context.Background(), events)

	assert.Equal(t, CacheStats{Created: 2, Failed: 3}, stats)
}

func TestCacheDefaults(t *testing.T) {
	cache := NewEventCache(newLockingStore(), CacheConfig{}, nil)
	assert.Equal(t, DefaultBatchSize, cache.cfg.BatchSize)
	assert.Equal(t, DefaultRetryPolicy(), cache.cfg.Retry)
}
