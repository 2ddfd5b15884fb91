// ABOUTME: Event cache writer over the mirrored events repository
// ABOUTME: Retries locked writes per event and paces work in small batches
package sync

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harperreed/calmirror/db"
	"github.com/harperreed/calmirror/models"
)

const (
	// DefaultBatchSize is how many upserts run between pauses.
	DefaultBatchSize = 10
	// DefaultBatchPause is the pause between batches.
	DefaultBatchPause = 50 * time.Millisecond
)

// EventStore is the persistence the cache writes through.
type EventStore interface {
	Upsert(ctx context.Context, ev *models.MirroredEvent) (bool, error)
}

// CacheStats counts the outcome of a Store call.
type CacheStats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// CacheConfig tunes an EventCache.
type CacheConfig struct {
	BatchSize  int
	BatchPause time.Duration
	Retry      RetryPolicy
}

// EventCache writes mirrored events, retrying lock contention.
type EventCache struct {
	store  EventStore
	cfg    CacheConfig
	logger *log.Logger
	sleep  func(context.Context, time.Duration) error
}

// NewEventCache creates a cache. Zero config values fall back to defaults.
func NewEventCache(store EventStore, cfg CacheConfig, logger *log.Logger) *EventCache {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchPause < 0 {
		cfg.BatchPause = 0
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &EventCache{store: store, cfg: cfg, logger: logger, sleep: sleepContext}
}

// Upsert writes one event, retrying while the store reports it is locked.
// Exhausted retries return a *CacheWriteError.
func (c *EventCache) Upsert(ctx context.Context, ev *models.MirroredEvent) (bool, error) {
	var created bool
	attempts, err := c.cfg.Retry.Do(ctx, db.IsLocked, func(ctx context.Context) error {
		var err error
		created, err = c.store.Upsert(ctx, ev)
		return err
	})
	if err != nil {
		return false, &CacheWriteError{EventID: ev.ProviderEventID, Attempts: attempts, Err: err}
	}
	return created, nil
}

// Store writes every event. Individual failures are counted, never returned.
func (c *EventCache) Store(ctx context.Context, events []models.MirroredEvent) CacheStats {
	var stats CacheStats

	for i := range events {
		if i > 0 && i%c.cfg.BatchSize == 0 && c.cfg.BatchPause > 0 {
			if err := c.sleep(ctx, c.cfg.BatchPause); err != nil {
				stats.Failed += len(events) - i
				c.logger.Warn("cache write interrupted", "remaining", len(events)-i, "err", err)
				break
			}
		}

		created, err := c.Upsert(ctx, &events[i])
		switch {
		case err != nil:
			stats.Failed++
			c.logger.Warn("failed to cache event", "event", events[i].ProviderEventID, "err", err)
		case created:
			stats.Created++
		default:
			stats.Updated++
		}
	}

	c.logger.Info("cached events", "created", stats.Created, "updated", stats.Updated, "failed", stats.Failed)
	return stats
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
