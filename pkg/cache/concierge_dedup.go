package cache

import (
	"context"
	"fmt"
	"time"
)

const (
	processedSetPrefix = "concierge:processed:"
	runLockPrefix      = "concierge:runlock:"

	// Processed-id entries outlive the longest lookback window.
	processedTTL = 45 * 24 * time.Hour
)

// DedupCache fronts the processed_messages table with a redis set per pack.
// It is advisory only: a miss falls through to the store, an error is
// reported but never fails the pipeline.
type DedupCache struct {
	cache *RedisCache
}

// NewDedupCache creates a dedup cache
func NewDedupCache(cache *RedisCache) *DedupCache {
	return &DedupCache{cache: cache}
}

// Seen reports whether messageID was already recorded for the pack.
func (d *DedupCache) Seen(ctx context.Context, packID, messageID string) (bool, error) {
	return d.cache.SIsMember(ctx, processedSetPrefix+packID, messageID)
}

// Record marks messageID as processed for the pack.
func (d *DedupCache) Record(ctx context.Context, packID, messageID string) error {
	key := processedSetPrefix + packID
	if err := d.cache.SAdd(ctx, key, messageID); err != nil {
		return fmt.Errorf("failed to record processed id: %w", err)
	}
	return d.cache.Expire(ctx, key, processedTTL)
}

// RunLock serializes scheduled runs of one job kind across processes.
type RunLock struct {
	cache *RedisCache
}

// NewRunLock creates a run lock
func NewRunLock(cache *RedisCache) *RunLock {
	return &RunLock{cache: cache}
}

// Acquire takes the lock for kind, returning false when another holder
// exists. The TTL bounds how long a crashed holder can block the next run.
func (l *RunLock) Acquire(ctx context.Context, kind string, ttl time.Duration) (bool, error) {
	return l.cache.SetNX(ctx, runLockPrefix+kind, time.Now().UTC().Format(time.RFC3339), ttl)
}

// Release drops the lock for kind.
func (l *RunLock) Release(ctx context.Context, kind string) error {
	return l.cache.Delete(ctx, runLockPrefix+kind)
}
