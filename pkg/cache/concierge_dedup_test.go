package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client), mr
}

func TestDedupCache(t *testing.T) {
	c, mr := newTestCache(t)
	dedup := NewDedupCache(c)
	ctx := context.Background()

	seen, err := dedup.Seen(ctx, "school", "msg-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, dedup.Record(ctx, "school", "msg-1"))

	seen, err = dedup.Seen(ctx, "school", "msg-1")
	require.NoError(t, err)
	assert.True(t, seen)

	// Packs hold independent sets.
	seen, err = dedup.Seen(ctx, "activities", "msg-1")
	require.NoError(t, err)
	assert.False(t, seen)

	// Entries carry a TTL so the set does not grow forever.
	ttl := mr.TTL("concierge:processed:school")
	assert.Greater(t, ttl, time.Duration(0))
}

func TestDedupCacheExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	dedup := NewDedupCache(c)
	ctx := context.Background()

	require.NoError(t, dedup.Record(ctx, "school", "msg-1"))
	mr.FastForward(processedTTL + time.Hour)

	seen, err := dedup.Seen(ctx, "school", "msg-1")
	require.NoError(t, err)
	assert.False(t, seen, "expired entries fall through to the store")
}

func TestRunLock(t *testing.T) {
	c, _ := newTestCache(t)
	lock := NewRunLock(c)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx, "agent_run", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second holder is refused while the lock lives.
	ok, err = lock.Acquire(ctx, "agent_run", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	// Different job kinds do not contend.
	ok, err = lock.Acquire(ctx, "daily_digest", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, lock.Release(ctx, "agent_run"))
	ok, err = lock.Acquire(ctx, "agent_run", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunLockTTL(t *testing.T) {
	c, mr := newTestCache(t)
	lock := NewRunLock(c)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx, "agent_run", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// A crashed holder blocks only until the TTL passes.
	mr.FastForward(2 * time.Minute)
	ok, err = lock.Acquire(ctx, "agent_run", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
