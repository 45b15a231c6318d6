package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiterAdmitsUpToBurst(t *testing.T) {
	l := NewMailLimiter(nil, 2, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _ := l.Allow(ctx, "gmail")
		assert.True(t, allowed, "call %d should be admitted", i)
	}

	allowed, wait := l.Allow(ctx, "gmail")
	assert.False(t, allowed)
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, time.Second)
}

func TestLocalLimiterWindowSlides(t *testing.T) {
	l := NewMailLimiter(nil, 1, 0)
	ctx := context.Background()

	allowed, _ := l.Allow(ctx, "gmail")
	require.True(t, allowed)
	allowed, _ = l.Allow(ctx, "gmail")
	require.False(t, allowed)

	// Age the recorded call out of the window.
	l.mu.Lock()
	l.local[0] = time.Now().Add(-2 * time.Second)
	l.mu.Unlock()

	allowed, _ = l.Allow(ctx, "gmail")
	assert.True(t, allowed)
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	l := NewMailLimiter(client, 2, 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _ := l.Allow(ctx, "gmail")
		assert.True(t, allowed, "call %d should be admitted", i)
	}

	allowed, wait := l.Allow(ctx, "gmail")
	assert.False(t, allowed)
	assert.Greater(t, wait, time.Duration(0))
}

func TestRedisFailureAdmits(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	l := NewMailLimiter(client, 1, 0)
	allowed, _ := l.Allow(context.Background(), "gmail")
	assert.True(t, allowed, "redis failures must not block mail calls")
}

func TestWaitHonorsContext(t *testing.T) {
	l := NewMailLimiter(nil, 1, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Fill the window so Wait has to block, then verify it gives up on the
	// dead context instead of sleeping out the window.
	l.mu.Lock()
	l.local = append(l.local, time.Now())
	l.mu.Unlock()

	err := l.Wait(ctx, "gmail")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefaults(t *testing.T) {
	l := NewMailLimiter(nil, 0, -1)
	assert.Equal(t, 10, l.rate)
	assert.Equal(t, 0, l.burst)
}
