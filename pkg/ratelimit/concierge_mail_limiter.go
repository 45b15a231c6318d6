// Package ratelimit provides client-side rate limiting for upstream API
// calls.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MailLimiter spreads mail API calls with a sliding window. With Redis the
// window is shared across processes; without it a local window applies to
// this process only.
type MailLimiter struct {
	redis  *redis.Client
	rate   int
	burst  int
	window time.Duration

	mu    sync.Mutex
	local []time.Time
}

// NewMailLimiter creates a limiter allowing rate requests per second plus
// burst. redisClient may be nil.
func NewMailLimiter(redisClient *redis.Client, rate, burst int) *MailLimiter {
	if rate <= 0 {
		rate = 10
	}
	if burst < 0 {
		burst = 0
	}
	return &MailLimiter{
		redis:  redisClient,
		rate:   rate,
		burst:  burst,
		window: time.Second,
	}
}

// slidingWindowScript atomically trims the window, counts entries, and either
// admits the call or returns the wait until the oldest entry expires
// (negative milliseconds).
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local max_requests = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)
	if count < max_requests then
		redis.call('ZADD', key, now, now .. '-' .. math.random())
		redis.call('PEXPIRE', key, window_ms * 2)
		return 1
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if #oldest > 0 then
		return -(oldest[2] + window_ms - now)
	end
	return 0
`)

// Allow reports whether a call keyed by key may proceed now, and if not, how
// long to wait. Redis failures admit the call; the upstream quota is the
// backstop.
func (l *MailLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if l.redis == nil {
		return l.allowLocal()
	}

	now := time.Now()
	result, err := slidingWindowScript.Run(ctx, l.redis,
		[]string{fmt.Sprintf("ratelimit:%s", key)},
		now.UnixMilli(),
		now.Add(-l.window).UnixMilli(),
		l.rate+l.burst,
		l.window.Milliseconds(),
	).Int64()
	if err != nil {
		return true, 0
	}

	if result == 1 {
		return true, 0
	}
	if result < 0 {
		return false, time.Duration(-result) * time.Millisecond
	}
	return false, l.window
}

// Wait blocks until the call may proceed or the context ends.
func (l *MailLimiter) Wait(ctx context.Context, key string) error {
	for {
		allowed, wait := l.Allow(ctx, key)
		if allowed {
			return nil
		}
		if wait <= 0 {
			wait = l.window
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *MailLimiter) allowLocal() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)
	kept := l.local[:0]
	for _, t := range l.local {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.local = kept

	if len(l.local) < l.rate+l.burst {
		l.local = append(l.local, now)
		return true, 0
	}
	return false, l.local[0].Add(l.window).Sub(now)
}
