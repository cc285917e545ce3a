package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/avalb/internal/observability"
)

// Token bucket housekeeping constants.
const (
	// DefaultBucketTTL is how long an idle per-key bucket is kept.
	DefaultBucketTTL = 10 * time.Minute

	// DefaultBucketCleanupInterval is how often stale buckets are
	// removed.
	DefaultBucketCleanupInterval = time.Minute
)

// TokenBucketLimiter implements token bucket rate limiting on top of
// golang.org/x/time/rate. The bucket capacity equals the quota and
// refills continuously at quota/window, which smooths admission at
// window boundaries: a burst can never exceed the quota regardless of
// where the window boundary falls, at the cost of admitting sustained
// traffic slightly ahead of a strict per-window count.
type TokenBucketLimiter struct {
	logger observability.Logger

	mu     sync.Mutex
	limit  int
	window time.Duration

	buckets   map[string]*bucketEntry
	bucketTTL time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// bucketEntry holds a per-key limiter and its last access time for
// TTL-based cleanup.
type bucketEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewTokenBucketLimiter creates a new token bucket rate limiter and
// starts its stale-bucket cleanup loop. Call Close when done.
func NewTokenBucketLimiter(limit int, window time.Duration, logger observability.Logger) *TokenBucketLimiter {
	if logger == nil {
		logger = observability.NopLogger()
	}

	l := &TokenBucketLimiter{
		logger:    logger,
		limit:     limit,
		window:    window,
		buckets:   make(map[string]*bucketEntry),
		bucketTTL: DefaultBucketTTL,
		stopCh:    make(chan struct{}),
	}

	go l.cleanupLoop()

	return l
}

// refillRate converts the quota and window into a refill rate.
func refillRate(limit int, window time.Duration) rate.Limit {
	return rate.Limit(float64(limit) / window.Seconds())
}

// Allow implements Limiter.
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	limiter, limit := l.bucketFor(key)

	// Reserve rather than Allow so a rejection yields the wait time
	// for the Retry-After header without consuming a token.
	res := limiter.Reserve()
	delay := res.Delay()
	if delay > 0 {
		res.Cancel()
		return &Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAfter: delay,
			RetryAfter: delay,
		}, nil
	}

	remaining := int(limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}

	return &Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: remaining,
	}, nil
}

// bucketFor returns the limiter for the key, creating it on first
// use, and refreshes the key's last access time.
func (l *TokenBucketLimiter) bucketFor(key string) (*rate.Limiter, int) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.buckets[key]
	if !ok {
		entry = &bucketEntry{
			limiter: rate.NewLimiter(refillRate(l.limit, l.window), l.limit),
		}
		l.buckets[key] = entry
	}
	entry.lastAccess = now

	return entry.limiter, l.limit
}

// UpdateLimit implements Limiter. Existing buckets pick up the new
// rate immediately; their current token balance is preserved.
// Non-positive values are rejected: a zero window would yield an
// undefined refill rate.
func (l *TokenBucketLimiter) UpdateLimit(requests int, window time.Duration) {
	if requests <= 0 || window <= 0 {
		l.logger.Warn("ignoring rate limit update with non-positive values",
			observability.Int("requests", requests),
			observability.Duration("window", window),
		)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.limit = requests
	l.window = window

	newRate := refillRate(requests, window)
	for _, entry := range l.buckets {
		entry.limiter.SetLimit(newRate)
		entry.limiter.SetBurst(requests)
	}
}

// Reset implements Limiter.
func (l *TokenBucketLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
	return nil
}

// Close implements Limiter. Safe to call multiple times.
func (l *TokenBucketLimiter) Close() error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	return nil
}

// cleanupLoop periodically drops buckets that have not been touched
// within the TTL.
func (l *TokenBucketLimiter) cleanupLoop() {
	ticker := time.NewTicker(DefaultBucketCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.removeStaleBuckets()
		case <-l.stopCh:
			return
		}
	}
}

// removeStaleBuckets deletes buckets idle past the TTL.
func (l *TokenBucketLimiter) removeStaleBuckets() {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, entry := range l.buckets {
		if now.Sub(entry.lastAccess) > l.bucketTTL {
			delete(l.buckets, key)
			removed++
		}
	}

	if removed > 0 {
		l.logger.Debug("removed stale rate limit buckets",
			observability.Int("removed", removed),
			observability.Int("remaining", len(l.buckets)),
		)
	}
}
