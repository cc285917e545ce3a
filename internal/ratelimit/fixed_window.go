package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vyrodovalexey/avalb/internal/observability"
	"github.com/vyrodovalexey/avalb/internal/ratelimit/store"
)

// FixedWindowLimiter implements the fixed window rate limiting
// algorithm: a per-key counter that resets when the wall clock
// crosses a window boundary. Requests are rejected once the counter
// reaches the quota within the active window.
//
// Boundary behavior: a burst straddling a window boundary can be
// admitted up to twice the quota across the two windows. The token
// bucket limiter does not have this property; this one is the
// default because its behavior is easiest to reason about and
// matches the configured quota exactly within any single window.
// DefaultCounterCleanupInterval is how often stale local window
// counters are removed.
const DefaultCounterCleanupInterval = time.Minute

type FixedWindowLimiter struct {
	store  store.Store
	logger observability.Logger

	mu     sync.RWMutex
	limit  int
	window time.Duration

	// In-memory counters for local rate limiting.
	counters sync.Map

	stopCh   chan struct{}
	stopOnce sync.Once
}

// windowCounter tracks admitted requests for one key in one window.
type windowCounter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
}

// NewFixedWindowLimiter creates a new fixed window rate limiter and
// starts its stale-counter cleanup loop. A nil store keeps all
// counters in process memory; a non-nil store shares them between
// balancer replicas. Call Close when done.
func NewFixedWindowLimiter(s store.Store, limit int, window time.Duration, logger observability.Logger) *FixedWindowLimiter {
	if logger == nil {
		logger = observability.NopLogger()
	}

	l := &FixedWindowLimiter{
		store:  s,
		limit:  limit,
		window: window,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	go l.cleanupLoop()

	return l
}

// Allow implements Limiter.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	if l.store == nil {
		return l.allowLocal(key), nil
	}
	return l.allowDistributed(ctx, key)
}

// UpdateLimit implements Limiter. Counters in the current window are
// kept; the new quota applies immediately. Non-positive values are
// rejected: a zero window would break the window boundary arithmetic.
func (l *FixedWindowLimiter) UpdateLimit(requests int, window time.Duration) {
	if requests <= 0 || window <= 0 {
		l.logger.Warn("ignoring rate limit update with non-positive values",
			observability.Int("requests", requests),
			observability.Duration("window", window),
		)
		return
	}

	l.mu.Lock()
	l.limit = requests
	l.window = window
	l.mu.Unlock()
}

// currentLimit returns the quota and window under the read lock.
func (l *FixedWindowLimiter) currentLimit() (limit int, window time.Duration) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limit, l.window
}

// windowStart returns the start of the window containing t.
func windowStart(t time.Time, window time.Duration) time.Time {
	windowNanos := window.Nanoseconds()
	return time.Unix(0, (t.UnixNano()/windowNanos)*windowNanos)
}

// allowLocal performs the admission check against process memory.
func (l *FixedWindowLimiter) allowLocal(key string) *Result {
	limit, window := l.currentLimit()
	now := time.Now()
	start := windowStart(now, window)

	value, _ := l.counters.LoadOrStore(key, &windowCounter{windowStart: start})
	wc := value.(*windowCounter)

	wc.mu.Lock()
	defer wc.mu.Unlock()

	// Roll the counter when the clock crosses the boundary.
	if !wc.windowStart.Equal(start) {
		wc.count = 0
		wc.windowStart = start
	}

	allowed := wc.count < limit
	if allowed {
		wc.count++
	}

	return l.buildResult(allowed, limit, limit-wc.count, start.Add(window).Sub(now))
}

// allowDistributed performs the admission check against the shared
// store.
func (l *FixedWindowLimiter) allowDistributed(ctx context.Context, key string) (*Result, error) {
	limit, window := l.currentLimit()
	now := time.Now()
	start := windowStart(now, window)

	windowKey := fmt.Sprintf("%s:fw:%d", key, start.UnixNano())

	// The increment is atomic in the store; decrement on rejection so
	// denied requests do not consume quota.
	expiration := window + time.Second // buffer for clock skew
	count, err := l.store.IncrementWithExpiry(ctx, windowKey, 1, expiration)
	if err != nil {
		return nil, fmt.Errorf("rate limit store increment: %w", err)
	}

	allowed := count <= int64(limit)
	if !allowed {
		if _, derr := l.store.IncrementWithExpiry(ctx, windowKey, -1, expiration); derr != nil {
			l.logger.Warn("failed to roll back rejected increment",
				observability.Error(derr),
			)
		}
		count = int64(limit)
	}

	return l.buildResult(allowed, limit, limit-int(count), start.Add(window).Sub(now)), nil
}

// buildResult assembles an admission result.
func (l *FixedWindowLimiter) buildResult(allowed bool, limit, remaining int, resetAfter time.Duration) *Result {
	if remaining < 0 {
		remaining = 0
	}
	if resetAfter < 0 {
		resetAfter = 0
	}

	var retryAfter time.Duration
	if !allowed {
		retryAfter = resetAfter
	}

	return &Result{
		Allowed:    allowed,
		Limit:      limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}
}

// Reset implements Limiter.
func (l *FixedWindowLimiter) Reset(ctx context.Context, key string) error {
	l.counters.Delete(key)

	if l.store != nil {
		_, window := l.currentLimit()
		start := windowStart(time.Now(), window)
		windowKey := fmt.Sprintf("%s:fw:%d", key, start.UnixNano())
		if err := l.store.Delete(ctx, windowKey); err != nil {
			return fmt.Errorf("rate limit store delete: %w", err)
		}
	}

	return nil
}

// Close implements Limiter. Safe to call multiple times.
func (l *FixedWindowLimiter) Close() error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})

	if l.store != nil {
		return l.store.Close()
	}
	return nil
}

// cleanupLoop periodically drops counters from past windows so that
// per-client keying cannot grow the map without bound.
func (l *FixedWindowLimiter) cleanupLoop() {
	ticker := time.NewTicker(DefaultCounterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Cleanup()
		case <-l.stopCh:
			return
		}
	}
}

// Cleanup removes counters from past windows.
func (l *FixedWindowLimiter) Cleanup() {
	_, window := l.currentLimit()
	start := windowStart(time.Now(), window)

	l.counters.Range(func(key, value interface{}) bool {
		wc := value.(*windowCounter)
		wc.mu.Lock()
		stale := wc.windowStart.Before(start)
		wc.mu.Unlock()

		if stale {
			l.counters.Delete(key)
		}
		return true
	})
}
