// Package ratelimit provides request admission control for the load
// balancer. It supports fixed window and token bucket accounting, a
// global or per-client quota, and an optional Redis-backed counter
// store for running multiple balancer replicas against one quota.
package ratelimit

import (
	"context"
	"time"
)

// Limiter defines the interface for rate limiting. Implementations
// must be safe for concurrent use; admission never exceeds the
// configured quota under concurrent callers.
type Limiter interface {
	// Allow checks if a single request is allowed for the given key.
	Allow(ctx context.Context, key string) (*Result, error)

	// UpdateLimit replaces the quota and window at runtime.
	UpdateLimit(requests int, window time.Duration)

	// Reset clears the rate limit state for the given key.
	Reset(ctx context.Context, key string) error

	// Close releases any background resources held by the limiter.
	Close() error
}

// Result represents the outcome of an admission check.
type Result struct {
	// Allowed indicates whether the request is admitted.
	Allowed bool

	// Limit is the maximum number of requests allowed per window.
	Limit int

	// Remaining is the number of requests remaining in the current
	// window.
	Remaining int

	// ResetAfter is the duration until the current window resets.
	ResetAfter time.Duration

	// RetryAfter is the duration to wait before retrying (when not
	// allowed).
	RetryAfter time.Duration
}

// GlobalKey is the admission key used when the quota is not
// partitioned per client.
const GlobalKey = "global"

// NoopLimiter is a rate limiter that admits every request.
type NoopLimiter struct{}

// NewNoopLimiter creates a new noop limiter.
func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

// Allow implements Limiter.
func (l *NoopLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return &Result{Allowed: true}, nil
}

// UpdateLimit implements Limiter.
func (l *NoopLimiter) UpdateLimit(requests int, window time.Duration) {}

// Reset implements Limiter.
func (l *NoopLimiter) Reset(ctx context.Context, key string) error {
	return nil
}

// Close implements Limiter.
func (l *NoopLimiter) Close() error {
	return nil
}
