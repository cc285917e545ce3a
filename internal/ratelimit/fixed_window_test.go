package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedWindowLimiter_EnforcesQuota(t *testing.T) {
	t.Parallel()

	l := NewFixedWindowLimiter(nil, 5, time.Minute, nil)
	defer l.Close()

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := l.Allow(ctx, GlobalKey)
		require.NoError(t, err)
		assert.True(t, result.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, 5, result.Limit)
		assert.Equal(t, 4-i, result.Remaining)
	}

	result, err := l.Allow(ctx, GlobalKey)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.Greater(t, result.RetryAfter, time.Duration(0))
}

func TestFixedWindowLimiter_NewWindowResetsCounter(t *testing.T) {
	t.Parallel()

	window := 50 * time.Millisecond
	l := NewFixedWindowLimiter(nil, 2, window, nil)
	defer l.Close()

	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := l.Allow(ctx, GlobalKey)
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}

	result, err := l.Allow(ctx, GlobalKey)
	require.NoError(t, err)
	require.False(t, result.Allowed)

	// Wait for the next window boundary.
	time.Sleep(window + 10*time.Millisecond)

	result, err = l.Allow(ctx, GlobalKey)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestFixedWindowLimiter_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	l := NewFixedWindowLimiter(nil, 1, time.Minute, nil)
	defer l.Close()

	ctx := context.Background()

	result, err := l.Allow(ctx, "192.0.2.1")
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	result, err = l.Allow(ctx, "192.0.2.1")
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	result, err = l.Allow(ctx, "192.0.2.2")
	require.NoError(t, err)
	assert.True(t, result.Allowed, "a different client has its own quota")
}

func TestFixedWindowLimiter_UpdateLimit(t *testing.T) {
	t.Parallel()

	l := NewFixedWindowLimiter(nil, 1, time.Minute, nil)
	defer l.Close()

	ctx := context.Background()

	result, err := l.Allow(ctx, GlobalKey)
	require.NoError(t, err)
	require.True(t, result.Allowed)

	result, err = l.Allow(ctx, GlobalKey)
	require.NoError(t, err)
	require.False(t, result.Allowed)

	// Raising the quota admits further requests in the same window.
	l.UpdateLimit(3, time.Minute)

	result, err = l.Allow(ctx, GlobalKey)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 3, result.Limit)
}

func TestFixedWindowLimiter_Reset(t *testing.T) {
	t.Parallel()

	l := NewFixedWindowLimiter(nil, 1, time.Minute, nil)
	defer l.Close()

	ctx := context.Background()

	result, err := l.Allow(ctx, GlobalKey)
	require.NoError(t, err)
	require.True(t, result.Allowed)

	require.NoError(t, l.Reset(ctx, GlobalKey))

	result, err = l.Allow(ctx, GlobalKey)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestFixedWindowLimiter_ConcurrentAdmissionNeverExceedsQuota(t *testing.T) {
	t.Parallel()

	const (
		quota    = 50
		attempts = 200
	)

	l := NewFixedWindowLimiter(nil, quota, time.Minute, nil)
	defer l.Close()

	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			result, err := l.Allow(ctx, GlobalKey)
			if err != nil || !result.Allowed {
				return
			}

			mu.Lock()
			allowed++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, quota, allowed)
}

func TestFixedWindowLimiter_Cleanup(t *testing.T) {
	t.Parallel()

	window := 20 * time.Millisecond
	l := NewFixedWindowLimiter(nil, 1, window, nil)
	defer l.Close()

	_, err := l.Allow(context.Background(), "client-a")
	require.NoError(t, err)

	time.Sleep(window + 10*time.Millisecond)
	l.Cleanup()

	_, loaded := l.counters.Load("client-a")
	assert.False(t, loaded, "stale counter should be removed")
}

func TestFixedWindowLimiter_UpdateLimitRejectsNonPositiveValues(t *testing.T) {
	t.Parallel()

	l := NewFixedWindowLimiter(nil, 2, time.Hour, nil)
	defer l.Close()

	ctx := context.Background()

	l.UpdateLimit(0, 0)
	l.UpdateLimit(-1, -time.Second)

	// The quota is unchanged and admission still works.
	for i := 0; i < 2; i++ {
		var result *Result
		var err error
		require.NotPanics(t, func() {
			result, err = l.Allow(ctx, GlobalKey)
		})
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 2, result.Limit)
	}

	result, err := l.Allow(ctx, GlobalKey)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestFixedWindowLimiter_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	l := NewFixedWindowLimiter(nil, 5, time.Minute, nil)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}
