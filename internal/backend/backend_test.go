package backend

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avalb/internal/config"
)

func newTestRegistry(t *testing.T, n int) *Registry {
	t.Helper()

	backends := make([]config.BackendHost, 0, n)
	for i := 0; i < n; i++ {
		backends = append(backends, config.BackendHost{
			Address: "10.0.0.1",
			Port:    8080 + i,
		})
	}

	r, err := NewRegistry(backends)
	require.NoError(t, err)
	return r
}

func TestNewRegistry_Empty(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry(nil)
	assert.Error(t, err)
}

func TestHost_Addr(t *testing.T) {
	t.Parallel()

	h := NewHost("10.0.0.1", 8080)
	assert.Equal(t, "10.0.0.1:8080", h.Addr())
	assert.Equal(t, "http://10.0.0.1:8080", h.URL())
	assert.Equal(t, StatusUnknown, h.Status())
	assert.True(t, h.LastChecked().IsZero())
}

func TestRegistry_Next_CyclesThroughHosts(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, 3)
	for _, h := range r.Hosts() {
		r.MarkHealthy(h)
	}

	seen := make(map[string]int)
	for i := 0; i < 9; i++ {
		host, err := r.Next()
		require.NoError(t, err)
		seen[host.Addr()]++
	}

	assert.Equal(t, 3, seen["10.0.0.1:8080"])
	assert.Equal(t, 3, seen["10.0.0.1:8081"])
	assert.Equal(t, 3, seen["10.0.0.1:8082"])
}

func TestRegistry_Next_UnprobedHostsReceiveTraffic(t *testing.T) {
	t.Parallel()

	// No probe has run yet, every host is still Unknown.
	r := newTestRegistry(t, 2)

	host, err := r.Next()
	require.NoError(t, err)
	assert.NotNil(t, host)
}

func TestRegistry_Next_SkipsUnhealthy(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, 3)
	hosts := r.Hosts()
	r.MarkHealthy(hosts[0])
	r.MarkUnhealthy(hosts[1])
	r.MarkHealthy(hosts[2])

	seen := make(map[string]int)
	for i := 0; i < 10; i++ {
		host, err := r.Next()
		require.NoError(t, err)
		seen[host.Addr()]++
	}

	// Survivors split the traffic evenly between themselves.
	assert.Equal(t, 0, seen[hosts[1].Addr()])
	assert.Equal(t, 5, seen[hosts[0].Addr()])
	assert.Equal(t, 5, seen[hosts[2].Addr()])
}

func TestRegistry_Next_AllUnhealthy(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, 2)
	for _, h := range r.Hosts() {
		r.MarkUnhealthy(h)
	}

	_, err := r.Next()
	assert.ErrorIs(t, err, ErrNoHealthyHost)
}

func TestRegistry_Next_RecoveredHostRejoins(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, 2)
	hosts := r.Hosts()
	r.MarkHealthy(hosts[0])
	r.MarkUnhealthy(hosts[1])

	for i := 0; i < 4; i++ {
		host, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, hosts[0].Addr(), host.Addr())
	}

	r.MarkHealthy(hosts[1])

	seen := make(map[string]int)
	for i := 0; i < 10; i++ {
		host, err := r.Next()
		require.NoError(t, err)
		seen[host.Addr()]++
	}
	assert.Equal(t, 5, seen[hosts[0].Addr()])
	assert.Equal(t, 5, seen[hosts[1].Addr()])
}

func TestRegistry_NextEligible_Predicate(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, 3)
	hosts := r.Hosts()
	for _, h := range hosts {
		r.MarkHealthy(h)
	}

	skip := hosts[0].Addr()
	for i := 0; i < 6; i++ {
		host, err := r.NextEligible(func(h *Host) bool {
			return h.Addr() != skip
		})
		require.NoError(t, err)
		assert.NotEqual(t, skip, host.Addr())
	}
}

func TestRegistry_NextEligible_NothingEligible(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, 2)
	for _, h := range r.Hosts() {
		r.MarkHealthy(h)
	}

	_, err := r.NextEligible(func(*Host) bool { return false })
	assert.ErrorIs(t, err, ErrNoHealthyHost)
}

func TestRegistry_Mark_Idempotent(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, 1)
	h := r.Hosts()[0]

	assert.True(t, r.MarkHealthy(h))
	assert.False(t, r.MarkHealthy(h))
	assert.Equal(t, StatusHealthy, h.Status())

	assert.True(t, r.MarkUnhealthy(h))
	assert.False(t, r.MarkUnhealthy(h))
	assert.Equal(t, StatusUnhealthy, h.Status())
}

func TestRegistry_Mark_ResetsOppositeCounter(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, 1)
	h := r.Hosts()[0]

	h.recordProbe(false, time.Now())
	h.recordProbe(false, time.Now())
	assert.Equal(t, 2, h.ConsecutiveFailures())

	r.MarkHealthy(h)
	assert.Equal(t, 0, h.ConsecutiveFailures())

	h.recordProbe(true, time.Now())
	assert.Equal(t, 1, h.ConsecutiveSuccesses())

	r.MarkUnhealthy(h)
	assert.Equal(t, 0, h.ConsecutiveSuccesses())
}

func TestRegistry_Healthy(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, 3)
	hosts := r.Hosts()
	r.MarkUnhealthy(hosts[1])

	healthy := r.Healthy()
	require.Len(t, healthy, 2)
	assert.Equal(t, hosts[0].Addr(), healthy[0].Addr())
	assert.Equal(t, hosts[2].Addr(), healthy[1].Addr())
}

func TestRegistry_Next_ConcurrentFairness(t *testing.T) {
	t.Parallel()

	const (
		hostCount    = 4
		requestCount = 1000
	)

	r := newTestRegistry(t, hostCount)
	for _, h := range r.Hosts() {
		r.MarkHealthy(h)
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)

	for i := 0; i < requestCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			host, err := r.Next()
			if err != nil {
				return
			}

			mu.Lock()
			seen[host.Addr()]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	total := 0
	for _, count := range seen {
		total += count
	}
	require.Equal(t, requestCount, total)

	// The atomic cursor distributes selections exactly evenly.
	expected := requestCount / hostCount
	for addr, count := range seen {
		assert.InDelta(t, expected, count, 1, "host %s", addr)
	}
}
