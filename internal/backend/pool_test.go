package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avalb/internal/config"
)

func TestPoolConfigFromUpstream(t *testing.T) {
	t.Parallel()

	cfg := config.UpstreamConfig{
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     config.Duration(time.Minute),
	}

	pc := PoolConfigFromUpstream(cfg)

	assert.Equal(t, 200, pc.MaxIdleConns)
	assert.Equal(t, 20, pc.MaxIdleConnsPerHost)
	assert.Equal(t, 50, pc.MaxConnsPerHost)
	assert.Equal(t, time.Minute, pc.IdleConnTimeout)
}

func TestPoolConfigFromUpstream_ZeroValuesKeepDefaults(t *testing.T) {
	t.Parallel()

	pc := PoolConfigFromUpstream(config.UpstreamConfig{})

	defaults := DefaultPoolConfig()
	assert.Equal(t, defaults.MaxIdleConns, pc.MaxIdleConns)
	assert.Equal(t, defaults.MaxIdleConnsPerHost, pc.MaxIdleConnsPerHost)
	assert.Equal(t, defaults.IdleConnTimeout, pc.IdleConnTimeout)
}

func TestNewConnectionPool(t *testing.T) {
	t.Parallel()

	pool := NewConnectionPool(DefaultPoolConfig())
	t.Cleanup(pool.CloseIdleConnections)

	require.NotNil(t, pool.Client())
	require.NotNil(t, pool.Transport())
	assert.Same(t, pool.Transport(), pool.Client().Transport)
	assert.Equal(t, 100, pool.Transport().MaxIdleConns)
}
