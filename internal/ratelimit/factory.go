package ratelimit

import (
	"fmt"

	"github.com/vyrodovalexey/avalb/internal/config"
	"github.com/vyrodovalexey/avalb/internal/observability"
	"github.com/vyrodovalexey/avalb/internal/ratelimit/store"
)

// NewLimiter creates a rate limiter from configuration. A disabled
// configuration yields a NoopLimiter.
func NewLimiter(cfg config.RateLimitConfig, logger observability.Logger) (Limiter, error) {
	if !cfg.Enabled {
		return NewNoopLimiter(), nil
	}

	switch cfg.Algorithm {
	case "", config.RateLimitFixedWindow:
		s, err := newStore(cfg, logger)
		if err != nil {
			return nil, err
		}
		return NewFixedWindowLimiter(s, cfg.Requests, cfg.Window.Duration(), logger), nil

	case config.RateLimitTokenBucket:
		if cfg.Store == config.RateLimitStoreRedis {
			return nil, fmt.Errorf("token bucket rate limiting does not support the redis store")
		}
		return NewTokenBucketLimiter(cfg.Requests, cfg.Window.Duration(), logger), nil

	default:
		return nil, fmt.Errorf("unknown rate limit algorithm: %s", cfg.Algorithm)
	}
}

// newStore creates the counter store for the fixed window limiter. An
// unset store means counters stay in the limiter's own process-local
// map; the memory store keeps the same single-process semantics behind
// the Store interface.
func newStore(cfg config.RateLimitConfig, logger observability.Logger) (store.Store, error) {
	switch cfg.Store {
	case "":
		return nil, nil
	case config.RateLimitStoreMemory:
		return store.NewMemoryStore(), nil
	case config.RateLimitStoreRedis:
		s, err := store.NewRedisStore(store.RedisConfig{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis rate limit store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown rate limit store: %s", cfg.Store)
	}
}
