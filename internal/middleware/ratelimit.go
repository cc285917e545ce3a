package middleware

import (
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/vyrodovalexey/avalb/internal/observability"
	"github.com/vyrodovalexey/avalb/internal/ratelimit"
)

// rateLimitHandler holds the dependencies of the rate limit middleware.
type rateLimitHandler struct {
	limiter  ratelimit.Limiter
	keyFunc  ratelimit.KeyFunc
	keyLabel string
	logger   observability.Logger
	metrics  *observability.Metrics
	failOpen bool
}

// RateLimitOption is a functional option for configuring the middleware.
type RateLimitOption func(*rateLimitHandler)

// WithRateLimitLogger sets the logger for the middleware.
func WithRateLimitLogger(logger observability.Logger) RateLimitOption {
	return func(h *rateLimitHandler) {
		h.logger = logger
	}
}

// WithRateLimitMetrics sets the metrics collector for the middleware.
func WithRateLimitMetrics(m *observability.Metrics) RateLimitOption {
	return func(h *rateLimitHandler) {
		h.metrics = m
	}
}

// WithRateLimitFailOpen admits requests when the limiter itself errors,
// for example when a distributed counter store is unreachable.
func WithRateLimitFailOpen(failOpen bool) RateLimitOption {
	return func(h *rateLimitHandler) {
		h.failOpen = failOpen
	}
}

// RateLimit returns a middleware that applies rate limiting. With
// perClient set, each client IP gets its own quota; otherwise a single
// quota covers all traffic.
func RateLimit(limiter ratelimit.Limiter, perClient bool, opts ...RateLimitOption) func(http.Handler) http.Handler {
	h := &rateLimitHandler{
		limiter:  limiter,
		keyFunc:  ratelimit.KeyFuncForMode(perClient),
		keyLabel: ratelimit.GlobalKey,
		logger:   observability.NopLogger(),
		failOpen: true,
	}
	if perClient {
		h.keyLabel = "client"
	}

	for _, opt := range opts {
		opt(h)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := h.keyFunc(r)

			result, err := h.limiter.Allow(r.Context(), key)
			if err != nil {
				h.logger.Error("rate limiter failed",
					observability.String("key", key),
					observability.Error(err),
				)
				if h.failOpen {
					next.ServeHTTP(w, r)
					return
				}
				w.Header().Set(HeaderContentType, ContentTypeJSON)
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = io.WriteString(w, ErrInternalServerError)
				return
			}

			if !result.Allowed {
				h.logger.Warn("rate limit exceeded",
					observability.String("key", key),
					observability.String("path", r.URL.Path),
				)

				if h.metrics != nil {
					h.metrics.RecordRateLimitHit(h.keyLabel)
				}

				w.Header().Set(HeaderContentType, ContentTypeJSON)
				w.Header().Set(HeaderRetryAfter, retryAfterSeconds(result))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = io.WriteString(w, ErrRateLimitExceeded)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterSeconds formats the retry delay as whole seconds, rounded
// up, with a floor of one second.
func retryAfterSeconds(result *ratelimit.Result) string {
	secs := int64(math.Ceil(result.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
