package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// KeyFunc extracts a rate limit key from an HTTP request.
type KeyFunc func(r *http.Request) string

// GlobalKeyFunc returns the global key for every request, applying a
// single shared quota.
func GlobalKeyFunc(r *http.Request) string {
	return GlobalKey
}

// IPKeyFunc uses the client IP as the rate limit key, partitioning
// the quota per client.
func IPKeyFunc(r *http.Request) string {
	return GetClientIP(r)
}

// KeyFuncForMode returns the key function for the configured
// admission mode.
func KeyFuncForMode(perClient bool) KeyFunc {
	if perClient {
		return IPKeyFunc
	}
	return GlobalKeyFunc
}

// GetClientIP extracts the client IP from the request. Proxy headers
// are consulted first so the balancer keys on the original client
// when deployed behind another proxy layer.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if ip := strings.TrimSpace(ips[0]); ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
