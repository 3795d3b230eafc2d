// Package server middleware: per-IP rate limiting for the handshake endpoints.
package server

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// rateLimiterConfig holds rate limiting configuration.
type rateLimiterConfig struct {
	enabled       bool
	requestsPerIP int
	window        time.Duration
}

// loadRateLimiterConfig reads rate limiter configuration from environment.
func loadRateLimiterConfig() *rateLimiterConfig {
	cfg := &rateLimiterConfig{
		enabled:       os.Getenv("RATE_LIMIT_ENABLED") != "0", // enabled by default
		requestsPerIP: 30,
		window:        time.Minute,
	}
	if v := os.Getenv("RATE_LIMIT_REQUESTS_PER_IP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.requestsPerIP = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.window = time.Duration(n) * time.Second
		}
	}
	return cfg
}

// ipRateLimiter implements a sliding-window limiter per client IP. The
// handshake endpoints are the only unauthenticated state-changing surface, so
// they get a ceiling against brute-forcing correlation keys.
type ipRateLimiter struct {
	mu       sync.Mutex
	visitors map[string][]time.Time
	calls    int
	cfg      *rateLimiterConfig
}

// sweepEvery bounds how many allow calls may pass between full sweeps of the
// visitors map, so one-shot IPs that never return still get evicted.
const sweepEvery = 256

func newIPRateLimiter(cfg *rateLimiterConfig) *ipRateLimiter {
	return &ipRateLimiter{visitors: make(map[string][]time.Time), cfg: cfg}
}

func (l *ipRateLimiter) allow(ip string) bool {
	if !l.cfg.enabled {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.cfg.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.calls%sweepEvery == 0 {
		l.sweep(cutoff)
	}

	stamps := l.visitors[ip]
	kept := stamps[:0]
	for _, s := range stamps {
		if s.After(cutoff) {
			kept = append(kept, s)
		}
	}
	if len(kept) >= l.cfg.requestsPerIP {
		l.visitors[ip] = kept
		return false
	}
	l.visitors[ip] = append(kept, now)
	return true
}

// sweep drops visitors whose entire window has expired. Stamps are appended
// in time order, so an IP is stale iff its newest stamp is past the cutoff.
// Caller must hold mu.
func (l *ipRateLimiter) sweep(cutoff time.Time) {
	for ip, stamps := range l.visitors {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(l.visitors, ip)
		}
	}
}

// clientIP extracts the caller address, honoring the first X-Forwarded-For
// entry when present (the service sits behind a reverse proxy in production).
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.Index(xff, ","); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimitMiddleware rejects requests over the per-IP budget with 429.
func rateLimitMiddleware(next http.Handler, limiter *ipRateLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.allow(clientIP(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
