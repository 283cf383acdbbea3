package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sentra/backend/internal/tenant"
)

// RateLimiter enforces per-tenant rate limits on the evaluation and admin
// endpoints using a sliding one-minute window per key. Expired windows are
// garbage-collected in the background.
type RateLimiter struct {
	mu       sync.Mutex
	windows  map[string]*rateLimitWindow
	defaults RateLimitConfig
}

// RateLimitConfig defines the rate limiting thresholds.
type RateLimitConfig struct {
	MaxCallsPerMinute int
	BurstSize         int
}

type rateLimitWindow struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a rate limiter with the given defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.MaxCallsPerMinute == 0 {
		cfg.MaxCallsPerMinute = 600
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = cfg.MaxCallsPerMinute * 2
	}
	rl := &RateLimiter{
		windows:  make(map[string]*rateLimitWindow),
		defaults: cfg,
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether a request under the given key is within limits.
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	window, exists := rl.windows[key]
	if !exists || now.Sub(window.windowStart) > time.Minute {
		rl.windows[key] = &rateLimitWindow{count: 1, windowStart: now}
		return true
	}

	window.count++
	if window.count > rl.defaults.BurstSize {
		slog.Warn("Rate limit exceeded (burst)", "key", key, "count", window.count, "limit", rl.defaults.BurstSize)
		return false
	}
	if window.count > rl.defaults.MaxCallsPerMinute {
		slog.Warn("Rate limit exceeded", "key", key, "count", window.count, "limit", rl.defaults.MaxCallsPerMinute)
		return false
	}
	return true
}

// Middleware enforces the limit keyed by the authenticated tenant. It must
// run after tenant resolution; requests without a tenant context are keyed
// by source address so no caller can reach a shared bucket by omitting or
// spoofing headers.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := tenant.FromContext(r.Context())
		if !ok {
			key = "addr:" + r.RemoteAddr
		}

		if !rl.Allow(key) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded","retry_after_seconds":60}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, window := range rl.windows {
			if now.Sub(window.windowStart) > 2*time.Minute {
				delete(rl.windows, key)
			}
		}
		rl.mu.Unlock()
	}
}
