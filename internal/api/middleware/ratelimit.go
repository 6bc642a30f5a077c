package middleware

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/simonhayes51/sbccrawler-sub000/pkg/logger"
)

// Limit is a fixed-window request budget.
type Limit struct {
	Requests int           // Number of requests allowed
	Window   time.Duration // Time window for the limit
}

// RateLimitConfig holds per-route limits.
type RateLimitConfig struct {
	Trigger Limit
	Read    Limit
}

// DefaultRateLimitConfig returns default limits: a handful of manual crawls
// per hour, generous reads.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Trigger: Limit{Requests: 6, Window: time.Hour},
		Read:    Limit{Requests: 300, Window: time.Minute},
	}
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

// RateLimiter counts requests per client in memory.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
	config  RateLimitConfig
	log     *logger.Logger
	now     func() time.Time
}

// NewRateLimiter creates a new RateLimiter.
func NewRateLimiter(config RateLimitConfig, log *logger.Logger) *RateLimiter {
	return &RateLimiter{
		entries: make(map[string]*rateLimitEntry),
		config:  config,
		log:     log.WithComponent("rate_limiter"),
		now:     time.Now,
	}
}

// Middleware enforces the limit named by limitType ("trigger" or "read").
func (rl *RateLimiter) Middleware(limitType string) func(next http.Handler) http.Handler {
	limit := rl.getLimit(limitType)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := fmt.Sprintf("%s:%s", limitType, clientID(r))
			count, reset := rl.increment(key, limit.Window)

			remaining := limit.Requests - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

			if count > limit.Requests {
				retryAfter := int(reset.Sub(rl.now()).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				rl.log.Warn("rate limit exceeded", "key", key, "count", count, "limit", limit.Requests)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{
						"code":    "RATE_LIMIT_EXCEEDED",
						"message": "Too many requests. Please try again later.",
						"details": map[string]any{"retry_after": retryAfter},
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) increment(key string, window time.Duration) (int, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, ok := rl.entries[key]
	if !ok || !now.Before(entry.expiresAt) {
		if len(rl.entries) > 10000 {
			rl.evictExpired(now)
		}
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		rl.entries[key] = entry
	}
	entry.count++
	return entry.count, entry.expiresAt
}

func (rl *RateLimiter) evictExpired(now time.Time) {
	for k, e := range rl.entries {
		if !now.Before(e.expiresAt) {
			delete(rl.entries, k)
		}
	}
}

func (rl *RateLimiter) getLimit(limitType string) Limit {
	switch limitType {
	case "trigger":
		return rl.config.Trigger
	default:
		return rl.config.Read
	}
}

// clientID identifies the caller by the first forwarded address or the
// remote address.
func clientID(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
