package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/bulkheadio/bulkhead/pkg/auth"
	"github.com/bulkheadio/bulkhead/pkg/contextkeys"
	"github.com/bulkheadio/bulkhead/pkg/httputil"
)

// DistributedRateLimiter implements rate limiting using Redis, so the
// limits hold across all instances behind one load balancer.
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

// Allow checks if a request is allowed using a Redis fixed-window counter
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		// On Redis error, fail open (allow request) to prevent service disruption
		return true, fmt.Errorf("redis error: %w", err)
	}

	// The first increment opens the window; later ones must not slide it.
	if count == 1 {
		if err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return true, fmt.Errorf("redis error: %w", err)
		}
	}

	return count <= int64(rl.config.RequestsPerWindow), nil
}

// Remaining returns the number of remaining requests in the window
func (rl *DistributedRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	count, err := rl.redis.Get(ctx, redisKey).Int()
	if err == redis.Nil {
		// Key doesn't exist, full quota available
		return rl.config.RequestsPerWindow, nil
	} else if err != nil {
		return 0, err
	}

	remaining := rl.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}

	return remaining, nil
}

// TTL returns the time until the rate limit window resets
func (rl *DistributedRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)
	return rl.redis.TTL(ctx, redisKey).Result()
}

// Reset clears the rate limit for a key (for testing or admin purposes)
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)
	return rl.redis.Del(ctx, redisKey).Err()
}

// DistributedRateLimitMiddleware provides HTTP rate limiting with Redis,
// keyed the same way as the in-memory variant: tenant, then principal,
// then client IP.
type DistributedRateLimitMiddleware struct {
	redis            *redis.Client
	tenantLimiter    *DistributedRateLimiter
	principalLimiter *DistributedRateLimiter
	anonymousLimiter *DistributedRateLimiter
	fallbackEnabled  bool
}

// NewDistributedRateLimitMiddleware creates a new Redis-backed rate limit middleware
func NewDistributedRateLimitMiddleware(redisClient *redis.Client) *DistributedRateLimitMiddleware {
	return &DistributedRateLimitMiddleware{
		redis:            redisClient,
		tenantLimiter:    NewDistributedRateLimiter(redisClient, PerTenantRateLimitConfig(), "ratelimit:tenant"),
		principalLimiter: NewDistributedRateLimiter(redisClient, PerPrincipalRateLimitConfig(), "ratelimit:principal"),
		anonymousLimiter: NewDistributedRateLimiter(redisClient, DefaultRateLimitConfig(), "ratelimit:anon"),
		fallbackEnabled:  true, // Fail open on Redis errors
	}
}

// limitKey picks the rate limit key and limiter for a request, mirroring
// RateLimitMiddleware.limitKey.
func (m *DistributedRateLimitMiddleware) limitKey(r *http.Request) (string, *DistributedRateLimiter) {
	ctx := r.Context()

	if tenantID, ok := contextkeys.TenantID(ctx); ok {
		return "tenant:" + tenantID, m.tenantLimiter
	}
	if principal, ok := auth.PrincipalFromContext(ctx); ok {
		return "principal:" + principal.ID, m.principalLimiter
	}
	return "ip:" + getClientIP(r), m.anonymousLimiter
}

// Handler wraps an HTTP handler with distributed rate limiting
func (m *DistributedRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key, limiter := m.limitKey(r)

		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			if m.fallbackEnabled {
				// Fail open: allow request on Redis error
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteErrorCode(w, r, http.StatusServiceUnavailable, "rate_limit_unavailable",
				"rate limiting is temporarily unavailable")
			return
		}

		if !allowed {
			retryAfter := limiter.config.WindowDuration
			if ttl, err := limiter.TTL(ctx, key); err == nil && ttl > 0 {
				retryAfter = ttl
			}
			rateLimitExceeded(w, r, limiter.config, retryAfter)
			return
		}

		remaining, err := limiter.Remaining(ctx, key)
		if err != nil {
			// If we can't get remaining count, still serve request but without headers
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.config.RequestsPerWindow))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if ttl, err := limiter.TTL(ctx, key); err == nil && ttl > 0 {
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(ttl).Unix()))
		}

		next.ServeHTTP(w, r)
	})
}

// SetFallbackEnabled controls whether to fail open (true) or closed (false) on Redis errors
func (m *DistributedRateLimitMiddleware) SetFallbackEnabled(enabled bool) {
	m.fallbackEnabled = enabled
}

// HealthCheck verifies Redis connectivity for rate limiting
func (m *DistributedRateLimitMiddleware) HealthCheck(ctx context.Context) error {
	return m.redis.Ping(ctx).Err()
}

// GetStats returns the live counter population per limiter class
func (m *DistributedRateLimitMiddleware) GetStats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64)

	patterns := []string{
		"ratelimit:tenant:*",
		"ratelimit:principal:*",
		"ratelimit:anon:*",
	}

	for _, pattern := range patterns {
		keys, err := m.redis.Keys(ctx, pattern).Result()
		if err != nil {
			return nil, err
		}
		stats[pattern] = int64(len(keys))
	}

	return stats, nil
}
