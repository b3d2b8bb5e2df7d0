package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestDistributedRateLimiter_Allow(t *testing.T) {
	mr, client := setupRedis(t)
	config := &RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    time.Minute,
	}
	limiter := NewDistributedRateLimiter(client, config, "ratelimit:test")
	ctx := context.Background()

	for i := 0; i < config.RequestsPerWindow; i++ {
		allowed, err := limiter.Allow(ctx, "tenant:tenant-a")
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	allowed, err := limiter.Allow(ctx, "tenant:tenant-a")
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if allowed {
		t.Error("request past the window limit should be denied")
	}

	// The counter expires with the window and the quota comes back
	mr.FastForward(config.WindowDuration + time.Second)
	allowed, err = limiter.Allow(ctx, "tenant:tenant-a")
	if err != nil {
		t.Fatalf("Allow() after window: %v", err)
	}
	if !allowed {
		t.Error("new window should allow requests again")
	}
}

func TestDistributedRateLimiter_WindowDoesNotSlide(t *testing.T) {
	mr, client := setupRedis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Minute,
	}, "ratelimit:test")
	ctx := context.Background()

	limiter.Allow(ctx, "tenant:tenant-a")
	first := mr.TTL("ratelimit:test:tenant:tenant-a")
	if first <= 0 {
		t.Fatalf("first increment must open the window, TTL = %v", first)
	}

	// Later requests must not push the expiry out
	mr.FastForward(30 * time.Second)
	limiter.Allow(ctx, "tenant:tenant-a")
	if ttl := mr.TTL("ratelimit:test:tenant:tenant-a"); ttl > first-30*time.Second {
		t.Errorf("TTL = %v after a mid-window request, window slid", ttl)
	}
}

func TestDistributedRateLimiter_Remaining(t *testing.T) {
	_, client := setupRedis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 5,
		WindowDuration:    time.Minute,
	}, "ratelimit:test")
	ctx := context.Background()

	remaining, err := limiter.Remaining(ctx, "tenant:tenant-a")
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if remaining != 5 {
		t.Errorf("fresh key remaining = %d, want full quota", remaining)
	}

	limiter.Allow(ctx, "tenant:tenant-a")
	limiter.Allow(ctx, "tenant:tenant-a")

	remaining, err = limiter.Remaining(ctx, "tenant:tenant-a")
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if remaining != 3 {
		t.Errorf("remaining = %d, want 3", remaining)
	}
}

func TestDistributedRateLimiter_Reset(t *testing.T) {
	_, client := setupRedis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Minute,
	}, "ratelimit:test")
	ctx := context.Background()

	limiter.Allow(ctx, "tenant:tenant-a")
	if allowed, _ := limiter.Allow(ctx, "tenant:tenant-a"); allowed {
		t.Fatal("expected the key to be exhausted")
	}

	if err := limiter.Reset(ctx, "tenant:tenant-a"); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if allowed, _ := limiter.Allow(ctx, "tenant:tenant-a"); !allowed {
		t.Error("expected a fresh quota after reset")
	}
}

func TestDistributedRateLimiter_FailsOpen(t *testing.T) {
	mr, client := setupRedis(t)
	limiter := NewDistributedRateLimiter(client, nil, "ratelimit:test")

	mr.Close()

	allowed, err := limiter.Allow(context.Background(), "tenant:tenant-a")
	if err == nil {
		t.Fatal("expected an error from a dead Redis")
	}
	if !allowed {
		t.Error("a Redis outage must not turn into a denial")
	}
}

func tinyDistributedMiddleware(client *redis.Client) *DistributedRateLimitMiddleware {
	config := &RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Minute,
	}
	return &DistributedRateLimitMiddleware{
		redis:            client,
		tenantLimiter:    NewDistributedRateLimiter(client, config, "ratelimit:tenant"),
		principalLimiter: NewDistributedRateLimiter(client, config, "ratelimit:principal"),
		anonymousLimiter: NewDistributedRateLimiter(client, config, "ratelimit:anon"),
		fallbackEnabled:  true,
	}
}

func TestDistributedRateLimitMiddleware_Handler(t *testing.T) {
	_, client := setupRedis(t)
	handler := tinyDistributedMiddleware(client).Handler(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, tenantRequest("tenant-a"))
	if w.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "1" {
		t.Errorf("X-RateLimit-Limit = %q, want 1", got)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, tenantRequest("tenant-a"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", w.Code)
	}
	if resp := decodeErrorBody(t, w); resp.Code != "rate_limited" {
		t.Errorf("error code = %q, want rate_limited", resp.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After on the limited response")
	}

	// Another tenant keeps its own counter
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, tenantRequest("tenant-b"))
	if w.Code != http.StatusOK {
		t.Errorf("tenant-b request: status = %d, want 200", w.Code)
	}
}

func TestDistributedRateLimitMiddleware_Fallback(t *testing.T) {
	t.Run("fails open when enabled", func(t *testing.T) {
		mr, client := setupRedis(t)
		m := tinyDistributedMiddleware(client)
		handler := m.Handler(okHandler())

		mr.Close()

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, tenantRequest("tenant-a"))
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200 when failing open", w.Code)
		}
	})

	t.Run("fails closed when disabled", func(t *testing.T) {
		mr, client := setupRedis(t)
		m := tinyDistributedMiddleware(client)
		m.SetFallbackEnabled(false)
		handler := m.Handler(okHandler())

		mr.Close()

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, tenantRequest("tenant-a"))
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503 when failing closed", w.Code)
		}
		if resp := decodeErrorBody(t, w); resp.Code != "rate_limit_unavailable" {
			t.Errorf("error code = %q, want rate_limit_unavailable", resp.Code)
		}
	})
}

func TestDistributedRateLimitMiddleware_HealthCheck(t *testing.T) {
	mr, client := setupRedis(t)
	m := NewDistributedRateLimitMiddleware(client)

	if err := m.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error: %v", err)
	}

	mr.Close()
	if err := m.HealthCheck(context.Background()); err == nil {
		t.Error("expected an error once Redis is gone")
	}
}
