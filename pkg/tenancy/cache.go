package tenancy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bulkheadio/bulkhead/pkg/observability"
)

const slugKeyPrefix = "tenant:slug:"

// SlugCache caches slug-to-tenant lookups in front of the persistence layer.
// Tier one is a per-instance in-memory LRU with TTL; tier two is an optional
// shared Redis so a fleet of instances warms from the same lookups. Both
// tiers are best-effort: a cache failure degrades to a database read, never
// to a request failure.
type SlugCache struct {
	local   *lru.LRU[string, *Tenant]
	redis   *redis.Client
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// SlugCacheOptions configures a SlugCache.
type SlugCacheOptions struct {
	// Size is the max entry count of the in-memory tier.
	Size int
	// TTL applies to both tiers.
	TTL time.Duration
	// Redis enables the shared tier when non-nil.
	Redis *redis.Client
	// Metrics records hit/miss counts when non-nil.
	Metrics *observability.Metrics
}

// NewSlugCache creates a SlugCache.
func NewSlugCache(opts SlugCacheOptions, logger *observability.Logger) *SlugCache {
	size := opts.Size
	if size <= 0 {
		size = 1024
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SlugCache{
		local:   lru.NewLRU[string, *Tenant](size, nil, ttl),
		redis:   opts.Redis,
		ttl:     ttl,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// Get returns the cached tenant for a slug, checking the in-memory tier
// before Redis. A Redis hit repopulates the in-memory tier.
func (c *SlugCache) Get(ctx context.Context, slug string) (*Tenant, bool) {
	if tenant, ok := c.local.Get(slug); ok {
		c.recordHit("tenant_slug_local")
		return tenant, true
	}
	c.recordMiss("tenant_slug_local")

	if c.redis == nil {
		return nil, false
	}

	data, err := c.redis.Get(ctx, slugKeyPrefix+slug).Result()
	if errors.Is(err, redis.Nil) {
		c.recordMiss("tenant_slug_redis")
		return nil, false
	}
	if err != nil {
		c.recordMiss("tenant_slug_redis")
		c.logger.WithContext(ctx).WithError(err).Debug("tenant slug cache read failed")
		return nil, false
	}

	tenant := &Tenant{}
	if err := json.Unmarshal([]byte(data), tenant); err != nil {
		// Corrupt entry; drop it so the next lookup refills cleanly.
		c.redis.Del(ctx, slugKeyPrefix+slug)
		c.recordMiss("tenant_slug_redis")
		return nil, false
	}

	c.recordHit("tenant_slug_redis")
	c.local.Add(slug, tenant)
	return tenant, true
}

// Set stores a tenant in both tiers keyed by its slug.
func (c *SlugCache) Set(ctx context.Context, tenant *Tenant) {
	if tenant == nil || tenant.Slug == "" {
		return
	}
	c.local.Add(tenant.Slug, tenant)

	if c.redis == nil {
		return
	}
	data, err := json.Marshal(tenant)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, slugKeyPrefix+tenant.Slug, data, c.ttl).Err(); err != nil {
		c.logger.WithContext(ctx).WithError(err).Debug("tenant slug cache write failed")
	}
}

// Invalidate evicts a slug from both tiers. Call on slug change, status
// change, or delete so stale resolutions age out immediately.
func (c *SlugCache) Invalidate(ctx context.Context, slug string) {
	if slug == "" {
		return
	}
	c.local.Remove(slug)
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, slugKeyPrefix+slug).Err(); err != nil {
		c.logger.WithContext(ctx).WithError(err).Debug("tenant slug cache invalidation failed")
	}
}

func (c *SlugCache) recordHit(tier string) {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(tier).Inc()
	}
}

func (c *SlugCache) recordMiss(tier string) {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(tier).Inc()
	}
}

// NewRedisClient builds a Redis client from a URL, mirroring the server's
// connection defaults, and verifies connectivity before returning.
func NewRedisClient(ctx context.Context, url, password string, db, poolSize int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	if db >= 0 {
		opts.DB = db
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}
