package rbac

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bulkheadio/bulkhead/pkg/authz"
	"github.com/bulkheadio/bulkhead/pkg/observability"
)

const checkerCacheSize = 4096

// Checker expands role names into effective permissions. It implements
// authz.PermissionSource for the access pipeline: the union of the
// permissions of every role the principal carries, with tenant custom
// roles shadowing system roles of the same name.
//
// Results are cached per (tenant, role set) with a TTL, so the steady
// state costs no database reads. Role mutations invalidate the tenant's
// slice of the cache.
type Checker struct {
	store   *Store
	cache   *lru.LRU[string, authz.PermissionSet]
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewChecker creates a Checker. A cacheTTL of zero or less disables
// caching, which the sqlite-backed tests rely on.
func NewChecker(store *Store, cacheTTL time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Checker {
	c := &Checker{
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
	if cacheTTL > 0 {
		c.cache = lru.NewLRU[string, authz.PermissionSet](checkerCacheSize, nil, cacheTTL)
	}
	return c
}

// EffectivePermissions returns the union of the named roles'
// permissions within a tenant. Role names that do not resolve grant
// nothing; a database failure is returned as an error so the caller can
// distinguish "no permissions" from "could not determine permissions".
func (c *Checker) EffectivePermissions(ctx context.Context, tenantID string, roles []string) (authz.PermissionSet, error) {
	if len(roles) == 0 {
		return authz.PermissionSet{}, nil
	}

	key := cacheKey(tenantID, roles)
	if c.cache != nil {
		if set, ok := c.cache.Get(key); ok {
			if c.metrics != nil {
				c.metrics.CacheHitsTotal.WithLabelValues("rbac").Inc()
			}
			return set, nil
		}
		if c.metrics != nil {
			c.metrics.CacheMissesTotal.WithLabelValues("rbac").Inc()
		}
	}

	set := authz.PermissionSet{}
	for _, name := range roles {
		role, err := c.store.GetRole(ctx, tenantID, name)
		if errors.Is(err, ErrRoleNotFound) {
			// A token can carry role names this deployment never
			// defined; they simply grant nothing.
			if c.logger != nil {
				c.logger.WithContext(ctx).WithField("role", name).Debug("unknown role in principal")
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		perms, err := role.ParsedPermissions()
		if err != nil && c.logger != nil {
			c.logger.WithContext(ctx).WithError(err).WithField("role", name).
				Warn("role contains malformed permissions")
		}
		for p := range perms {
			set.Add(p)
		}
	}

	if c.cache != nil {
		c.cache.Add(key, set)
	}
	return set, nil
}

// Invalidate drops every cached expansion for a tenant. Call it after
// creating, updating or deleting one of the tenant's roles. An empty
// tenant id means a system role changed, which invalidates everything.
func (c *Checker) Invalidate(tenantID string) {
	if c.cache == nil {
		return
	}
	if tenantID == "" {
		c.cache.Purge()
		return
	}
	prefix := tenantID + "|"
	for _, key := range c.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Remove(key)
		}
	}
}

// cacheKey is stable across role orderings so "admin,viewer" and
// "viewer,admin" share an entry.
func cacheKey(tenantID string, roles []string) string {
	sorted := make([]string, len(roles))
	copy(sorted, roles)
	sort.Strings(sorted)
	return tenantID + "|" + strings.Join(sorted, ",")
}
