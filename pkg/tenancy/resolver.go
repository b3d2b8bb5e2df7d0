package tenancy

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/singleflight"

	"github.com/bulkheadio/bulkhead/pkg/auth"
	"github.com/bulkheadio/bulkhead/pkg/observability"
)

// Source identifies which resolution source produced a tenant id.
type Source string

const (
	// SourceToken is the tenant claim of a bearer token, read without
	// signature verification. Verification happens later in the
	// authenticator; the tenant-match guard catches any divergence.
	SourceToken Source = "token"
	// SourceHeader is the configured tenant header.
	SourceHeader Source = "header"
	// SourceSlug is a slug segment on a public route, resolved through
	// the persistence layer.
	SourceSlug Source = "slug"
	// SourceNone means no source yielded a tenant id.
	SourceNone Source = "none"
)

// SlugRouteVar is the mux route variable public routes use for the tenant
// slug segment.
const SlugRouteVar = "tenant_slug"

// ResolverConfig configures tenant resolution.
type ResolverConfig struct {
	// HeaderName is the tenant header, e.g. X-Tenant-ID.
	HeaderName string
	// TenantClaim is the token claim carrying the tenant id. Must match
	// the authenticator's claim mapping or source priority breaks.
	TenantClaim string
	// SlugPrefix is the path prefix of public slug routes,
	// e.g. /v1/public.
	SlugPrefix string
	// Timeout bounds the slug persistence lookup.
	Timeout time.Duration
}

func (c *ResolverConfig) applyDefaults() {
	if c.HeaderName == "" {
		c.HeaderName = "X-Tenant-ID"
	}
	if c.TenantClaim == "" {
		c.TenantClaim = "tenant_id"
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
}

// Resolver determines the tenant id of an inbound request from three ordered
// sources: bearer-token claim, tenant header, public-route slug. The first
// source that yields a value wins and later sources are not consulted.
//
// The ordering is a trust ranking. A signed token's claim is authoritative
// for authenticated traffic and must never be overridden by a header or a
// path segment, or a public slug could redirect an authenticated call at a
// different tenant. The header serves server-to-server callers, and the slug
// exists only for pre-authentication public pages.
type Resolver struct {
	cfg     ResolverConfig
	tenants Service
	cache   *SlugCache
	group   singleflight.Group
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewResolver creates a Resolver. The cache and metrics may be nil.
func NewResolver(cfg ResolverConfig, tenants Service, cache *SlugCache, logger *observability.Logger, metrics *observability.Metrics) *Resolver {
	cfg.applyDefaults()
	return &Resolver{
		cfg:     cfg,
		tenants: tenants,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
	}
}

// Resolve returns the tenant id for a request and the source that produced
// it. An empty id with SourceNone means no source matched; deciding whether
// that is fatal belongs to the access pipeline, not the resolver. Slug
// lookups that fail or time out also yield absent rather than an error.
func (r *Resolver) Resolve(req *http.Request) (string, Source) {
	id, source := r.resolve(req)
	if r.metrics != nil {
		r.metrics.TenantResolutionsTotal.WithLabelValues(string(source)).Inc()
	}
	return id, source
}

func (r *Resolver) resolve(req *http.Request) (string, Source) {
	if token, ok := auth.BearerToken(req); ok && token != "" {
		if id := auth.PeekTenantClaim(token, r.cfg.TenantClaim); id != "" {
			return id, SourceToken
		}
	}

	if id := strings.TrimSpace(req.Header.Get(r.cfg.HeaderName)); id != "" {
		return id, SourceHeader
	}

	if slug := r.slugFromRequest(req); slug != "" {
		if id := r.resolveSlug(req.Context(), slug); id != "" {
			return id, SourceSlug
		}
	}

	return "", SourceNone
}

func (r *Resolver) slugFromRequest(req *http.Request) string {
	if slug := mux.Vars(req)[SlugRouteVar]; slug != "" {
		return slug
	}
	return SlugFromPath(req.URL.Path, r.cfg.SlugPrefix)
}

// SlugFromPath extracts the tenant slug from a public route path of the form
// <prefix>/<page>/<slug>[/...]. It returns "" when the path does not match
// that shape.
func SlugFromPath(path, prefix string) string {
	if prefix == "" {
		return ""
	}
	rest := strings.TrimPrefix(path, prefix)
	if rest == path || (rest != "" && rest[0] != '/') {
		return ""
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 2 || parts[1] == "" {
		return ""
	}
	return parts[1]
}

// resolveSlug maps a slug to a tenant id through the cache and then the
// persistence layer. Unknown slugs, inactive tenants, lookup errors, and
// timeouts all yield "".
func (r *Resolver) resolveSlug(ctx context.Context, slug string) string {
	if r.cache != nil {
		if tenant, ok := r.cache.Get(ctx, slug); ok {
			if tenant.IsActive {
				return tenant.ID
			}
			return ""
		}
	}

	// Concurrent requests for the same slug share one lookup. The shared
	// call keeps context values for tracing but drops cancellation so one
	// aborted request cannot poison the result for the others.
	result, err, _ := r.group.Do(slug, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Timeout)
		defer cancel()
		return r.tenants.GetTenantBySlug(lookupCtx, slug)
	})
	if err != nil {
		if r.logger != nil && !errors.Is(err, ErrTenantNotFound) {
			r.logger.WithContext(ctx).WithError(err).WithField("slug", slug).
				Warn("tenant slug lookup failed")
		}
		return ""
	}

	tenant := result.(*Tenant)
	if !tenant.IsActive {
		return ""
	}
	if r.cache != nil {
		r.cache.Set(ctx, tenant)
	}
	return tenant.ID
}
