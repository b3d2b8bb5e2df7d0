// Package middleware provides the HTTP middleware chain that turns a raw
// inbound request into a fully populated request context before any
// handler runs.
//
// # Chain order
//
// The server composes the chain outermost first:
//
//	RequestID → metrics → RequestLogging → audit context →
//	TenantContext → Authentication → Access
//
// The order is load-bearing. TenantContext runs before Authentication so
// the tenant-match guard can compare the credential's tenant against the
// resolved one, and Access runs last because its guards read everything
// the earlier stages stored.
//
// # Components
//
// RequestID: assigns or propagates X-Request-ID
//
//	router.Use(middleware.RequestID)
//
// TenantContext: resolves the request's tenant (token claim, header, slug)
//
//	tc := middleware.NewTenantContext(resolver)
//	router.Use(tc.Handler)
//
// Authentication: verifies the bearer credential into a Principal
//
//	authn := middleware.NewAuthentication(authenticator, emitter, metrics)
//	router.Use(authn.Handler)
//
// Access: evaluates the access pipeline for the matched route
//
//	access := middleware.NewAccess(registry, pipeline, emitter, cfg.Tenancy.StrictTenantMatch)
//	router.Use(access.Handler)
//
// RateLimitMiddleware / DistributedRateLimitMiddleware: token-bucket rate
// limiting keyed by tenant, then principal, then client IP. The in-memory
// variant serves a single instance; the Redis variant shares counters
// across instances.
//
// # Related packages
//
//   - pkg/tenancy: tenant resolution
//   - pkg/auth: credential verification
//   - pkg/authz: the guard pipeline and route descriptors
//   - pkg/audit: request-scoped audit logger
package middleware
