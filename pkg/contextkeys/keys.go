// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// Request-scoped values (request id, tenant id, principal) are threaded through
// context.Context rather than ambient storage: a value set for one request is
// structurally invisible to every other in-flight request, and it vanishes with
// the request's context. Accessors return an explicit "absent" instead of a
// zero value so an unset tenant id can never be mistaken for a real one.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID (pkg/middleware/requestid.go)
	// Used by: Logger, audit trail, error responses
	// Type: string
	RequestIDKey Key = "request_id"

	// TenantIDKey contains the resolved tenant ID string
	// Set by: middleware.TenantContext after tenancy.Resolver runs
	// Used by: Access pipeline guards, gateway scoping, audit trail
	// Type: string (absent until resolved)
	TenantIDKey Key = "tenant_id"

	// PrincipalKey contains *auth.Principal
	// Set by: middleware.Authentication after credential verification
	// Used by: Access pipeline guards, audit trail, handlers
	// Type: *auth.Principal (absent until authenticated)
	PrincipalKey Key = "principal"

	// AuditLoggerKey contains audit.Logger interface
	// Set by: audit middleware
	// Used by: Handlers and guards that record audit events
	// Type: audit.Logger
	AuditLoggerKey Key = "audit_logger"

	// TenantSourceKey records where the tenant ID came from
	// Set by: middleware.TenantContext alongside TenantIDKey
	// Used by: strict-match enforcement, audit trail
	// Type: string ("token", "header", "slug")
	TenantSourceKey Key = "tenant_source"

	// RequestStartTimeKey contains request start timestamp
	// Set by: audit middleware
	// Used by: Duration calculation for audit entries
	// Type: time.Time
	RequestStartTimeKey Key = "request_start_time"
)

// tenantCleared marks a context whose tenant id has been deliberately
// removed. It overrides any tenant id set further up the chain, so the
// gateway's escape hatch sees "absent" rather than the outer request's
// tenant. The outer context keeps its value untouched.
type tenantCleared struct{}

// WithRequestID adds the request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context, or "" if unset
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithTenantID adds the resolved tenant ID to the context
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// WithoutTenantID derives a context whose tenant ID reads as absent,
// regardless of what any parent context carries. Used by the gateway's
// escape hatch; the parent context is left untouched, so the prior value
// (including "absent") is restored simply by returning to it.
func WithoutTenantID(ctx context.Context) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantCleared{})
}

// TenantID retrieves the resolved tenant ID from the context. The second
// return value reports whether a tenant was resolved; callers must treat
// false as "no tenant", never substitute a default.
func TenantID(ctx context.Context) (string, bool) {
	switch v := ctx.Value(TenantIDKey).(type) {
	case string:
		return v, v != ""
	default:
		return "", false
	}
}

// TenantCleared reports whether the tenant ID was deliberately removed
// with WithoutTenantID, as opposed to never having been resolved. The
// gateway uses this to tell an escape-hatch context apart from a missing
// tenant.
func TenantCleared(ctx context.Context) bool {
	_, cleared := ctx.Value(TenantIDKey).(tenantCleared)
	return cleared
}

// WithTenantSource records which channel produced the resolved tenant ID
func WithTenantSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, TenantSourceKey, source)
}

// TenantSource retrieves the tenant resolution source, or "" if unset
func TenantSource(ctx context.Context) string {
	if source, ok := ctx.Value(TenantSourceKey).(string); ok {
		return source
	}
	return ""
}

// WithPrincipal adds the authenticated principal to the context. Stored as
// interface{} to keep this package free of domain imports; pkg/auth owns
// the typed accessor.
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// Principal retrieves the raw principal value from the context, or nil
func Principal(ctx context.Context) interface{} {
	return ctx.Value(PrincipalKey)
}

// WithAuditLogger adds the audit logger to the context
func WithAuditLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, AuditLoggerKey, logger)
}

// WithRequestStartTime adds the request start time to the context
func WithRequestStartTime(ctx context.Context, startTime interface{}) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, startTime)
}
