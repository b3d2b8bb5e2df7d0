package middleware

import (
	"net/http"

	"github.com/bulkheadio/bulkhead/pkg/contextkeys"
	"github.com/bulkheadio/bulkhead/pkg/tenancy"
)

// TenantResolver yields a request's tenant id and the source that produced
// it. Implemented by tenancy.Resolver.
type TenantResolver interface {
	Resolve(r *http.Request) (string, tenancy.Source)
}

// TenantContext resolves the request's tenant and stores the id and its
// source on the context. An unresolved tenant is not an error here:
// whether a missing tenant is fatal depends on the matched route, and that
// is the access pipeline's decision.
type TenantContext struct {
	resolver TenantResolver
}

// NewTenantContext creates the tenant resolution middleware.
func NewTenantContext(resolver TenantResolver) *TenantContext {
	return &TenantContext{resolver: resolver}
}

// Handler wraps next with tenant resolution.
func (m *TenantContext) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenantID, source := m.resolver.Resolve(r); tenantID != "" {
			ctx := contextkeys.WithTenantID(r.Context(), tenantID)
			ctx = contextkeys.WithTenantSource(ctx, string(source))
			r = r.WithContext(ctx)
		}

		next.ServeHTTP(w, r)
	})
}
