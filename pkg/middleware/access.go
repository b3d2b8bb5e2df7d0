package middleware

import (
	"errors"
	"net/http"

	"github.com/bulkheadio/bulkhead/pkg/audit"
	"github.com/bulkheadio/bulkhead/pkg/auth"
	"github.com/bulkheadio/bulkhead/pkg/authz"
	"github.com/bulkheadio/bulkhead/pkg/contextkeys"
	"github.com/bulkheadio/bulkhead/pkg/httputil"
	"github.com/bulkheadio/bulkhead/pkg/tenancy"
)

// Access evaluates the guard pipeline against the matched route's
// descriptor and maps the outcome onto HTTP responses. Routes without a
// registered descriptor evaluate against the zero descriptor, which
// requires a principal and a tenant: an unregistered route is locked, not
// open.
type Access struct {
	registry *authz.Registry
	pipeline *authz.Pipeline
	emitter  *audit.Emitter

	// strict refuses header- and slug-resolved tenants on authenticated
	// requests, leaving the token claim as the only accepted source.
	strict bool
}

// NewAccess creates the access-decision middleware. The emitter may be
// nil; strict mirrors TenancyConfig.StrictTenantMatch.
func NewAccess(registry *authz.Registry, pipeline *authz.Pipeline, emitter *audit.Emitter, strict bool) *Access {
	if emitter == nil {
		emitter = audit.NewEmitter(audit.NopLogger{}, 0, nil, nil)
	}
	return &Access{
		registry: registry,
		pipeline: pipeline,
		emitter:  emitter,
		strict:   strict,
	}
}

// Handler wraps next with the access decision.
func (m *Access) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta, _ := m.registry.MetaFor(r)

		if m.strict {
			if source, ok := m.rejectedSource(r); ok {
				m.auditStrictReject(r, meta, source)
				httputil.WriteErrorCode(w, r, http.StatusForbidden, "tenant_source",
					"tenant must come from the credential on authenticated requests")
				return
			}
		}

		if err := m.pipeline.Evaluate(r.Context(), r, meta); err != nil {
			writeDenial(w, r, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rejectedSource reports whether strict matching refuses this request's
// tenant source. Only authenticated requests with a resolved tenant are
// constrained; anonymous traffic may keep using headers and slugs. When
// the credential carries a tenant claim that claim wins resolution anyway,
// so this only bites tenant-less platform credentials, which is exactly
// where a header could smuggle in a scope.
func (m *Access) rejectedSource(r *http.Request) (string, bool) {
	ctx := r.Context()
	if _, ok := auth.PrincipalFromContext(ctx); !ok {
		return "", false
	}
	if _, ok := contextkeys.TenantID(ctx); !ok {
		return "", false
	}
	source := contextkeys.TenantSource(ctx)
	if source == string(tenancy.SourceToken) {
		return "", false
	}
	return source, true
}

func (m *Access) auditStrictReject(r *http.Request, meta authz.RouteMeta, source string) {
	event := audit.NewRequestEvent(r.Context(), r, audit.EventTypeTenantMismatch, audit.EventStatusDenied)
	event.ResourceType = audit.ResourceTypeRoute
	event.ResourceID = meta.Name
	event.Message = "tenant source refused under strict matching"
	event.Metadata = map[string]any{"tenant_source": source}
	m.emitter.Emit(r.Context(), event)
}

// writeDenial maps a pipeline error onto the HTTP response. Unauthenticated
// is "who are you" and gets 401; a missing tenant is a malformed request; a
// decided denial is 403. Unavailable is a server-side failure and must
// never read as a denial.
func writeDenial(w http.ResponseWriter, r *http.Request, err error) {
	code := authz.ReasonLabel(err)
	switch {
	case errors.Is(err, authz.ErrUnauthenticated):
		w.Header().Set("WWW-Authenticate", "Bearer")
		httputil.WriteErrorCode(w, r, http.StatusUnauthorized, code, "authentication required")
	case errors.Is(err, authz.ErrTenantRequired):
		httputil.WriteErrorCode(w, r, http.StatusBadRequest, code, "no tenant could be resolved for this request")
	case errors.Is(err, authz.ErrTenantMismatch):
		httputil.WriteErrorCode(w, r, http.StatusForbidden, code, "credential tenant does not match the request tenant")
	case errors.Is(err, authz.ErrInsufficientRole), errors.Is(err, authz.ErrInsufficientPermission):
		httputil.WriteErrorCode(w, r, http.StatusForbidden, code, "access denied")
	case errors.Is(err, authz.ErrUnavailable):
		httputil.WriteErrorCode(w, r, http.StatusServiceUnavailable, code, "access decision unavailable")
	default:
		httputil.WriteInternalError(w, err)
	}
}
