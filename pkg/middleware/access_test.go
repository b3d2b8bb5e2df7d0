package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/bulkheadio/bulkhead/pkg/audit"
	"github.com/bulkheadio/bulkhead/pkg/auth"
	"github.com/bulkheadio/bulkhead/pkg/authz"
	"github.com/bulkheadio/bulkhead/pkg/contextkeys"
	"github.com/bulkheadio/bulkhead/pkg/tenancy"
)

// stubPermissions expands every role set to a fixed permission set.
type stubPermissions struct {
	set authz.PermissionSet
	err error
}

func (s *stubPermissions) EffectivePermissions(ctx context.Context, tenantID string, roles []string) (authz.PermissionSet, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.set, nil
}

// newAccessRouter builds a mux router guarded by the access middleware.
// MetaFor reads the matched route name, so requests must travel through
// the router rather than hitting the middleware handler directly.
func newAccessRouter(permissions authz.PermissionSource, emitter *audit.Emitter, strict bool) *mux.Router {
	registry := authz.NewRegistry()
	registry.MustRegister(authz.RouteMeta{Name: "status.get", Public: true})
	registry.MustRegister(authz.RouteMeta{Name: "records.list"})
	registry.MustRegister(authz.RouteMeta{Name: "tenants.create", Global: true, RequiredRoles: []string{"admin"}})
	registry.MustRegister(authz.RouteMeta{Name: "records.purge", RequiredPermissions: []authz.Permission{
		{Resource: "records", Action: "purge"},
	}})

	pipeline := authz.NewPipeline(authz.Config{}, permissions, emitter, nil, nil)
	access := NewAccess(registry, pipeline, emitter, strict)

	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	router := mux.NewRouter()
	router.HandleFunc("/status", ok).Name("status.get")
	router.HandleFunc("/records", ok).Name("records.list")
	router.HandleFunc("/admin/tenants", ok).Name("tenants.create")
	router.HandleFunc("/records/purge", ok).Name("records.purge")
	router.HandleFunc("/mystery", ok).Name("mystery.get")
	router.Use(access.Handler)
	return router
}

// identityRequest builds a request carrying a principal and resolved
// tenant, as the upstream middlewares would have left them.
func identityRequest(target string, principal *auth.Principal, tenantID string, source tenancy.Source) *http.Request {
	r := httptest.NewRequest("GET", target, nil)
	ctx := r.Context()
	if principal != nil {
		ctx = auth.ContextWithPrincipal(ctx, principal)
	}
	if tenantID != "" {
		ctx = contextkeys.WithTenantID(ctx, tenantID)
		ctx = contextkeys.WithTenantSource(ctx, string(source))
	}
	return r.WithContext(ctx)
}

func member(tenantID string) *auth.Principal {
	return &auth.Principal{ID: "user-1", TenantID: tenantID, Roles: []string{"member"}}
}

func TestAccess_PublicRouteAllowsAnonymous(t *testing.T) {
	router := newAccessRouter(nil, nil, false)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, identityRequest("/status", nil, "", ""))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestAccess_ProtectedRouteRequiresPrincipal(t *testing.T) {
	router := newAccessRouter(nil, nil, false)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, identityRequest("/records", nil, "tenant-a", tenancy.SourceHeader))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); got != "Bearer" {
		t.Errorf("WWW-Authenticate = %q, want Bearer", got)
	}
	if resp := decodeErrorBody(t, w); resp.Code != "unauthenticated" {
		t.Errorf("error code = %q, want unauthenticated", resp.Code)
	}
}

func TestAccess_ProtectedRouteRequiresTenant(t *testing.T) {
	router := newAccessRouter(nil, nil, false)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, identityRequest("/records", member(""), "", ""))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if resp := decodeErrorBody(t, w); resp.Code != "tenant_required" {
		t.Errorf("error code = %q, want tenant_required", resp.Code)
	}
}

func TestAccess_TenantMismatchIsForbidden(t *testing.T) {
	sink := &auditSink{}
	emitter := audit.NewEmitter(sink, 0, nil, nil)
	router := newAccessRouter(nil, emitter, false)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, identityRequest("/records", member("tenant-a"), "tenant-b", tenancy.SourceHeader))

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if resp := decodeErrorBody(t, w); resp.Code != "tenant_mismatch" {
		t.Errorf("error code = %q, want tenant_mismatch", resp.Code)
	}

	var mismatch *audit.Event
	for _, event := range sink.Events() {
		if event.EventType == audit.EventTypeTenantMismatch {
			mismatch = event
		}
	}
	if mismatch == nil {
		t.Fatal("cross-tenant attempt must always leave a security event")
	}
	if mismatch.Metadata["principal_tenant"] != "tenant-a" || mismatch.Metadata["resolved_tenant"] != "tenant-b" {
		t.Errorf("event metadata = %v", mismatch.Metadata)
	}
}

func TestAccess_MatchingTenantAllows(t *testing.T) {
	router := newAccessRouter(nil, nil, false)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, identityRequest("/records", member("tenant-a"), "tenant-a", tenancy.SourceToken))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestAccess_RoleGuard(t *testing.T) {
	router := newAccessRouter(nil, nil, false)

	t.Run("missing role is forbidden", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, identityRequest("/admin/tenants", member(""), "", ""))

		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", w.Code)
		}
		if resp := decodeErrorBody(t, w); resp.Code != "insufficient_role" {
			t.Errorf("error code = %q, want insufficient_role", resp.Code)
		}
	})

	t.Run("required role passes", func(t *testing.T) {
		admin := &auth.Principal{ID: "admin-1", Roles: []string{"admin"}}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, identityRequest("/admin/tenants", admin, "", ""))

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})

	t.Run("super admin bypasses the role guard", func(t *testing.T) {
		root := &auth.Principal{ID: "root-1", Roles: []string{"super_admin"}}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, identityRequest("/admin/tenants", root, "", ""))

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})
}

func TestAccess_PermissionGuard(t *testing.T) {
	purge := authz.Permission{Resource: "records", Action: "purge"}

	t.Run("covering permission passes", func(t *testing.T) {
		router := newAccessRouter(&stubPermissions{set: authz.NewPermissionSet(purge)}, nil, false)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, identityRequest("/records/purge", member("tenant-a"), "tenant-a", tenancy.SourceToken))

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})

	t.Run("missing permission is forbidden", func(t *testing.T) {
		router := newAccessRouter(&stubPermissions{set: authz.NewPermissionSet()}, nil, false)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, identityRequest("/records/purge", member("tenant-a"), "tenant-a", tenancy.SourceToken))

		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", w.Code)
		}
		if resp := decodeErrorBody(t, w); resp.Code != "insufficient_permission" {
			t.Errorf("error code = %q, want insufficient_permission", resp.Code)
		}
	})

	t.Run("expansion failure is an outage, not a denial", func(t *testing.T) {
		router := newAccessRouter(&stubPermissions{err: errors.New("role store down")}, nil, false)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, identityRequest("/records/purge", member("tenant-a"), "tenant-a", tenancy.SourceToken))

		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", w.Code)
		}
		if resp := decodeErrorBody(t, w); resp.Code != "unavailable" {
			t.Errorf("error code = %q, want unavailable", resp.Code)
		}
	})
}

func TestAccess_UnregisteredRouteFailsClosed(t *testing.T) {
	router := newAccessRouter(nil, nil, false)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, identityRequest("/mystery", nil, "", ""))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401: a route without a descriptor is locked", w.Code)
	}
}

func TestAccess_StrictTenantSource(t *testing.T) {
	t.Run("header tenant with a principal is refused", func(t *testing.T) {
		sink := &auditSink{}
		emitter := audit.NewEmitter(sink, 0, nil, nil)
		router := newAccessRouter(nil, emitter, true)

		platform := &auth.Principal{ID: "svc-1", Roles: []string{"member"}}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, identityRequest("/records", platform, "tenant-a", tenancy.SourceHeader))

		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", w.Code)
		}
		if resp := decodeErrorBody(t, w); resp.Code != "tenant_source" {
			t.Errorf("error code = %q, want tenant_source", resp.Code)
		}

		events := sink.Events()
		if len(events) != 1 || events[0].EventType != audit.EventTypeTenantMismatch {
			t.Fatalf("expected one tenant mismatch event, got %v", events)
		}
		if events[0].Metadata["tenant_source"] != string(tenancy.SourceHeader) {
			t.Errorf("event metadata = %v", events[0].Metadata)
		}
	})

	t.Run("token tenant passes", func(t *testing.T) {
		router := newAccessRouter(nil, nil, true)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, identityRequest("/records", member("tenant-a"), "tenant-a", tenancy.SourceToken))

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})

	t.Run("anonymous traffic keeps using slugs", func(t *testing.T) {
		router := newAccessRouter(nil, nil, true)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, identityRequest("/status", nil, "tenant-a", tenancy.SourceSlug))

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})
}

func TestAccess_AuditedRouteEmitsGrant(t *testing.T) {
	registry := authz.NewRegistry()
	registry.MustRegister(authz.RouteMeta{Name: "records.read", Audited: true})

	sink := &auditSink{}
	emitter := audit.NewEmitter(sink, 0, nil, nil)
	pipeline := authz.NewPipeline(authz.Config{}, nil, emitter, nil, nil)
	access := NewAccess(registry, pipeline, emitter, false)

	router := mux.NewRouter()
	router.HandleFunc("/records/1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Name("records.read")
	router.Use(access.Handler)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, identityRequest("/records/1", member("tenant-a"), "tenant-a", tenancy.SourceToken))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	events := sink.Events()
	if len(events) != 1 {
		t.Fatalf("got %d audit events, want 1", len(events))
	}
	if events[0].EventType != audit.EventTypeAccessGranted {
		t.Errorf("event type = %q, want %q", events[0].EventType, audit.EventTypeAccessGranted)
	}
	if events[0].ResourceID != "records.read" {
		t.Errorf("event resource = %q, want the route name", events[0].ResourceID)
	}
}
