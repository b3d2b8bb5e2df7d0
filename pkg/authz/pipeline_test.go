package authz

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulkheadio/bulkhead/pkg/audit"
	"github.com/bulkheadio/bulkhead/pkg/auth"
	"github.com/bulkheadio/bulkhead/pkg/contextkeys"
	"github.com/bulkheadio/bulkhead/pkg/observability"
)

type stubPermissionSource struct {
	mu    sync.Mutex
	perms PermissionSet
	err   error
	calls int
}

func (s *stubPermissionSource) EffectivePermissions(ctx context.Context, tenantID string, roles []string) (PermissionSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.perms, nil
}

type captureBackend struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (c *captureBackend) Log(ctx context.Context, event *audit.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureBackend) Close() error { return nil }

func (c *captureBackend) byType(eventType audit.EventType) []*audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var matched []*audit.Event
	for _, event := range c.events {
		if event.EventType == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func quietLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func newTestPipeline(permissions PermissionSource, backend audit.Logger) *Pipeline {
	emitter := audit.NewEmitter(backend, 0, quietLogger(), nil)
	return NewPipeline(Config{}, permissions, emitter, quietLogger(), nil)
}

func requestContext(tenantID string, principal *auth.Principal) context.Context {
	ctx := context.Background()
	if tenantID != "" {
		ctx = contextkeys.WithTenantID(ctx, tenantID)
	}
	if principal != nil {
		ctx = auth.ContextWithPrincipal(ctx, principal)
	}
	return ctx
}

func testRequest() *http.Request {
	return httptest.NewRequest(http.MethodGet, "/v1/users", nil)
}

func TestPipeline_PublicRouteAdmitsAnonymous(t *testing.T) {
	pipeline := newTestPipeline(nil, nil)

	err := pipeline.Evaluate(context.Background(), testRequest(), RouteMeta{Name: "health", Public: true})
	assert.NoError(t, err)
}

func TestPipeline_ProtectedRouteRequiresPrincipal(t *testing.T) {
	pipeline := newTestPipeline(nil, nil)

	err := pipeline.Evaluate(context.Background(), testRequest(), RouteMeta{Name: "users.list"})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestPipeline_AuthenticationDeniesBeforeTenantPresence(t *testing.T) {
	pipeline := newTestPipeline(nil, nil)

	// No principal and no tenant. The authentication guard runs first, so
	// the denial must name the missing principal, not the missing tenant.
	err := pipeline.Evaluate(context.Background(), testRequest(), RouteMeta{Name: "users.list"})
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.NotErrorIs(t, err, ErrTenantRequired)
}

func TestPipeline_TenantRequired(t *testing.T) {
	pipeline := newTestPipeline(nil, nil)
	ctx := requestContext("", &auth.Principal{ID: "u1", TenantID: "t1"})

	err := pipeline.Evaluate(ctx, testRequest(), RouteMeta{Name: "users.list"})
	assert.ErrorIs(t, err, ErrTenantRequired)
}

func TestPipeline_GlobalRouteSkipsTenantPresence(t *testing.T) {
	pipeline := newTestPipeline(nil, nil)
	ctx := requestContext("", &auth.Principal{ID: "admin", Roles: []string{"platform_admin"}})

	err := pipeline.Evaluate(ctx, testRequest(), RouteMeta{Name: "tenants.list", Global: true})
	assert.NoError(t, err)
}

func TestPipeline_TenantMismatchDenied(t *testing.T) {
	backend := &captureBackend{}
	pipeline := newTestPipeline(nil, backend)
	ctx := requestContext("t2", &auth.Principal{ID: "u1", TenantID: "t1"})

	err := pipeline.Evaluate(ctx, testRequest(), RouteMeta{Name: "users.list"})
	assert.ErrorIs(t, err, ErrTenantMismatch)
}

func TestPipeline_TenantMismatchAlwaysAudited(t *testing.T) {
	backend := &captureBackend{}
	pipeline := newTestPipeline(nil, backend)
	ctx := requestContext("t2", &auth.Principal{ID: "u1", TenantID: "t1"})

	// Audited is false; the mismatch event must be written anyway.
	err := pipeline.Evaluate(ctx, testRequest(), RouteMeta{Name: "users.list", Audited: false})
	require.ErrorIs(t, err, ErrTenantMismatch)

	events := backend.byType(audit.EventTypeTenantMismatch)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventStatusDenied, events[0].Status)
	assert.Equal(t, "t1", events[0].Metadata["principal_tenant"])
	assert.Equal(t, "t2", events[0].Metadata["resolved_tenant"])
}

func TestPipeline_PublicRouteStillChecksTenantMatch(t *testing.T) {
	backend := &captureBackend{}
	pipeline := newTestPipeline(nil, backend)
	ctx := requestContext("t2", &auth.Principal{ID: "u1", TenantID: "t1"})

	err := pipeline.Evaluate(ctx, testRequest(), RouteMeta{Name: "booking.page", Public: true})
	assert.ErrorIs(t, err, ErrTenantMismatch)
	assert.Len(t, backend.byType(audit.EventTypeTenantMismatch), 1)
}

func TestPipeline_GlobalRouteStillChecksTenantMatch(t *testing.T) {
	pipeline := newTestPipeline(nil, nil)
	ctx := requestContext("t2", &auth.Principal{ID: "u1", TenantID: "t1"})

	err := pipeline.Evaluate(ctx, testRequest(), RouteMeta{Name: "tenants.list", Global: true})
	assert.ErrorIs(t, err, ErrTenantMismatch)
}

func TestPipeline_PlatformPrincipalHasNoTenantToMismatch(t *testing.T) {
	pipeline := newTestPipeline(nil, nil)
	ctx := requestContext("t2", &auth.Principal{ID: "admin", TenantID: ""})

	err := pipeline.Evaluate(ctx, testRequest(), RouteMeta{Name: "users.list"})
	assert.NoError(t, err)
}

func TestPipeline_MatchingTenantAllowed(t *testing.T) {
	pipeline := newTestPipeline(nil, nil)
	ctx := requestContext("t1", &auth.Principal{ID: "u1", TenantID: "t1"})

	err := pipeline.Evaluate(ctx, testRequest(), RouteMeta{Name: "users.list"})
	assert.NoError(t, err)
}

func TestPipeline_RoleGuard(t *testing.T) {
	pipeline := newTestPipeline(nil, nil)
	meta := RouteMeta{Name: "users.delete", RequiredRoles: []string{"admin", "owner"}}

	ctx := requestContext("t1", &auth.Principal{ID: "u1", TenantID: "t1", Roles: []string{"member"}})
	assert.ErrorIs(t, pipeline.Evaluate(ctx, testRequest(), meta), ErrInsufficientRole)

	ctx = requestContext("t1", &auth.Principal{ID: "u2", TenantID: "t1", Roles: []string{"owner"}})
	assert.NoError(t, pipeline.Evaluate(ctx, testRequest(), meta))
}

func TestPipeline_SuperAdminBypassesRoleGuard(t *testing.T) {
	pipeline := newTestPipeline(nil, nil)
	meta := RouteMeta{Name: "users.delete", RequiredRoles: []string{"owner"}}
	ctx := requestContext("t1", &auth.Principal{ID: "root", TenantID: "t1", Roles: []string{"super_admin"}})

	assert.NoError(t, pipeline.Evaluate(ctx, testRequest(), meta))
}

func TestPipeline_SuperAdminDoesNotBypassTenantMatch(t *testing.T) {
	backend := &captureBackend{}
	pipeline := newTestPipeline(nil, backend)
	meta := RouteMeta{Name: "users.delete", RequiredRoles: []string{"owner"}}
	ctx := requestContext("t2", &auth.Principal{ID: "root", TenantID: "t1", Roles: []string{"super_admin"}})

	err := pipeline.Evaluate(ctx, testRequest(), meta)
	assert.ErrorIs(t, err, ErrTenantMismatch)
	assert.Len(t, backend.byType(audit.EventTypeTenantMismatch), 1)
}

func TestPipeline_PermissionGuard(t *testing.T) {
	source := &stubPermissionSource{perms: NewPermissionSet(
		Permission{Resource: "users", Action: "read"},
	)}
	pipeline := newTestPipeline(source, nil)
	principal := &auth.Principal{ID: "u1", TenantID: "t1", Roles: []string{"member"}}

	readMeta := RouteMeta{Name: "users.get", RequiredPermissions: []Permission{{Resource: "users", Action: "read"}}}
	writeMeta := RouteMeta{Name: "users.update", RequiredPermissions: []Permission{{Resource: "users", Action: "write"}}}

	ctx := requestContext("t1", principal)
	assert.NoError(t, pipeline.Evaluate(ctx, testRequest(), readMeta))
	assert.ErrorIs(t, pipeline.Evaluate(ctx, testRequest(), writeMeta), ErrInsufficientPermission)
}

func TestPipeline_PermissionWildcardCovers(t *testing.T) {
	source := &stubPermissionSource{perms: NewPermissionSet(
		Permission{Resource: "users", Action: Wildcard},
	)}
	pipeline := newTestPipeline(source, nil)
	ctx := requestContext("t1", &auth.Principal{ID: "u1", TenantID: "t1", Roles: []string{"admin"}})
	meta := RouteMeta{Name: "users.delete", RequiredPermissions: []Permission{{Resource: "users", Action: "delete"}}}

	assert.NoError(t, pipeline.Evaluate(ctx, testRequest(), meta))
}

func TestPipeline_PermissionSourceFailureIsUnavailable(t *testing.T) {
	source := &stubPermissionSource{err: errors.New("connection refused")}
	pipeline := newTestPipeline(source, nil)
	ctx := requestContext("t1", &auth.Principal{ID: "u1", TenantID: "t1", Roles: []string{"member"}})
	meta := RouteMeta{Name: "users.get", RequiredPermissions: []Permission{{Resource: "users", Action: "read"}}}

	err := pipeline.Evaluate(ctx, testRequest(), meta)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, IsDenial(err))
}

func TestPipeline_NilPermissionSourceDeniesRequiredPermissions(t *testing.T) {
	pipeline := newTestPipeline(nil, nil)
	ctx := requestContext("t1", &auth.Principal{ID: "u1", TenantID: "t1", Roles: []string{"member"}})
	meta := RouteMeta{Name: "users.get", RequiredPermissions: []Permission{{Resource: "users", Action: "read"}}}

	assert.ErrorIs(t, pipeline.Evaluate(ctx, testRequest(), meta), ErrInsufficientPermission)
}

func TestPipeline_AuditedRouteRecordsGrant(t *testing.T) {
	backend := &captureBackend{}
	pipeline := newTestPipeline(nil, backend)
	ctx := requestContext("t1", &auth.Principal{ID: "u1", TenantID: "t1"})

	err := pipeline.Evaluate(ctx, testRequest(), RouteMeta{Name: "users.list", Audited: true})
	require.NoError(t, err)

	events := backend.byType(audit.EventTypeAccessGranted)
	require.Len(t, events, 1)
	assert.Equal(t, "users.list", events[0].ResourceID)
	assert.Equal(t, audit.EventStatusSuccess, events[0].Status)
}

func TestPipeline_AuditedRouteRecordsDenial(t *testing.T) {
	backend := &captureBackend{}
	pipeline := newTestPipeline(nil, backend)

	err := pipeline.Evaluate(context.Background(), testRequest(), RouteMeta{Name: "users.list", Audited: true})
	require.ErrorIs(t, err, ErrUnauthenticated)

	events := backend.byType(audit.EventTypeAccessDenied)
	require.Len(t, events, 1)
	assert.Equal(t, "unauthenticated", events[0].ErrorMessage)
	assert.Equal(t, GuardAuth, events[0].Metadata["guard"])
}

func TestPipeline_UnauditedDenialWritesNothing(t *testing.T) {
	backend := &captureBackend{}
	pipeline := newTestPipeline(nil, backend)

	err := pipeline.Evaluate(context.Background(), testRequest(), RouteMeta{Name: "users.list"})
	require.ErrorIs(t, err, ErrUnauthenticated)
	assert.Empty(t, backend.events)
}

func TestPipeline_CustomSuperAdminRole(t *testing.T) {
	emitter := audit.NewEmitter(&captureBackend{}, 0, quietLogger(), nil)
	pipeline := NewPipeline(Config{SuperAdminRole: "root"}, nil, emitter, quietLogger(), nil)
	meta := RouteMeta{Name: "users.delete", RequiredRoles: []string{"owner"}}

	ctx := requestContext("t1", &auth.Principal{ID: "u1", TenantID: "t1", Roles: []string{"root"}})
	assert.NoError(t, pipeline.Evaluate(ctx, testRequest(), meta))

	// The default name no longer bypasses anything.
	ctx = requestContext("t1", &auth.Principal{ID: "u2", TenantID: "t1", Roles: []string{"super_admin"}})
	assert.ErrorIs(t, pipeline.Evaluate(ctx, testRequest(), meta), ErrInsufficientRole)
}

func TestIsDenial(t *testing.T) {
	for _, err := range []error{
		ErrUnauthenticated,
		ErrTenantRequired,
		ErrTenantMismatch,
		ErrInsufficientRole,
		ErrInsufficientPermission,
	} {
		assert.True(t, IsDenial(err), err.Error())
	}
	assert.False(t, IsDenial(ErrUnavailable))
	assert.False(t, IsDenial(errors.New("boom")))
	assert.False(t, IsDenial(nil))
}
