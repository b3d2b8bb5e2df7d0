package rbac

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulkheadio/bulkhead/pkg/authz"
	"github.com/bulkheadio/bulkhead/pkg/observability"
)

func quietLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func newTestChecker(t *testing.T, ttl time.Duration) (*Checker, *Store) {
	t.Helper()
	store := NewTestStore(t)
	return NewChecker(store, ttl, quietLogger(), nil), store
}

func TestEffectivePermissions_Union(t *testing.T) {
	checker, store := newTestChecker(t, 0)
	ctx := context.Background()

	require.NoError(t, store.CreateRole(ctx, &Role{
		Name:        "exporter",
		TenantID:    "t1",
		DisplayName: "Exporter",
		Permissions: []string{"audit:export"},
	}))

	set, err := checker.EffectivePermissions(ctx, "t1", []string{RoleViewer, "exporter"})
	require.NoError(t, err)

	assert.True(t, set.Contains(authz.Permission{Resource: "users", Action: "read"}))
	assert.True(t, set.Contains(authz.Permission{Resource: "audit", Action: "export"}))
	assert.False(t, set.Contains(authz.Permission{Resource: "users", Action: "delete"}))
}

func TestEffectivePermissions_SuperAdmin(t *testing.T) {
	checker, _ := newTestChecker(t, 0)

	set, err := checker.EffectivePermissions(context.Background(), "t1", []string{RoleSuperAdmin})
	require.NoError(t, err)

	assert.True(t, set.Contains(authz.Permission{Resource: "anything", Action: "whatsoever"}))
}

func TestEffectivePermissions_CustomShadowsSystem(t *testing.T) {
	checker, store := newTestChecker(t, 0)
	ctx := context.Background()

	// t1 narrows the built-in viewer down to nothing.
	require.NoError(t, store.CreateRole(ctx, &Role{
		Name:        RoleViewer,
		TenantID:    "t1",
		DisplayName: "Restricted Viewer",
		Permissions: []string{},
	}))

	set, err := checker.EffectivePermissions(ctx, "t1", []string{RoleViewer})
	require.NoError(t, err)
	assert.False(t, set.Contains(authz.Permission{Resource: "users", Action: "read"}))

	set, err = checker.EffectivePermissions(ctx, "t2", []string{RoleViewer})
	require.NoError(t, err)
	assert.True(t, set.Contains(authz.Permission{Resource: "users", Action: "read"}))
}

func TestEffectivePermissions_UnknownRoleGrantsNothing(t *testing.T) {
	checker, _ := newTestChecker(t, 0)

	set, err := checker.EffectivePermissions(context.Background(), "t1", []string{"never-defined", RoleViewer})
	require.NoError(t, err)

	assert.True(t, set.Contains(authz.Permission{Resource: "users", Action: "read"}))
	assert.Len(t, set.List(), 2)
}

func TestEffectivePermissions_NoRoles(t *testing.T) {
	checker, _ := newTestChecker(t, 0)

	set, err := checker.EffectivePermissions(context.Background(), "t1", nil)
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestEffectivePermissions_StoreError(t *testing.T) {
	db := NewTestDB(t)
	store := NewStore(db)
	require.NoError(t, InitializeBuiltInRoles(context.Background(), store, nil))
	checker := NewChecker(store, 0, quietLogger(), nil)

	require.NoError(t, db.Close())

	_, err := checker.EffectivePermissions(context.Background(), "t1", []string{RoleViewer})
	assert.Error(t, err)
}

func TestChecker_CachesUntilInvalidated(t *testing.T) {
	checker, store := newTestChecker(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.CreateRole(ctx, &Role{
		Name:        "auditor",
		TenantID:    "t1",
		DisplayName: "Auditor",
		Permissions: []string{"audit:read"},
	}))

	set, err := checker.EffectivePermissions(ctx, "t1", []string{"auditor"})
	require.NoError(t, err)
	assert.False(t, set.Contains(authz.Permission{Resource: "audit", Action: "export"}))

	// Widen the role behind the cache's back; the expansion stays stale
	// until the tenant is invalidated.
	require.NoError(t, store.UpdateRole(ctx, &Role{
		Name:        "auditor",
		TenantID:    "t1",
		DisplayName: "Auditor",
		Permissions: []string{"audit:read", "audit:export"},
	}))

	set, err = checker.EffectivePermissions(ctx, "t1", []string{"auditor"})
	require.NoError(t, err)
	assert.False(t, set.Contains(authz.Permission{Resource: "audit", Action: "export"}))

	checker.Invalidate("t1")

	set, err = checker.EffectivePermissions(ctx, "t1", []string{"auditor"})
	require.NoError(t, err)
	assert.True(t, set.Contains(authz.Permission{Resource: "audit", Action: "export"}))
}

func TestChecker_InvalidateIsTenantScoped(t *testing.T) {
	checker, store := newTestChecker(t, time.Minute)
	ctx := context.Background()

	for _, tenant := range []string{"t1", "t2"} {
		require.NoError(t, store.CreateRole(ctx, &Role{
			Name:        "auditor",
			TenantID:    tenant,
			DisplayName: "Auditor",
			Permissions: []string{"audit:read"},
		}))
		_, err := checker.EffectivePermissions(ctx, tenant, []string{"auditor"})
		require.NoError(t, err)
	}

	for _, tenant := range []string{"t1", "t2"} {
		require.NoError(t, store.UpdateRole(ctx, &Role{
			Name:        "auditor",
			TenantID:    tenant,
			DisplayName: "Auditor",
			Permissions: []string{"audit:read", "audit:export"},
		}))
	}

	checker.Invalidate("t1")

	set, err := checker.EffectivePermissions(ctx, "t1", []string{"auditor"})
	require.NoError(t, err)
	assert.True(t, set.Contains(authz.Permission{Resource: "audit", Action: "export"}))

	// t2 still serves its stale entry.
	set, err = checker.EffectivePermissions(ctx, "t2", []string{"auditor"})
	require.NoError(t, err)
	assert.False(t, set.Contains(authz.Permission{Resource: "audit", Action: "export"}))
}

func TestChecker_CacheKeyIgnoresRoleOrder(t *testing.T) {
	assert.Equal(t, cacheKey("t1", []string{"b", "a"}), cacheKey("t1", []string{"a", "b"}))
	assert.NotEqual(t, cacheKey("t1", []string{"a"}), cacheKey("t2", []string{"a"}))
}

func TestChecker_DisabledCacheReadsThrough(t *testing.T) {
	checker, store := newTestChecker(t, 0)
	ctx := context.Background()

	require.NoError(t, store.CreateRole(ctx, &Role{
		Name:        "auditor",
		TenantID:    "t1",
		DisplayName: "Auditor",
		Permissions: []string{"audit:read"},
	}))

	_, err := checker.EffectivePermissions(ctx, "t1", []string{"auditor"})
	require.NoError(t, err)

	require.NoError(t, store.UpdateRole(ctx, &Role{
		Name:        "auditor",
		TenantID:    "t1",
		DisplayName: "Auditor",
		Permissions: []string{"audit:read", "audit:export"},
	}))

	set, err := checker.EffectivePermissions(ctx, "t1", []string{"auditor"})
	require.NoError(t, err)
	assert.True(t, set.Contains(authz.Permission{Resource: "audit", Action: "export"}))
}
