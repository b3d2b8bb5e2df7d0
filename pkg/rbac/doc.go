// Package rbac provides role storage and effective-permission expansion
// for the access pipeline.
//
// # Overview
//
// A Role is a named set of permission strings of the form
// "resource:action", with "*" matching any value in either position.
// Roles come in two flavors:
//
//   - System roles (super_admin, admin, member, viewer) are created by
//     InitializeBuiltInRoles, have an empty tenant id, resolve in every
//     tenant and are immutable.
//   - Custom roles belong to one tenant and may shadow a system role of
//     the same name.
//
// A RoleBinding records that a principal holds a role within a tenant,
// optionally with an expiry. Bindings are the management plane: tokens
// issued to a principal carry the resulting role names, and the access
// pipeline checks those names against the route's requirements.
//
// # Resolution
//
// Role names resolve tenant-first. Given a tenant t and a name n:
//
//  1. t's custom role named n, if one exists
//  2. the system role named n
//  3. otherwise the name grants nothing
//
// # Effective permissions
//
// Checker implements authz.PermissionSource. For a principal carrying
// roles ["admin", "auditor"] in tenant t, the effective permission set
// is the union of both roles' permissions after resolution. Expansions
// are cached per (tenant, sorted role set) with a TTL; role mutations
// invalidate the tenant's entries.
//
//	store := rbac.NewStore(db)
//	checker := rbac.NewChecker(store, 5*time.Minute, logger, metrics)
//	pipeline := authz.NewPipeline(cfg, checker, emitter, logger, metrics)
//
// # Storage
//
// The store runs on database/sql with queries written to work on both
// Postgres (production) and SQLite (the in-memory test helpers):
// placeholders appear in strict ascending order, timestamps are passed
// as arguments, and permissions are stored as a JSON-encoded array in a
// TEXT column. RunMigrations applies the schema and records each
// version in rbac_migrations.
//
// # HTTP surface
//
// Handlers expose role CRUD and bind/unbind under /roles and
// /role-bindings. Mutating routes require the admin role and are
// audited; reads require roles:read. Every route registers an
// authz.RouteMeta descriptor alongside its mux route, so the access
// pipeline picks up the requirements by route name.
package rbac
