// Package authz evaluates access decisions for inbound requests through an
// ordered chain of guards.
//
// # Overview
//
// Every request that reaches a protected route passes through the Pipeline,
// which inspects the request context (principal, resolved tenant) and the
// route's static descriptor, and either allows the request or denies it
// with a specific, matchable reason. Evaluation stops at the first denial.
//
// # Guard Chain
//
// Guards run in a fixed order; each returns allow, deny, or skip:
//
//	1. public-bypass    - public routes skip guards 2-6 except tenant-match
//	2. authentication   - ErrUnauthenticated without a principal
//	3. tenant-presence  - ErrTenantRequired without a resolved tenant
//	4. tenant-match     - ErrTenantMismatch when the principal's tenant
//	                      differs from the resolved tenant; every denial
//	                      here is recorded as a security event
//	5. role             - ErrInsufficientRole unless the principal holds a
//	                      required role; super-admin bypasses this guard,
//	                      and only this guard
//	6. permission       - ErrInsufficientPermission unless the union of
//	                      permissions across the principal's roles covers
//	                      every required permission
//
// Tenant-match is the core anti-leakage check. It runs even for public and
// global routes whenever both a principal and a resolved tenant are
// present: a valid credential for tenant A must never act against a
// context resolved to tenant B, regardless of how B's id entered the
// context (header tampering, slug mismatch). "Public" exempts a route from
// requiring a principal; it never exempts it from tenant-match.
//
// # Route Descriptors
//
// Access requirements are declared once, at route registration, as a
// RouteMeta value in a Registry:
//
//	reg := authz.NewRegistry()
//	reg.MustRegister(authz.RouteMeta{
//		Name:                "users.delete",
//		RequiredRoles:       []string{"admin"},
//		RequiredPermissions: []authz.Permission{{Resource: "users", Action: "delete"}},
//		Audited:             true,
//	})
//	router.HandleFunc("/v1/users/{id}", deleteUser).Methods("DELETE").Name("users.delete")
//
// The pipeline looks the descriptor up by the matched route's name. Routes
// without a descriptor get the zero value, which is the fail-closed
// default: authentication and a tenant are required, nothing else is
// granted.
//
// # Denials vs Unavailability
//
// Every guard failure is one of five sentinel errors; errors.Is is the
// supported way to match them. ErrUnavailable is deliberately separate: it
// means a dependency (such as the permission store) failed before a
// decision could be made. Callers map denials to 401/403-class responses
// and ErrUnavailable to a 503; conflating the two would present an outage
// as a rejection.
//
// # Usage Example
//
//	pipeline := authz.NewPipeline(authz.Config{SuperAdminRole: "super_admin"},
//		checker, emitter, logger, metrics)
//
//	meta, _ := registry.MetaFor(r)
//	if err := pipeline.Evaluate(r.Context(), r, meta); err != nil {
//		// map err to a response; see pkg/middleware
//		return
//	}
//
// # Related Packages
//
//   - pkg/auth: builds the Principal the guards inspect
//   - pkg/tenancy: resolves the tenant id the guards compare against
//   - pkg/rbac: expands roles into effective permissions
//   - pkg/audit: records security events and audited decisions
//   - pkg/middleware: runs the pipeline on every request
package authz
