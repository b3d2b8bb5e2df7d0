package authz

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bulkheadio/bulkhead/pkg/audit"
	"github.com/bulkheadio/bulkhead/pkg/auth"
	"github.com/bulkheadio/bulkhead/pkg/contextkeys"
	"github.com/bulkheadio/bulkhead/pkg/observability"
)

// Guard names, used as metric labels and in denial logs.
const (
	GuardPublicBypass  = "public_bypass"
	GuardAuth          = "authentication"
	GuardTenantPresent = "tenant_presence"
	GuardTenantMatch   = "tenant_match"
	GuardRole          = "role"
	GuardPermission    = "permission"
)

// PermissionSource expands role names into the union of their permissions.
// Implemented by the RBAC checker; the pipeline treats expansion failure as
// ErrUnavailable, never as a denial.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, tenantID string, roles []string) (PermissionSet, error)
}

// Config configures the pipeline.
type Config struct {
	// SuperAdminRole bypasses the role guard, and only the role guard.
	SuperAdminRole string
}

func (c *Config) applyDefaults() {
	if c.SuperAdminRole == "" {
		c.SuperAdminRole = "super_admin"
	}
}

// Pipeline evaluates the ordered access guards for a request:
//
//	public-bypass → authentication → tenant-presence → tenant-match →
//	role → permission
//
// Evaluation stops at the first denial. Public routes skip every guard
// except tenant-match, which runs whenever both a principal and a resolved
// tenant are present: public means "no principal required", never "exempt
// from the cross-tenant check".
type Pipeline struct {
	cfg         Config
	permissions PermissionSource
	emitter     *audit.Emitter
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// NewPipeline creates a Pipeline. The permission source may be nil, in
// which case routes requiring permissions deny; emitter and metrics may be
// nil.
func NewPipeline(cfg Config, permissions PermissionSource, emitter *audit.Emitter, logger *observability.Logger, metrics *observability.Metrics) *Pipeline {
	cfg.applyDefaults()
	if emitter == nil {
		emitter = audit.NewEmitter(audit.NopLogger{}, 0, logger, nil)
	}
	return &Pipeline{
		cfg:         cfg,
		permissions: permissions,
		emitter:     emitter,
		logger:      logger,
		metrics:     metrics,
	}
}

// Evaluate runs the guard chain for the request described by meta. A nil
// return means the request may proceed. A denial comes back as one of the
// sentinel errors in errors.go; ErrUnavailable means no decision could be
// made and must be mapped to a server failure, not a denial.
func (p *Pipeline) Evaluate(ctx context.Context, httpReq *http.Request, meta RouteMeta) error {
	start := time.Now()
	principal, _ := auth.PrincipalFromContext(ctx)
	tenantID, hasTenant := contextkeys.TenantID(ctx)

	err := p.run(ctx, httpReq, meta, principal, tenantID, hasTenant)

	outcome := "allow"
	if err != nil {
		outcome = ReasonLabel(err)
	}
	if p.metrics != nil {
		p.metrics.DecisionDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}

	if err == nil && meta.Audited {
		event := audit.NewRequestEvent(ctx, httpReq, audit.EventTypeAccessGranted, audit.EventStatusSuccess)
		event.ResourceType = audit.ResourceTypeRoute
		event.ResourceID = meta.Name
		p.emitter.Emit(ctx, event)
	}
	return err
}

func (p *Pipeline) run(ctx context.Context, httpReq *http.Request, meta RouteMeta, principal *auth.Principal, tenantID string, hasTenant bool) error {
	public := meta.Public
	if public {
		p.record(GuardPublicBypass, "bypass")
	} else {
		p.record(GuardPublicBypass, "skip")
	}

	// Authentication guard.
	if public {
		p.record(GuardAuth, "skip")
	} else if principal == nil {
		return p.deny(ctx, httpReq, meta, GuardAuth, ErrUnauthenticated)
	} else {
		p.record(GuardAuth, "allow")
	}

	// Tenant-presence guard. Global routes operate without a tenant
	// context and public routes carry their own tenant or none at all.
	if public || meta.Global {
		p.record(GuardTenantPresent, "skip")
	} else if !hasTenant {
		return p.deny(ctx, httpReq, meta, GuardTenantPresent, ErrTenantRequired)
	} else {
		p.record(GuardTenantPresent, "allow")
	}

	// Tenant-match guard. Runs for public and global routes too: a
	// credential bound to tenant A must never act against a context
	// resolved to tenant B, however B got there. Principals without a
	// tenant binding (platform credentials) have nothing to mismatch.
	if principal != nil && hasTenant && principal.TenantID != "" {
		if principal.TenantID != tenantID {
			p.auditTenantMismatch(ctx, httpReq, meta, principal, tenantID)
			return p.deny(ctx, httpReq, meta, GuardTenantMatch, ErrTenantMismatch)
		}
		p.record(GuardTenantMatch, "allow")
	} else {
		p.record(GuardTenantMatch, "skip")
	}

	// Role guard. The super-admin role bypasses this guard
	// unconditionally, and no other guard.
	if public || len(meta.RequiredRoles) == 0 {
		p.record(GuardRole, "skip")
	} else if principal.HasRole(p.cfg.SuperAdminRole) {
		p.record(GuardRole, "bypass")
	} else if !hasAnyRole(principal, meta.RequiredRoles) {
		return p.deny(ctx, httpReq, meta, GuardRole, ErrInsufficientRole)
	} else {
		p.record(GuardRole, "allow")
	}

	// Permission guard. The union of permissions across all the
	// principal's roles must cover every required permission.
	if public || len(meta.RequiredPermissions) == 0 {
		p.record(GuardPermission, "skip")
		return nil
	}
	held, err := p.effectivePermissions(ctx, tenantID, principal.Roles)
	if err != nil {
		p.record(GuardPermission, "unavailable")
		if p.logger != nil {
			p.logger.WithContext(ctx).WithError(err).WithField("route", meta.Name).
				Error("permission expansion failed")
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !held.Covers(meta.RequiredPermissions) {
		return p.deny(ctx, httpReq, meta, GuardPermission, ErrInsufficientPermission)
	}
	p.record(GuardPermission, "allow")
	return nil
}

func (p *Pipeline) effectivePermissions(ctx context.Context, tenantID string, roles []string) (PermissionSet, error) {
	if p.permissions == nil || len(roles) == 0 {
		return PermissionSet{}, nil
	}
	return p.permissions.EffectivePermissions(ctx, tenantID, roles)
}

func (p *Pipeline) deny(ctx context.Context, httpReq *http.Request, meta RouteMeta, guard string, reason error) error {
	p.record(guard, "deny")
	if p.metrics != nil {
		p.metrics.DenialsTotal.WithLabelValues(ReasonLabel(reason)).Inc()
	}
	if p.logger != nil {
		p.logger.WithContext(ctx).
			WithFields(map[string]interface{}{
				"route":  meta.Name,
				"guard":  guard,
				"reason": ReasonLabel(reason),
			}).
			Info("access denied")
	}
	if meta.Audited {
		event := audit.NewRequestEvent(ctx, httpReq, audit.EventTypeAccessDenied, audit.EventStatusDenied)
		event.ResourceType = audit.ResourceTypeRoute
		event.ResourceID = meta.Name
		event.ErrorMessage = reason.Error()
		event.Metadata = map[string]any{"guard": guard}
		p.emitter.Emit(ctx, event)
	}
	return reason
}

// auditTenantMismatch records the security event for a cross-tenant
// attempt. This happens on every mismatch, whether or not the route asked
// for auditing.
func (p *Pipeline) auditTenantMismatch(ctx context.Context, httpReq *http.Request, meta RouteMeta, principal *auth.Principal, resolvedTenant string) {
	event := audit.NewRequestEvent(ctx, httpReq, audit.EventTypeTenantMismatch, audit.EventStatusDenied)
	event.ResourceType = audit.ResourceTypeRoute
	event.ResourceID = meta.Name
	event.Metadata = map[string]any{
		"principal_tenant": principal.TenantID,
		"resolved_tenant":  resolvedTenant,
	}
	p.emitter.Emit(ctx, event)

	if p.logger != nil {
		p.logger.WithContext(ctx).
			WithFields(map[string]interface{}{
				"route":            meta.Name,
				"principal_tenant": principal.TenantID,
				"resolved_tenant":  resolvedTenant,
			}).
			Warn("cross-tenant access attempt")
	}
}

func (p *Pipeline) record(guard, outcome string) {
	if p.metrics != nil {
		p.metrics.DecisionsTotal.WithLabelValues(guard, outcome).Inc()
	}
}

func hasAnyRole(principal *auth.Principal, required []string) bool {
	for _, role := range required {
		if principal.HasRole(role) {
			return true
		}
	}
	return false
}
