// Package gateway is the single path to row storage for tenant-owned
// record types. It reads the resolved tenant from the request context
// exactly once per operation and applies it itself: into the WHERE
// clause of reads, updates and deletes, and into the payload of inserts.
// Calling code never passes a tenant id and so cannot forget one; a
// scoped operation with no tenant in context fails closed with
// ErrScopeViolation unless the caller went through WithoutTenantScope.
//
// Two row lifecycles ride along. Soft deletion rewrites deletes into
// marker updates and filters marked rows out of reads. Optimistic
// concurrency bumps a version counter on every update and
// compare-and-swaps on the value the caller read, so a lost race
// surfaces as ErrOptimisticConflict instead of a silent overwrite.
package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/bulkheadio/bulkhead/pkg/audit"
	"github.com/bulkheadio/bulkhead/pkg/contextkeys"
	"github.com/bulkheadio/bulkhead/pkg/observability"
)

var (
	// ErrScopeViolation means a tenant-owned type was touched with no
	// tenant in context and no escape hatch. Always recorded as a
	// security event.
	ErrScopeViolation = errors.New("tenant scope violation")

	// ErrOptimisticConflict means the version counter moved between the
	// caller's read and its update. Nothing was written.
	ErrOptimisticConflict = errors.New("optimistic concurrency conflict")

	// ErrNotFound means no row matched, soft-deleted rows included
	// unless the caller opted in to seeing them.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate means a uniqueness constraint rejected the write.
	ErrDuplicate = errors.New("record already exists")

	// ErrUnavailable means the storage layer failed; it is an
	// infrastructure condition, never an authorization outcome.
	ErrUnavailable = errors.New("storage unavailable")
)

// Gateway executes persistence operations with the context tenant
// applied. Services hold a *Gateway instead of a raw *sql.DB, which
// makes the scoping impossible to route around.
type Gateway struct {
	db      *sql.DB
	emitter *audit.Emitter
	logger  *observability.Logger
	metrics *observability.Metrics
	timeout time.Duration
}

// Options configures a Gateway. Every field may be zero.
type Options struct {
	Emitter *audit.Emitter
	Logger  *observability.Logger
	Metrics *observability.Metrics

	// QueryTimeout bounds each operation. Zero means the caller's
	// context deadline is the only bound.
	QueryTimeout time.Duration
}

// New creates a Gateway over an open database handle.
func New(db *sql.DB, opts Options) *Gateway {
	emitter := opts.Emitter
	if emitter == nil {
		emitter = audit.NewEmitter(audit.NopLogger{}, 0, opts.Logger, nil)
	}
	return &Gateway{
		db:      db,
		emitter: emitter,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		timeout: opts.QueryTimeout,
	}
}

// WithoutTenantScope runs fn with the ambient tenant cleared, for system
// paths that legitimately cross tenants: provisioning, retention sweeps,
// platform administration. The caller's own context is never modified,
// so the prior tenant value, including "absent", is back in force the
// moment fn returns, on error and on panic alike. Every use is recorded
// in the audit trail with the caller's stated reason.
func (g *Gateway) WithoutTenantScope(ctx context.Context, reason string, fn func(ctx context.Context) error) error {
	if g.metrics != nil {
		g.metrics.EscapeHatchTotal.Inc()
	}

	event := audit.NewEvent(ctx, audit.EventTypeScopeEscape, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeRecord
	event.Message = reason
	if tenantID, ok := contextkeys.TenantID(ctx); ok {
		event.Metadata = map[string]any{"suspended_tenant": tenantID}
	}
	g.emitter.Emit(ctx, event)

	if g.logger != nil {
		g.logger.WithContext(ctx).WithField("reason", reason).Info("tenant scoping suspended")
	}

	return fn(contextkeys.WithoutTenantID(ctx))
}

// scope snapshots the tenant to apply to one operation on rec. The
// context is read exactly once, synchronously, before any I/O; nothing
// re-reads it after a suspension point. An empty return with nil error
// means the operation runs unscoped (unowned type, or escape hatch).
func (g *Gateway) scope(ctx context.Context, rec Record, operation string) (string, error) {
	if _, owned := rec.(TenantOwned); !owned {
		return "", nil
	}
	if tenantID, ok := contextkeys.TenantID(ctx); ok {
		return tenantID, nil
	}
	if contextkeys.TenantCleared(ctx) {
		return "", nil
	}
	return "", g.scopeViolation(ctx, rec.Entity(), operation)
}

func (g *Gateway) scopeViolation(ctx context.Context, entity Entity, operation string) error {
	if g.metrics != nil {
		g.metrics.ScopeViolationsTotal.Inc()
	}

	event := audit.NewEvent(ctx, audit.EventTypeScopeViolation, audit.EventStatusDenied)
	event.ResourceType = audit.ResourceTypeRecord
	event.ResourceID = entity.Name
	event.ErrorMessage = ErrScopeViolation.Error()
	event.Metadata = map[string]any{"operation": operation}
	g.emitter.Emit(ctx, event)

	if g.logger != nil {
		g.logger.WithContext(ctx).
			WithFields(map[string]interface{}{
				"entity":    entity.Name,
				"operation": operation,
			}).
			Warn("tenant scope violation")
	}
	return fmt.Errorf("%w: %s on %s without a tenant", ErrScopeViolation, operation, entity.Name)
}

func (g *Gateway) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout > 0 {
		return context.WithTimeout(ctx, g.timeout)
	}
	return ctx, func() {}
}

func (g *Gateway) observe(entity Entity, operation string, start time.Time, err error) {
	if g.metrics == nil {
		return
	}
	status := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case errors.Is(err, ErrOptimisticConflict):
		status = "conflict"
	case errors.Is(err, ErrScopeViolation):
		status = "scope_violation"
	case errors.Is(err, ErrDuplicate):
		status = "duplicate"
	case err != nil:
		status = "error"
	}
	g.metrics.GatewayOperationsTotal.WithLabelValues(entity.Name, operation, status).Inc()
	g.metrics.GatewayOperationDuration.WithLabelValues(entity.Name, operation).Observe(time.Since(start).Seconds())
}

// wrap classifies a driver error. Unique violations become ErrDuplicate;
// everything else is an infrastructure failure.
func (g *Gateway) wrap(operation string, entity Entity, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
	}
	return fmt.Errorf("%w: %s on %s: %v", ErrUnavailable, operation, entity.Name, err)
}
