package audit

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bulkheadio/bulkhead/pkg/auth"
	"github.com/bulkheadio/bulkhead/pkg/contextkeys"
	"github.com/bulkheadio/bulkhead/pkg/httputil"
)

const (
	// defaultSearchLimit applies when the caller sends none.
	defaultSearchLimit = 100

	// maxSearchLimit caps a single page regardless of what was asked.
	maxSearchLimit = 1000
)

// Handlers provides the HTTP surface for the audit trail: search, single
// event retrieval, aggregate stats, and export. Results are pinned to the
// caller's tenant unless the caller holds the super admin role; asking for
// another tenant is refused outright, never silently rewritten.
//
// This package sits below the access pipeline, so the route descriptors
// for these handlers are declared where the server wires its routes.
type Handlers struct {
	store      Store
	emitter    *Emitter
	superAdmin string
}

// NewHandlers creates audit trail handlers.
func NewHandlers(store Store, emitter *Emitter) *Handlers {
	if emitter == nil {
		emitter = NewEmitter(NopLogger{}, 0, nil, nil)
	}
	return &Handlers{
		store:      store,
		emitter:    emitter,
		superAdmin: "super_admin",
	}
}

// SetSuperAdminRole overrides the role name that unlocks cross-tenant
// queries. It must match the role the access pipeline treats as super
// admin.
func (h *Handlers) SetSuperAdminRole(role string) {
	if role != "" {
		h.superAdmin = role
	}
}

// SearchEvents handles GET /audit/events
func (h *Handlers) SearchEvents(w http.ResponseWriter, r *http.Request) {
	filter := parseFilter(r)
	if !h.scope(w, r, &filter) {
		return
	}

	events, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// GetEvent handles GET /audit/events/{id}
func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	event, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			httputil.WriteNotFoundError(w, "audit event not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	// A foreign tenant's event reads as absent, not forbidden.
	if !h.isSuperAdmin(r) {
		tenantID, ok := contextkeys.TenantID(r.Context())
		if !ok {
			httputil.WriteErrorCode(w, r, http.StatusForbidden, "tenant_required", "no tenant resolved for this request")
			return
		}
		if event.TenantID != tenantID {
			httputil.WriteNotFoundError(w, "audit event not found")
			return
		}
	}

	httputil.WriteSuccess(w, event)
}

// GetStats handles GET /audit/stats
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	tenantID := httputil.ParseQueryString(r, "tenant_id", "")
	if !h.isSuperAdmin(r) {
		callerTenant, ok := contextkeys.TenantID(r.Context())
		if !ok {
			httputil.WriteErrorCode(w, r, http.StatusForbidden, "tenant_required", "no tenant resolved for this request")
			return
		}
		if tenantID != "" && tenantID != callerTenant {
			httputil.WriteErrorCode(w, r, http.StatusForbidden, "tenant_scope", "audit stats are limited to the caller's tenant")
			return
		}
		tenantID = callerTenant
	}

	startTime, endTime, ok := parseTimeRange(w, r)
	if !ok {
		return
	}

	stats, err := h.store.GetStats(r.Context(), tenantID, startTime, endTime)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, stats)
}

// ExportEvents handles GET /audit/export
func (h *Handlers) ExportEvents(w http.ResponseWriter, r *http.Request) {
	filter := parseFilter(r)
	if !h.scope(w, r, &filter) {
		return
	}

	format := ExportFormat(httputil.ParseQueryString(r, "format", string(ExportFormatJSON)))
	switch format {
	case ExportFormatJSON, ExportFormatCSV, ExportFormatNDJSON:
	default:
		httputil.WriteValidationError(w, "format must be one of: json, csv, ndjson")
		return
	}

	data, err := h.store.Export(r.Context(), filter, format)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	event := NewRequestEvent(r.Context(), r, EventTypeAuditExport, EventStatusSuccess)
	event.ResourceType = ResourceTypeAuditLog
	event.Metadata = map[string]any{
		"format":    string(format),
		"tenant_id": filter.TenantID,
		"bytes":     len(data),
	}
	h.emitter.Emit(r.Context(), event)

	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-events.csv")
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-events.ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-events.json")
	}

	w.Write(data)
}

// isSuperAdmin reports whether the caller may cross tenant boundaries.
func (h *Handlers) isSuperAdmin(r *http.Request) bool {
	caller, ok := auth.PrincipalFromContext(r.Context())
	return ok && caller.HasRole(h.superAdmin)
}

// scope pins the filter to the caller's tenant. Super admins may query any
// tenant, or all of them by leaving tenant_id unset.
func (h *Handlers) scope(w http.ResponseWriter, r *http.Request, filter *SearchFilter) bool {
	if h.isSuperAdmin(r) {
		return true
	}

	tenantID, ok := contextkeys.TenantID(r.Context())
	if !ok {
		httputil.WriteErrorCode(w, r, http.StatusForbidden, "tenant_required", "no tenant resolved for this request")
		return false
	}

	if filter.TenantID != "" && filter.TenantID != tenantID {
		httputil.WriteErrorCode(w, r, http.StatusForbidden, "tenant_scope", "audit queries are limited to the caller's tenant")
		return false
	}

	filter.TenantID = tenantID
	return true
}

// parseTimeRange reads start_time/end_time, writing a validation error on
// malformed input.
func parseTimeRange(w http.ResponseWriter, r *http.Request) (*time.Time, *time.Time, bool) {
	var startTime, endTime *time.Time

	if t, err := httputil.ParseQueryTime(r, "start_time"); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return nil, nil, false
	} else if !t.IsZero() {
		startTime = &t
	}

	if t, err := httputil.ParseQueryTime(r, "end_time"); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return nil, nil, false
	} else if !t.IsZero() {
		endTime = &t
	}

	return startTime, endTime, true
}

// parseFilter builds a SearchFilter from query parameters. Malformed
// optional values are dropped rather than rejected; the scope check runs
// on the result afterwards.
func parseFilter(r *http.Request) SearchFilter {
	query := r.URL.Query()
	filter := SearchFilter{}

	if t, err := httputil.ParseQueryTime(r, "start_time"); err == nil && !t.IsZero() {
		filter.StartTime = &t
	}
	if t, err := httputil.ParseQueryTime(r, "end_time"); err == nil && !t.IsZero() {
		filter.EndTime = &t
	}

	filter.ActorID = query.Get("actor_id")
	filter.TenantID = query.Get("tenant_id")

	if eventTypes := query.Get("event_types"); eventTypes != "" {
		for _, et := range strings.Split(eventTypes, ",") {
			et = strings.TrimSpace(et)
			if et != "" {
				filter.EventTypes = append(filter.EventTypes, EventType(et))
			}
		}
	}

	if statusStr := query.Get("status"); statusStr != "" {
		status := EventStatus(statusStr)
		filter.Status = &status
	}

	filter.ResourceType = ResourceType(query.Get("resource_type"))
	filter.ResourceID = query.Get("resource_id")
	filter.IPAddress = query.Get("ip_address")
	filter.RequestID = query.Get("request_id")

	filter.Limit = defaultSearchLimit
	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if filter.Limit > maxSearchLimit {
		filter.Limit = maxSearchLimit
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset > 0 {
			filter.Offset = offset
		}
	}

	filter.SortBy = query.Get("sort_by")
	filter.SortOrder = query.Get("sort_order")

	return filter
}
