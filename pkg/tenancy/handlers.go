package tenancy

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bulkheadio/bulkhead/pkg/audit"
	"github.com/bulkheadio/bulkhead/pkg/authz"
	"github.com/bulkheadio/bulkhead/pkg/httputil"
)

// Handlers provides the admin HTTP surface for tenant lifecycle
// management. These routes are global: the access pipeline guards them by
// role, not by tenant, since the caller is operating on tenants rather
// than within one.
type Handlers struct {
	service Service
	cache   *SlugCache
	emitter *audit.Emitter
}

// NewHandlers creates tenant admin handlers. The cache may be nil; when
// present it is invalidated on every change that affects resolution.
func NewHandlers(service Service, cache *SlugCache, emitter *audit.Emitter) *Handlers {
	if emitter == nil {
		emitter = audit.NewEmitter(audit.NopLogger{}, 0, nil, nil)
	}
	return &Handlers{
		service: service,
		cache:   cache,
		emitter: emitter,
	}
}

// RegisterRoutes registers the tenant admin routes and their access
// descriptors. Every route is global and restricted to the super admin
// role; tenant lifecycle is platform work, not something a tenant does to
// itself.
func (h *Handlers) RegisterRoutes(router *mux.Router, registry *authz.Registry) {
	admin := func(name string) authz.RouteMeta {
		return authz.RouteMeta{
			Name:          name,
			Global:        true,
			RequiredRoles: []string{"super_admin"},
			Audited:       true,
		}
	}

	router.HandleFunc("/admin/tenants", h.CreateTenant).Methods(http.MethodPost).Name("tenants.create")
	registry.MustRegister(admin("tenants.create"))

	router.HandleFunc("/admin/tenants", h.ListTenants).Methods(http.MethodGet).Name("tenants.list")
	registry.MustRegister(admin("tenants.list"))

	router.HandleFunc("/admin/tenants/{id}", h.GetTenant).Methods(http.MethodGet).Name("tenants.get")
	registry.MustRegister(admin("tenants.get"))

	router.HandleFunc("/admin/tenants/{id}", h.UpdateTenant).Methods(http.MethodPatch).Name("tenants.update")
	registry.MustRegister(admin("tenants.update"))

	router.HandleFunc("/admin/tenants/{id}/status", h.SetTenantStatus).Methods(http.MethodPut).Name("tenants.set_status")
	registry.MustRegister(admin("tenants.set_status"))

	router.HandleFunc("/admin/tenants/{id}", h.DeleteTenant).Methods(http.MethodDelete).Name("tenants.delete")
	registry.MustRegister(admin("tenants.delete"))
}

// CreateTenant handles POST /admin/tenants
func (h *Handlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	tenant := &Tenant{
		Name:        req.Name,
		Slug:        req.Slug,
		DisplayName: req.DisplayName,
		Settings:    req.Settings,
	}
	if tenant.Slug == "" {
		tenant.Slug = GenerateSlug(tenant.Name)
	}
	if tenant.Slug == "" {
		httputil.WriteValidationError(w, "name yields an empty slug; provide one explicitly")
		return
	}

	if err := h.service.CreateTenant(r.Context(), tenant); err != nil {
		if errors.Is(err, ErrSlugTaken) {
			httputil.WriteErrorCode(w, r, http.StatusConflict, "slug_taken", err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	h.emitTenantEvent(r, audit.EventTypeTenantCreate, tenant.ID, map[string]any{
		"name": tenant.Name,
		"slug": tenant.Slug,
	})
	httputil.WriteCreated(w, tenant)
}

// GetTenant handles GET /admin/tenants/{id}
func (h *Handlers) GetTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	tenant, err := h.service.GetTenant(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			httputil.WriteNotFoundError(w, "tenant not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, tenant)
}

// ListTenants handles GET /admin/tenants
func (h *Handlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	opts := ListOptions{
		Status: TenantStatus(httputil.ParseQueryString(r, "status", "")),
	}

	includeInactive, err := httputil.ParseQueryBool(r, "include_inactive", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	opts.IncludeInactive = includeInactive

	if opts.Limit, err = httputil.ParseQueryInt(r, "limit", 100); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if opts.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	tenants, err := h.service.ListTenants(r.Context(), opts)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"tenants": tenants,
		"count":   len(tenants),
	})
}

// UpdateTenant handles PATCH /admin/tenants/{id}
func (h *Handlers) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req UpdateTenantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.service.UpdateTenant(r.Context(), id, &req); err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			httputil.WriteNotFoundError(w, "tenant not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	tenant, err := h.service.GetTenant(r.Context(), id)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.invalidate(r, tenant.Slug)
	h.emitTenantEvent(r, audit.EventTypeTenantUpdate, id, nil)
	httputil.WriteSuccess(w, tenant)
}

type setStatusRequest struct {
	Status TenantStatus `json:"status"`
}

// SetTenantStatus handles PUT /admin/tenants/{id}/status. Suspending a
// tenant takes effect on the next resolution, so the slug cache entry is
// dropped alongside the write.
func (h *Handlers) SetTenantStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req setStatusRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	switch req.Status {
	case TenantStatusActive, TenantStatusSuspended, TenantStatusDeleted:
	default:
		httputil.WriteValidationError(w, "status must be active, suspended, or deleted")
		return
	}

	tenant, err := h.service.GetTenant(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			httputil.WriteNotFoundError(w, "tenant not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	if err := h.service.SetTenantStatus(r.Context(), id, req.Status); err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			httputil.WriteNotFoundError(w, "tenant not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	h.invalidate(r, tenant.Slug)
	h.emitTenantEvent(r, audit.EventTypeTenantStatusChange, id, map[string]any{
		"from": string(tenant.Status),
		"to":   string(req.Status),
	})
	httputil.WriteSuccess(w, map[string]interface{}{
		"id":     id,
		"status": req.Status,
	})
}

// DeleteTenant handles DELETE /admin/tenants/{id}. Deletion is a status
// change; the row stays so historical records keep resolving.
func (h *Handlers) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	tenant, err := h.service.GetTenant(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			httputil.WriteNotFoundError(w, "tenant not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	if err := h.service.DeleteTenant(r.Context(), id); err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			httputil.WriteNotFoundError(w, "tenant not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	h.invalidate(r, tenant.Slug)
	h.emitTenantEvent(r, audit.EventTypeTenantDelete, id, map[string]any{
		"slug": tenant.Slug,
	})
	httputil.WriteNoContent(w)
}

func (h *Handlers) invalidate(r *http.Request, slug string) {
	if h.cache != nil && slug != "" {
		h.cache.Invalidate(r.Context(), slug)
	}
}

func (h *Handlers) emitTenantEvent(r *http.Request, eventType audit.EventType, tenantID string, metadata map[string]any) {
	event := audit.NewRequestEvent(r.Context(), r, eventType, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeTenant
	event.ResourceID = tenantID
	event.Metadata = metadata
	h.emitter.Emit(r.Context(), event)
}
