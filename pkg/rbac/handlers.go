package rbac

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bulkheadio/bulkhead/pkg/audit"
	"github.com/bulkheadio/bulkhead/pkg/auth"
	"github.com/bulkheadio/bulkhead/pkg/authz"
	"github.com/bulkheadio/bulkhead/pkg/contextkeys"
	"github.com/bulkheadio/bulkhead/pkg/httputil"
)

// Handlers provides the HTTP surface for role management.
type Handlers struct {
	store   *Store
	checker *Checker
	emitter *audit.Emitter
}

// NewHandlers creates role management handlers.
func NewHandlers(store *Store, checker *Checker, emitter *audit.Emitter) *Handlers {
	if emitter == nil {
		emitter = audit.NewEmitter(audit.NopLogger{}, 0, nil, nil)
	}
	return &Handlers{store: store, checker: checker, emitter: emitter}
}

// RegisterRoutes registers the role routes and their access
// descriptors. Mutations are restricted to tenant admins.
func (h *Handlers) RegisterRoutes(router *mux.Router, registry *authz.Registry) {
	router.HandleFunc("/roles", h.ListRoles).Methods(http.MethodGet).Name("roles.list")
	registry.MustRegister(authz.RouteMeta{
		Name:                "roles.list",
		RequiredPermissions: []authz.Permission{{Resource: "roles", Action: "read"}},
	})

	router.HandleFunc("/roles/{name}", h.GetRole).Methods(http.MethodGet).Name("roles.get")
	registry.MustRegister(authz.RouteMeta{
		Name:                "roles.get",
		RequiredPermissions: []authz.Permission{{Resource: "roles", Action: "read"}},
	})

	router.HandleFunc("/roles", h.CreateRole).Methods(http.MethodPost).Name("roles.create")
	registry.MustRegister(authz.RouteMeta{
		Name:                "roles.create",
		RequiredRoles:       []string{RoleAdmin},
		RequiredPermissions: []authz.Permission{{Resource: "roles", Action: "create"}},
		Audited:             true,
	})

	router.HandleFunc("/roles/{name}", h.UpdateRole).Methods(http.MethodPut).Name("roles.update")
	registry.MustRegister(authz.RouteMeta{
		Name:                "roles.update",
		RequiredRoles:       []string{RoleAdmin},
		RequiredPermissions: []authz.Permission{{Resource: "roles", Action: "update"}},
		Audited:             true,
	})

	router.HandleFunc("/roles/{name}", h.DeleteRole).Methods(http.MethodDelete).Name("roles.delete")
	registry.MustRegister(authz.RouteMeta{
		Name:                "roles.delete",
		RequiredRoles:       []string{RoleAdmin},
		RequiredPermissions: []authz.Permission{{Resource: "roles", Action: "delete"}},
		Audited:             true,
	})

	router.HandleFunc("/role-bindings", h.ListBindings).Methods(http.MethodGet).Name("roles.bindings")
	registry.MustRegister(authz.RouteMeta{
		Name:                "roles.bindings",
		RequiredPermissions: []authz.Permission{{Resource: "roles", Action: "read"}},
	})

	router.HandleFunc("/role-bindings", h.BindRole).Methods(http.MethodPost).Name("roles.bind")
	registry.MustRegister(authz.RouteMeta{
		Name:                "roles.bind",
		RequiredRoles:       []string{RoleAdmin},
		RequiredPermissions: []authz.Permission{{Resource: "roles", Action: "bind"}},
		Audited:             true,
	})

	router.HandleFunc("/role-bindings/{principal_id}/{name}", h.UnbindRole).Methods(http.MethodDelete).Name("roles.unbind")
	registry.MustRegister(authz.RouteMeta{
		Name:                "roles.unbind",
		RequiredRoles:       []string{RoleAdmin},
		RequiredPermissions: []authz.Permission{{Resource: "roles", Action: "bind"}},
		Audited:             true,
	})
}

// ListRoles handles GET /roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}

	roles, err := h.store.ListRoles(r.Context(), tenantID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"roles": roles,
		"total": len(roles),
	})
}

// GetRole handles GET /roles/{name}
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}

	role, err := h.store.GetRole(r.Context(), tenantID, name)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// CreateRole handles POST /roles
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	var req CreateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	role := &Role{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
		TenantID:    tenantID,
		Permissions: req.Permissions,
	}
	if role.DisplayName == "" {
		role.DisplayName = role.Name
	}
	if err := h.store.CreateRole(ctx, role); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.invalidate(tenantID)

	event := audit.NewRequestEvent(ctx, r, audit.EventTypeRoleCreate, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeRole
	event.ResourceID = role.Name
	event.Metadata = map[string]any{"permissions": role.Permissions}
	h.emitter.Emit(ctx, event)

	httputil.WriteCreated(w, role)
}

// UpdateRole handles PUT /roles/{name}
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}
	var req UpdateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	before, err := h.store.GetRole(ctx, tenantID, name)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	role := *before
	role.TenantID = tenantID
	role.Name = name
	if req.DisplayName != nil {
		role.DisplayName = *req.DisplayName
	}
	if req.Description != nil {
		role.Description = *req.Description
	}
	if req.Permissions != nil {
		role.Permissions = *req.Permissions
	}

	if err := h.store.UpdateRole(ctx, &role); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.invalidate(tenantID)

	event := audit.NewRequestEvent(ctx, r, audit.EventTypeRoleUpdate, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeRole
	event.ResourceID = role.Name
	event.Changes = &audit.ChangeDetails{
		Before: map[string]any{"display_name": before.DisplayName, "permissions": before.Permissions},
		After:  map[string]any{"display_name": role.DisplayName, "permissions": role.Permissions},
	}
	h.emitter.Emit(ctx, event)

	httputil.WriteSuccess(w, role)
}

// DeleteRole handles DELETE /roles/{name}
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}

	if err := h.store.DeleteRole(ctx, tenantID, name); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.invalidate(tenantID)

	event := audit.NewRequestEvent(ctx, r, audit.EventTypeRoleDelete, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeRole
	event.ResourceID = name
	h.emitter.Emit(ctx, event)

	httputil.WriteNoContent(w)
}

// ListBindings handles GET /role-bindings
func (h *Handlers) ListBindings(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}

	opts := BindingListOptions{
		PrincipalID:    r.URL.Query().Get("principal_id"),
		RoleName:       r.URL.Query().Get("role_name"),
		IncludeExpired: r.URL.Query().Get("include_expired") == "true",
	}
	bindings, err := h.store.ListBindings(r.Context(), tenantID, opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"bindings": bindings,
		"total":    len(bindings),
	})
}

// BindRole handles POST /role-bindings
func (h *Handlers) BindRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	var req BindRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.PrincipalID, "principal_id") {
		return
	}
	if !httputil.RequireNonEmpty(w, req.RoleName, "role_name") {
		return
	}

	binding := &RoleBinding{
		TenantID:    tenantID,
		PrincipalID: req.PrincipalID,
		RoleName:    req.RoleName,
		ExpiresAt:   req.ExpiresAt,
	}
	if caller, ok := auth.PrincipalFromContext(ctx); ok {
		binding.GrantedBy = caller.PrincipalID()
	}
	if err := h.store.BindRole(ctx, binding); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	event := audit.NewRequestEvent(ctx, r, audit.EventTypeRoleBind, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeRoleBinding
	event.ResourceID = binding.RoleName
	event.Metadata = map[string]any{
		"principal_id": binding.PrincipalID,
		"role_name":    binding.RoleName,
	}
	h.emitter.Emit(ctx, event)

	httputil.WriteCreated(w, binding)
}

// UnbindRole handles DELETE /role-bindings/{principal_id}/{name}
func (h *Handlers) UnbindRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	principalID, ok := httputil.ParsePathStringOrError(w, r, "principal_id")
	if !ok {
		return
	}
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}

	if err := h.store.UnbindRole(ctx, tenantID, principalID, name); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	event := audit.NewRequestEvent(ctx, r, audit.EventTypeRoleUnbind, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeRoleBinding
	event.ResourceID = name
	event.Metadata = map[string]any{
		"principal_id": principalID,
		"role_name":    name,
	}
	h.emitter.Emit(ctx, event)

	httputil.WriteNoContent(w)
}

func (h *Handlers) invalidate(tenantID string) {
	if h.checker != nil {
		h.checker.Invalidate(tenantID)
	}
}

// requireTenant reads the resolved tenant. The access pipeline already
// guarantees one on these routes; this is the fail-closed backstop for
// direct wiring without the pipeline.
func (h *Handlers) requireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID, ok := contextkeys.TenantID(r.Context())
	if !ok || tenantID == "" {
		httputil.WriteErrorCode(w, r, http.StatusForbidden, "tenant_required",
			"no tenant resolved for this request")
		return "", false
	}
	return tenantID, true
}

func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrRoleNotFound):
		httputil.WriteNotFoundError(w, "role not found")
	case errors.Is(err, ErrBindingNotFound):
		httputil.WriteNotFoundError(w, "role binding not found")
	case errors.Is(err, ErrRoleExists):
		httputil.WriteConflict(w, "role already exists")
	case errors.Is(err, ErrBindingExists):
		httputil.WriteConflict(w, "principal already holds this role")
	case errors.Is(err, ErrSystemRole):
		httputil.WriteErrorCode(w, r, http.StatusForbidden, "system_role",
			"built-in roles cannot be modified")
	case errors.Is(err, ErrInvalidPermission):
		httputil.WriteValidationError(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}
