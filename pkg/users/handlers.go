package users

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bulkheadio/bulkhead/pkg/audit"
	"github.com/bulkheadio/bulkhead/pkg/authz"
	"github.com/bulkheadio/bulkhead/pkg/gateway"
	"github.com/bulkheadio/bulkhead/pkg/httputil"
)

// Handlers provides the HTTP surface for user management.
type Handlers struct {
	service *Service
	emitter *audit.Emitter
}

// NewHandlers creates user handlers.
func NewHandlers(service *Service, emitter *audit.Emitter) *Handlers {
	if emitter == nil {
		emitter = audit.NewEmitter(audit.NopLogger{}, 0, nil, nil)
	}
	return &Handlers{service: service, emitter: emitter}
}

// RegisterRoutes registers the user routes and their access descriptors.
func (h *Handlers) RegisterRoutes(router *mux.Router, registry *authz.Registry) {
	router.HandleFunc("/users", h.CreateUser).Methods(http.MethodPost).Name("users.create")
	registry.MustRegister(authz.RouteMeta{
		Name:                "users.create",
		RequiredPermissions: []authz.Permission{{Resource: "users", Action: "create"}},
		Audited:             true,
	})

	router.HandleFunc("/users", h.ListUsers).Methods(http.MethodGet).Name("users.list")
	registry.MustRegister(authz.RouteMeta{
		Name:                "users.list",
		RequiredPermissions: []authz.Permission{{Resource: "users", Action: "read"}},
	})

	router.HandleFunc("/users/{id}", h.GetUser).Methods(http.MethodGet).Name("users.get")
	registry.MustRegister(authz.RouteMeta{
		Name:                "users.get",
		RequiredPermissions: []authz.Permission{{Resource: "users", Action: "read"}},
	})

	router.HandleFunc("/users/{id}", h.UpdateUser).Methods(http.MethodPut).Name("users.update")
	registry.MustRegister(authz.RouteMeta{
		Name:                "users.update",
		RequiredPermissions: []authz.Permission{{Resource: "users", Action: "update"}},
		Audited:             true,
	})

	router.HandleFunc("/users/{id}", h.DeleteUser).Methods(http.MethodDelete).Name("users.delete")
	registry.MustRegister(authz.RouteMeta{
		Name:                "users.delete",
		RequiredRoles:       []string{"admin"},
		RequiredPermissions: []authz.Permission{{Resource: "users", Action: "delete"}},
		Audited:             true,
	})
}

// CreateUser handles POST /users
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") {
		return
	}

	user, err := h.service.CreateUser(ctx, &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	event := audit.NewRequestEvent(ctx, r, audit.EventTypeUserCreate, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeUser
	event.ResourceID = user.ID
	event.Metadata = map[string]any{"email": user.Email}
	h.emitter.Emit(ctx, event)

	httputil.WriteCreated(w, user)
}

// ListUsers handles GET /users
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, err := httputil.ParseQueryInt(r, "limit", 100)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid limit")
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid offset")
		return
	}

	users, err := h.service.ListUsers(ctx, ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	total, err := h.service.CountUsers(ctx)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"users":  users,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetUser handles GET /users/{id}
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// UpdateUser handles PUT /users/{id}
func (h *Handlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req UpdateUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Version <= 0 {
		httputil.WriteValidationError(w, "version is required and must be the version you read")
		return
	}

	before, err := h.service.GetUser(ctx, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	user, err := h.service.UpdateUser(ctx, id, &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	event := audit.NewRequestEvent(ctx, r, audit.EventTypeUserUpdate, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeUser
	event.ResourceID = user.ID
	event.Changes = &audit.ChangeDetails{
		Before: map[string]any{"email": before.Email, "display_name": before.DisplayName, "roles": before.Roles},
		After:  map[string]any{"email": user.Email, "display_name": user.DisplayName, "roles": user.Roles},
	}
	h.emitter.Emit(ctx, event)

	httputil.WriteSuccess(w, user)
}

// DeleteUser handles DELETE /users/{id}
func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteUser(ctx, id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	event := audit.NewRequestEvent(ctx, r, audit.EventTypeUserDelete, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeUser
	event.ResourceID = id
	h.emitter.Emit(ctx, event)

	httputil.WriteNoContent(w)
}

func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		httputil.WriteNotFoundError(w, "user not found")
	case errors.Is(err, ErrEmailTaken):
		httputil.WriteConflict(w, "email already in use")
	case errors.Is(err, gateway.ErrOptimisticConflict):
		httputil.WriteErrorCode(w, r, http.StatusConflict, "version_conflict",
			"the record changed since you read it; re-read and retry")
	case errors.Is(err, gateway.ErrScopeViolation):
		httputil.WriteErrorCode(w, r, http.StatusForbidden, "tenant_required",
			"no tenant resolved for this request")
	case errors.Is(err, gateway.ErrUnavailable):
		httputil.WriteServiceUnavailable(w, "storage unavailable")
	default:
		httputil.WriteInternalError(w, err)
	}
}
