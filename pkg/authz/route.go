package authz

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/mux"
)

// RouteMeta is the static access descriptor attached to a registered route.
// Descriptors are declared at registration time, next to the handler they
// protect; the pipeline only ever reads them. The zero value is the
// fail-closed default: not public, tenant required, no role or permission
// requirements.
type RouteMeta struct {
	// Name identifies the route; it must match the mux route name.
	Name string `json:"name"`

	// Public admits requests without a principal. Public routes still go
	// through tenant-match when a principal happens to be present.
	Public bool `json:"public,omitempty"`

	// Global marks platform-administration routes that run without a
	// tenant context. The tenant-presence guard skips them; tenant-match
	// still applies if a tenant was resolved anyway.
	Global bool `json:"global,omitempty"`

	// RequiredRoles admits a principal holding any one of these roles.
	// Empty means the role guard skips.
	RequiredRoles []string `json:"required_roles,omitempty"`

	// RequiredPermissions must all be covered by the union of the
	// principal's role permissions. Empty means the permission guard
	// skips.
	RequiredPermissions []Permission `json:"required_permissions,omitempty"`

	// Audited records an audit event for every decision on this route.
	Audited bool `json:"audited,omitempty"`
}

// Registry holds the route descriptors, keyed by route name. Registration
// happens once during server construction; lookups are concurrent.
type Registry struct {
	mu     sync.RWMutex
	routes map[string]RouteMeta
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[string]RouteMeta)}
}

// Register adds a descriptor. Registering an empty or duplicate name is an
// error: duplicates would silently replace another route's access rules.
func (r *Registry) Register(meta RouteMeta) error {
	if meta.Name == "" {
		return fmt.Errorf("route descriptor requires a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.routes[meta.Name]; exists {
		return fmt.Errorf("route descriptor %q already registered", meta.Name)
	}
	r.routes[meta.Name] = meta
	return nil
}

// MustRegister is Register for statically known descriptors.
func (r *Registry) MustRegister(meta RouteMeta) {
	if err := r.Register(meta); err != nil {
		panic(err)
	}
}

// Lookup returns the descriptor for a route name.
func (r *Registry) Lookup(name string) (RouteMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.routes[name]
	return meta, ok
}

// MetaFor returns the descriptor for the mux route that matched a request.
// Unnamed or unregistered routes return the zero descriptor and false; the
// zero value keeps them fail-closed (authentication and tenant required).
func (r *Registry) MetaFor(req *http.Request) (RouteMeta, bool) {
	route := mux.CurrentRoute(req)
	if route == nil {
		return RouteMeta{}, false
	}
	name := route.GetName()
	if name == "" {
		return RouteMeta{}, false
	}
	return r.Lookup(name)
}

// Routes returns all registered descriptors sorted by name.
func (r *Registry) Routes() []RouteMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	routes := make([]RouteMeta, 0, len(r.routes))
	for _, meta := range r.routes {
		routes = append(routes, meta)
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].Name < routes[j].Name })
	return routes
}
