package rbac

import (
	"errors"
	"fmt"
	"time"

	"github.com/bulkheadio/bulkhead/pkg/authz"
)

var (
	// ErrRoleNotFound is returned when a role does not exist in the
	// tenant or among the system roles.
	ErrRoleNotFound = errors.New("role not found")

	// ErrRoleExists is returned when creating a role whose name is
	// already taken within the tenant.
	ErrRoleExists = errors.New("role already exists")

	// ErrSystemRole is returned when trying to modify or delete a
	// built-in system role.
	ErrSystemRole = errors.New("system roles are immutable")

	// ErrInvalidPermission is returned when a permission string is not
	// of the form "resource:action".
	ErrInvalidPermission = errors.New("invalid permission")

	// ErrBindingNotFound is returned when a role binding does not exist.
	ErrBindingNotFound = errors.New("role binding not found")

	// ErrBindingExists is returned when the principal already holds the
	// role within the tenant.
	ErrBindingExists = errors.New("role binding already exists")
)

// Built-in role names. System roles live outside any tenant (empty
// tenant id) and are visible to every tenant; they cannot be modified
// or deleted.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleMember     = "member"
	RoleViewer     = "viewer"
)

// Role is a named set of permissions. Custom roles belong to one tenant;
// system roles have an empty TenantID and resolve in every tenant. A
// tenant role shadows a system role of the same name.
type Role struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
	TenantID    string    `json:"tenant_id,omitempty"`
	Permissions []string  `json:"permissions"`
	System      bool      `json:"system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ParsedPermissions converts the role's permission strings into a
// PermissionSet. Malformed entries are skipped and reported through the
// returned error; the set still contains every entry that parsed.
func (r *Role) ParsedPermissions() (authz.PermissionSet, error) {
	set := make(authz.PermissionSet, len(r.Permissions))
	var firstErr error
	for _, s := range r.Permissions {
		p, err := authz.ParsePermission(s)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		set.Add(p)
	}
	return set, firstErr
}

// RoleBinding records that a principal holds a role within a tenant.
// Bindings are the management plane for role assignment; the tokens a
// principal presents carry the resulting role names.
type RoleBinding struct {
	TenantID    string     `json:"tenant_id"`
	PrincipalID string     `json:"principal_id"`
	RoleName    string     `json:"role_name"`
	GrantedBy   string     `json:"granted_by,omitempty"`
	GrantedAt   time.Time  `json:"granted_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the binding has lapsed at the given time.
func (b *RoleBinding) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && !b.ExpiresAt.After(now)
}

// CreateRoleRequest is the payload for creating a custom role.
type CreateRoleRequest struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

// UpdateRoleRequest is the payload for updating a custom role. Nil
// fields are left unchanged.
type UpdateRoleRequest struct {
	DisplayName *string   `json:"display_name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Permissions *[]string `json:"permissions,omitempty"`
}

// BindRoleRequest is the payload for granting a role to a principal.
type BindRoleRequest struct {
	PrincipalID string     `json:"principal_id"`
	RoleName    string     `json:"role_name"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// BindingListOptions filters a binding listing.
type BindingListOptions struct {
	PrincipalID    string
	RoleName       string
	IncludeExpired bool
}

// BuiltInRoles returns the system role definitions seeded at startup.
func BuiltInRoles() []Role {
	return []Role{
		{
			Name:        RoleSuperAdmin,
			DisplayName: "Super Admin",
			Description: "Platform operator with unrestricted access across tenants",
			System:      true,
			Permissions: []string{"*:*"},
		},
		{
			Name:        RoleAdmin,
			DisplayName: "Tenant Admin",
			Description: "Full access to the tenant's users, roles and audit trail",
			System:      true,
			Permissions: []string{
				"users:*",
				"roles:*",
				"audit:read",
				"audit:export",
			},
		},
		{
			Name:        RoleMember,
			DisplayName: "Member",
			Description: "Regular tenant member",
			System:      true,
			Permissions: []string{
				"users:read",
				"users:update",
			},
		},
		{
			Name:        RoleViewer,
			DisplayName: "Viewer",
			Description: "Read-only access to tenant resources",
			System:      true,
			Permissions: []string{
				"users:read",
				"roles:read",
			},
		},
	}
}

func validatePermissions(perms []string) error {
	for _, s := range perms {
		if _, err := authz.ParsePermission(s); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidPermission, s)
		}
	}
	return nil
}
