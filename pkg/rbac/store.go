package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Store persists roles and role bindings. Placeholders are written in
// strict ascending order and timestamps are passed as arguments, which
// keeps every query runnable on both Postgres and SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a role store on an existing database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateRole creates a role. A role with TenantID set is a tenant
// custom role; an empty TenantID makes a system role.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	if role.Name == "" {
		return fmt.Errorf("role name is required")
	}
	if err := validatePermissions(role.Permissions); err != nil {
		return err
	}
	if role.Permissions == nil {
		role.Permissions = []string{}
	}

	if _, err := s.getRoleExact(ctx, role.TenantID, role.Name); err == nil {
		return fmt.Errorf("%w: %s", ErrRoleExists, role.Name)
	} else if !errors.Is(err, ErrRoleNotFound) {
		return err
	}

	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO roles (tenant_id, name, display_name, description, permissions, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(ctx, query,
		role.TenantID, role.Name, role.DisplayName, role.Description,
		string(permissionsJSON), role.System, now, now,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("%w: %s", ErrRoleExists, role.Name)
		}
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole resolves a role name within a tenant. A tenant custom role
// wins over a system role of the same name; system roles resolve in
// every tenant.
func (s *Store) GetRole(ctx context.Context, tenantID, name string) (*Role, error) {
	query := `
		SELECT tenant_id, name, display_name, description, permissions, is_system, created_at, updated_at
		FROM roles
		WHERE name = $1 AND (tenant_id = $2 OR tenant_id = '')
		ORDER BY tenant_id DESC
		LIMIT 1
	`
	return s.scanRole(s.db.QueryRowContext(ctx, query, name, tenantID))
}

// getRoleExact fetches the role row keyed by exactly (tenantID, name),
// without the system-role fallback. Mutations go through it so a tenant
// operation can never touch a system row by accident.
func (s *Store) getRoleExact(ctx context.Context, tenantID, name string) (*Role, error) {
	query := `
		SELECT tenant_id, name, display_name, description, permissions, is_system, created_at, updated_at
		FROM roles
		WHERE tenant_id = $1 AND name = $2
	`
	return s.scanRole(s.db.QueryRowContext(ctx, query, tenantID, name))
}

func (s *Store) scanRole(row *sql.Row) (*Role, error) {
	role := &Role{}
	var permissionsJSON string
	err := row.Scan(
		&role.TenantID, &role.Name, &role.DisplayName, &role.Description,
		&permissionsJSON, &role.System, &role.CreatedAt, &role.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	if err := json.Unmarshal([]byte(permissionsJSON), &role.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}
	if role.Permissions == nil {
		role.Permissions = []string{}
	}
	return role, nil
}

// ListRoles lists the roles visible to a tenant: the system roles plus
// the tenant's custom roles, system roles first.
func (s *Store) ListRoles(ctx context.Context, tenantID string) ([]Role, error) {
	query := `
		SELECT tenant_id, name, display_name, description, permissions, is_system, created_at, updated_at
		FROM roles
		WHERE tenant_id = $1 OR tenant_id = ''
		ORDER BY is_system DESC, name ASC
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role := Role{}
		var permissionsJSON string
		if err := rows.Scan(
			&role.TenantID, &role.Name, &role.DisplayName, &role.Description,
			&permissionsJSON, &role.System, &role.CreatedAt, &role.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		if err := json.Unmarshal([]byte(permissionsJSON), &role.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
		if role.Permissions == nil {
			role.Permissions = []string{}
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// mutableRole fetches the tenant's own row for a mutation. When the
// name only resolves through the system fallback the caller is trying
// to change a built-in, which is reported as ErrSystemRole.
func (s *Store) mutableRole(ctx context.Context, tenantID, name string) (*Role, error) {
	role, err := s.GetRole(ctx, tenantID, name)
	if err != nil {
		return nil, err
	}
	if role.System {
		return nil, fmt.Errorf("%w: %s", ErrSystemRole, name)
	}
	return role, nil
}

// UpdateRole updates a tenant custom role in place. System roles are
// immutable.
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	current, err := s.mutableRole(ctx, role.TenantID, role.Name)
	if err != nil {
		return err
	}
	if err := validatePermissions(role.Permissions); err != nil {
		return err
	}
	if role.Permissions == nil {
		role.Permissions = []string{}
	}

	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	now := time.Now().UTC()
	query := `
		UPDATE roles
		SET display_name = $1, description = $2, permissions = $3, updated_at = $4
		WHERE tenant_id = $5 AND name = $6
	`
	result, err := s.db.ExecContext(ctx, query,
		role.DisplayName, role.Description, string(permissionsJSON), now,
		role.TenantID, role.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrRoleNotFound
	}

	role.System = false
	role.CreatedAt = current.CreatedAt
	role.UpdatedAt = now
	return nil
}

// DeleteRole deletes a tenant custom role and every binding that grants
// it. System roles cannot be deleted.
func (s *Store) DeleteRole(ctx context.Context, tenantID, name string) error {
	if _, err := s.mutableRole(ctx, tenantID, name); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM role_bindings WHERE tenant_id = $1 AND role_name = $2",
		tenantID, name,
	); err != nil {
		return fmt.Errorf("failed to delete role bindings: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM roles WHERE tenant_id = $1 AND name = $2",
		tenantID, name,
	); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}

	return tx.Commit()
}

// BindRole grants a role to a principal within a tenant. The role must
// resolve in the tenant, as a custom role or a system role.
func (s *Store) BindRole(ctx context.Context, binding *RoleBinding) error {
	if binding.TenantID == "" || binding.PrincipalID == "" || binding.RoleName == "" {
		return fmt.Errorf("tenant, principal and role are required")
	}
	if _, err := s.GetRole(ctx, binding.TenantID, binding.RoleName); err != nil {
		return err
	}

	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM role_bindings WHERE tenant_id = $1 AND principal_id = $2 AND role_name = $3",
		binding.TenantID, binding.PrincipalID, binding.RoleName,
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to check binding: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %s holds %s", ErrBindingExists, binding.PrincipalID, binding.RoleName)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO role_bindings (tenant_id, principal_id, role_name, granted_by, granted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.db.ExecContext(ctx, query,
		binding.TenantID, binding.PrincipalID, binding.RoleName,
		binding.GrantedBy, now, binding.ExpiresAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("%w: %s holds %s", ErrBindingExists, binding.PrincipalID, binding.RoleName)
		}
		return fmt.Errorf("failed to bind role: %w", err)
	}

	binding.GrantedAt = now
	return nil
}

// UnbindRole revokes a role from a principal.
func (s *Store) UnbindRole(ctx context.Context, tenantID, principalID, roleName string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM role_bindings WHERE tenant_id = $1 AND principal_id = $2 AND role_name = $3",
		tenantID, principalID, roleName,
	)
	if err != nil {
		return fmt.Errorf("failed to unbind role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrBindingNotFound
	}
	return nil
}

// ListBindings lists a tenant's role bindings, newest grant first.
// Expired bindings are filtered out unless the options say otherwise.
func (s *Store) ListBindings(ctx context.Context, tenantID string, opts BindingListOptions) ([]RoleBinding, error) {
	conditions := []string{}
	args := []interface{}{}
	argPos := 1

	conditions = append(conditions, fmt.Sprintf("tenant_id = $%d", argPos))
	args = append(args, tenantID)
	argPos++

	if opts.PrincipalID != "" {
		conditions = append(conditions, fmt.Sprintf("principal_id = $%d", argPos))
		args = append(args, opts.PrincipalID)
		argPos++
	}
	if opts.RoleName != "" {
		conditions = append(conditions, fmt.Sprintf("role_name = $%d", argPos))
		args = append(args, opts.RoleName)
		argPos++
	}
	if !opts.IncludeExpired {
		conditions = append(conditions, fmt.Sprintf("(expires_at IS NULL OR expires_at > $%d)", argPos))
		args = append(args, time.Now().UTC())
	}

	query := `
		SELECT tenant_id, principal_id, role_name, granted_by, granted_at, expires_at
		FROM role_bindings
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY granted_at DESC, role_name ASC
	`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bindings: %w", err)
	}
	defer rows.Close()

	var bindings []RoleBinding
	for rows.Next() {
		b := RoleBinding{}
		var expiresAt sql.NullTime
		if err := rows.Scan(
			&b.TenantID, &b.PrincipalID, &b.RoleName,
			&b.GrantedBy, &b.GrantedAt, &expiresAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan binding: %w", err)
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			b.ExpiresAt = &t
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}
