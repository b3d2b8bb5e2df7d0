package tenancy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresService implements the Service interface using PostgreSQL
type PostgresService struct {
	db *sql.DB
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

// CreateTenant creates a new tenant. The ID is generated server-side and the
// slug is derived from the name when not provided.
func (s *PostgresService) CreateTenant(ctx context.Context, tenant *Tenant) error {
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}
	if tenant.Slug == "" {
		tenant.Slug = GenerateSlug(tenant.Name)
	}
	if tenant.Status == "" {
		tenant.Status = TenantStatusActive
	}
	tenant.IsActive = tenant.Status == TenantStatusActive

	settingsJSON, err := json.Marshal(tenant.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
		INSERT INTO tenants (id, name, slug, display_name, status, is_active, settings)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query, tenant.ID, tenant.Name, tenant.Slug,
		tenant.DisplayName, tenant.Status, tenant.IsActive, settingsJSON).
		Scan(&tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("%w: %s", ErrSlugTaken, tenant.Slug)
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	return nil
}

// GetTenant retrieves a tenant by ID
func (s *PostgresService) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	query := `
		SELECT id, name, slug, display_name, status, is_active, settings, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`
	return s.scanTenant(s.db.QueryRowContext(ctx, query, id))
}

// GetTenantBySlug retrieves a tenant by its unique slug
func (s *PostgresService) GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	query := `
		SELECT id, name, slug, display_name, status, is_active, settings, created_at, updated_at
		FROM tenants
		WHERE slug = $1
	`
	return s.scanTenant(s.db.QueryRowContext(ctx, query, slug))
}

func (s *PostgresService) scanTenant(row *sql.Row) (*Tenant, error) {
	tenant := &Tenant{}
	var settingsJSON []byte
	err := row.Scan(
		&tenant.ID, &tenant.Name, &tenant.Slug, &tenant.DisplayName,
		&tenant.Status, &tenant.IsActive, &settingsJSON,
		&tenant.CreatedAt, &tenant.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &tenant.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}

	return tenant, nil
}

// ListTenants lists tenants ordered by creation time, newest first
func (s *PostgresService) ListTenants(ctx context.Context, opts ListOptions) ([]*Tenant, error) {
	conditions := []string{}
	args := []interface{}{}
	argPos := 1

	if opts.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, opts.Status)
		argPos++
	} else if !opts.IncludeInactive {
		conditions = append(conditions, "is_active = true")
	}

	query := `
		SELECT id, name, slug, display_name, status, is_active, settings, created_at, updated_at
		FROM tenants
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, opts.Limit)
		argPos++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		tenant := &Tenant{}
		var settingsJSON []byte
		if err := rows.Scan(
			&tenant.ID, &tenant.Name, &tenant.Slug, &tenant.DisplayName,
			&tenant.Status, &tenant.IsActive, &settingsJSON,
			&tenant.CreatedAt, &tenant.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		if len(settingsJSON) > 0 {
			if err := json.Unmarshal(settingsJSON, &tenant.Settings); err != nil {
				return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
			}
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}

	return tenants, nil
}

// UpdateTenant updates mutable tenant fields. Nil request fields are left
// unchanged; slug and status are managed through their own operations.
func (s *PostgresService) UpdateTenant(ctx context.Context, id string, updates *UpdateTenantRequest) error {
	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	if updates.DisplayName != nil {
		setClauses = append(setClauses, fmt.Sprintf("display_name = $%d", argPos))
		args = append(args, *updates.DisplayName)
		argPos++
	}
	if updates.Settings != nil {
		settingsJSON, err := json.Marshal(updates.Settings)
		if err != nil {
			return fmt.Errorf("failed to marshal settings: %w", err)
		}
		setClauses = append(setClauses, fmt.Sprintf("settings = $%d", argPos))
		args = append(args, settingsJSON)
		argPos++
	}

	if len(setClauses) == 0 {
		return nil // Nothing to update
	}
	setClauses = append(setClauses, "updated_at = NOW()")

	args = append(args, id)
	query := fmt.Sprintf("UPDATE tenants SET %s WHERE id = $%d", strings.Join(setClauses, ", "), argPos)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrTenantNotFound
	}

	return nil
}

// SetTenantStatus moves a tenant through its lifecycle. The is_active flag
// tracks the status so resolvers can filter on a single column.
func (s *PostgresService) SetTenantStatus(ctx context.Context, id string, status TenantStatus) error {
	switch status {
	case TenantStatusActive, TenantStatusSuspended, TenantStatusDeleted:
	default:
		return fmt.Errorf("invalid tenant status: %s", status)
	}

	query := `UPDATE tenants SET status = $1, is_active = $2, updated_at = NOW() WHERE id = $3`
	result, err := s.db.ExecContext(ctx, query, status, status == TenantStatusActive, id)
	if err != nil {
		return fmt.Errorf("failed to set tenant status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrTenantNotFound
	}

	return nil
}

// DeleteTenant soft deletes a tenant. The row is kept so historical records
// referencing the tenant stay resolvable.
func (s *PostgresService) DeleteTenant(ctx context.Context, id string) error {
	return s.SetTenantStatus(ctx, id, TenantStatusDeleted)
}

// GenerateSlug derives a URL-safe slug from a tenant name.
func GenerateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
	return slug
}
