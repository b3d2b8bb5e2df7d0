package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bulkheadio/bulkhead/pkg/observability"
)

// Migration is one versioned schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all RBAC migrations in order. The statements
// avoid dialect-specific features so the same schema runs on Postgres
// and on the in-memory SQLite used by the test helpers.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					tenant_id TEXT NOT NULL DEFAULT '',
					name TEXT NOT NULL,
					display_name TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					permissions TEXT NOT NULL DEFAULT '[]',
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					PRIMARY KEY (tenant_id, name)
				);

				CREATE INDEX IF NOT EXISTS idx_roles_tenant_id ON roles(tenant_id);
				CREATE INDEX IF NOT EXISTS idx_roles_is_system ON roles(is_system);
			`,
		},
		{
			Version:     2,
			Description: "Create role_bindings table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_bindings (
					tenant_id TEXT NOT NULL,
					principal_id TEXT NOT NULL,
					role_name TEXT NOT NULL,
					granted_by TEXT NOT NULL DEFAULT '',
					granted_at TIMESTAMP NOT NULL,
					expires_at TIMESTAMP,
					PRIMARY KEY (tenant_id, principal_id, role_name)
				);

				CREATE INDEX IF NOT EXISTS idx_role_bindings_principal ON role_bindings(tenant_id, principal_id);
				CREATE INDEX IF NOT EXISTS idx_role_bindings_role ON role_bindings(tenant_id, role_name);
				CREATE INDEX IF NOT EXISTS idx_role_bindings_expires_at ON role_bindings(expires_at);
			`,
		},
	}
}

// RunMigrations executes all pending migrations. Each migration runs in
// its own transaction and is recorded in rbac_migrations, so reruns are
// no-ops.
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rbac_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM rbac_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO rbac_migrations (version, description, applied_at) VALUES ($1, $2, $3)",
			migration.Version, migration.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		if logger != nil {
			logger.WithFields(map[string]interface{}{
				"version":     migration.Version,
				"description": migration.Description,
			}).Info("applied rbac migration")
		}
	}

	return nil
}

// InitializeBuiltInRoles creates the system roles that do not exist yet.
// Existing rows are left untouched, so redefinitions in a new release
// only apply to fresh databases.
func InitializeBuiltInRoles(ctx context.Context, store *Store, logger *observability.Logger) error {
	for _, role := range BuiltInRoles() {
		_, err := store.getRoleExact(ctx, "", role.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrRoleNotFound) {
			return fmt.Errorf("failed to check built-in role %s: %w", role.Name, err)
		}

		role := role
		if err := store.CreateRole(ctx, &role); err != nil {
			return fmt.Errorf("failed to create built-in role %s: %w", role.Name, err)
		}
		if logger != nil {
			logger.WithField("role", role.Name).Info("created built-in role")
		}
	}
	return nil
}
