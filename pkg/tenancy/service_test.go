package tenancy

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

func tenantColumns() []string {
	return []string{"id", "name", "slug", "display_name", "status", "is_active", "settings", "created_at", "updated_at"}
}

func TestGenerateSlug(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "simple name",
			input:    "Acme",
			expected: "acme",
		},
		{
			name:     "name with spaces",
			input:    "Acme Corp",
			expected: "acme-corp",
		},
		{
			name:     "name with hyphens and digits",
			input:    "Acme-Corp-42",
			expected: "acme-corp-42",
		},
		{
			name:     "name with invalid chars",
			input:    "Acme@Corp!",
			expected: "acmecorp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GenerateSlug(tt.input))
		})
	}
}

func TestCreateTenant(t *testing.T) {
	t.Run("generates id and slug", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		now := time.Now()
		mock.ExpectQuery("INSERT INTO tenants").
			WithArgs(sqlmock.AnyArg(), "Acme Corp", "acme-corp", "", TenantStatusActive, true, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

		service := NewPostgresService(db)
		tenant := &Tenant{Name: "Acme Corp"}
		err := service.CreateTenant(context.Background(), tenant)
		require.NoError(t, err)

		assert.NotEmpty(t, tenant.ID)
		assert.Equal(t, "acme-corp", tenant.Slug)
		assert.Equal(t, TenantStatusActive, tenant.Status)
		assert.True(t, tenant.IsActive)
		assert.Equal(t, now, tenant.CreatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("keeps provided slug", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		now := time.Now()
		mock.ExpectQuery("INSERT INTO tenants").
			WithArgs(sqlmock.AnyArg(), "Acme Corp", "custom-slug", "", TenantStatusActive, true, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

		service := NewPostgresService(db)
		tenant := &Tenant{Name: "Acme Corp", Slug: "custom-slug"}
		err := service.CreateTenant(context.Background(), tenant)
		require.NoError(t, err)
		assert.Equal(t, "custom-slug", tenant.Slug)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate slug", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("INSERT INTO tenants").
			WillReturnError(&pq.Error{Code: "23505"})

		service := NewPostgresService(db)
		err := service.CreateTenant(context.Background(), &Tenant{Name: "Acme"})
		assert.ErrorIs(t, err, ErrSlugTaken)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("INSERT INTO tenants").
			WillReturnError(errors.New("connection refused"))

		service := NewPostgresService(db)
		err := service.CreateTenant(context.Background(), &Tenant{Name: "Acme"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create tenant")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetTenant(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		now := time.Now()
		mock.ExpectQuery("FROM tenants").
			WithArgs("tid-1").
			WillReturnRows(sqlmock.NewRows(tenantColumns()).
				AddRow("tid-1", "Acme", "acme", "Acme Corp", "active", true, []byte(`{"theme":"dark"}`), now, now))

		service := NewPostgresService(db)
		tenant, err := service.GetTenant(context.Background(), "tid-1")
		require.NoError(t, err)
		assert.Equal(t, "tid-1", tenant.ID)
		assert.Equal(t, "acme", tenant.Slug)
		assert.Equal(t, TenantStatusActive, tenant.Status)
		assert.Equal(t, "dark", tenant.Settings["theme"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("FROM tenants").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		service := NewPostgresService(db)
		tenant, err := service.GetTenant(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrTenantNotFound)
		assert.Nil(t, tenant)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetTenantBySlug(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		now := time.Now()
		mock.ExpectQuery("WHERE slug").
			WithArgs("acme").
			WillReturnRows(sqlmock.NewRows(tenantColumns()).
				AddRow("tid-1", "Acme", "acme", "", "active", true, nil, now, now))

		service := NewPostgresService(db)
		tenant, err := service.GetTenantBySlug(context.Background(), "acme")
		require.NoError(t, err)
		assert.Equal(t, "tid-1", tenant.ID)
		assert.Nil(t, tenant.Settings)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("WHERE slug").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		service := NewPostgresService(db)
		_, err := service.GetTenantBySlug(context.Background(), "ghost")
		assert.ErrorIs(t, err, ErrTenantNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestListTenants(t *testing.T) {
	t.Run("active only by default", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		now := time.Now()
		mock.ExpectQuery("is_active = true").
			WillReturnRows(sqlmock.NewRows(tenantColumns()).
				AddRow("tid-1", "Acme", "acme", "", "active", true, nil, now, now).
				AddRow("tid-2", "Globex", "globex", "", "active", true, nil, now, now))

		service := NewPostgresService(db)
		tenants, err := service.ListTenants(context.Background(), ListOptions{})
		require.NoError(t, err)
		require.Len(t, tenants, 2)
		assert.Equal(t, "acme", tenants[0].Slug)
		assert.Equal(t, "globex", tenants[1].Slug)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("status filter", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		now := time.Now()
		mock.ExpectQuery("status = ").
			WithArgs(TenantStatusSuspended).
			WillReturnRows(sqlmock.NewRows(tenantColumns()).
				AddRow("tid-3", "Initech", "initech", "", "suspended", false, nil, now, now))

		service := NewPostgresService(db)
		tenants, err := service.ListTenants(context.Background(), ListOptions{Status: TenantStatusSuspended})
		require.NoError(t, err)
		require.Len(t, tenants, 1)
		assert.Equal(t, TenantStatusSuspended, tenants[0].Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("limit and offset", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("LIMIT").
			WithArgs(10, 20).
			WillReturnRows(sqlmock.NewRows(tenantColumns()))

		service := NewPostgresService(db)
		tenants, err := service.ListTenants(context.Background(), ListOptions{Limit: 10, Offset: 20})
		require.NoError(t, err)
		assert.Empty(t, tenants)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUpdateTenant(t *testing.T) {
	t.Run("display name", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("UPDATE tenants SET").
			WithArgs("New Name", "tid-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		service := NewPostgresService(db)
		name := "New Name"
		err := service.UpdateTenant(context.Background(), "tid-1", &UpdateTenantRequest{DisplayName: &name})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nothing to update", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		service := NewPostgresService(db)
		err := service.UpdateTenant(context.Background(), "tid-1", &UpdateTenantRequest{})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("UPDATE tenants SET").
			WillReturnResult(sqlmock.NewResult(0, 0))

		service := NewPostgresService(db)
		name := "New Name"
		err := service.UpdateTenant(context.Background(), "missing", &UpdateTenantRequest{DisplayName: &name})
		assert.ErrorIs(t, err, ErrTenantNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSetTenantStatus(t *testing.T) {
	t.Run("suspend", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("UPDATE tenants SET status").
			WithArgs(TenantStatusSuspended, false, "tid-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		service := NewPostgresService(db)
		err := service.SetTenantStatus(context.Background(), "tid-1", TenantStatusSuspended)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reactivate", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("UPDATE tenants SET status").
			WithArgs(TenantStatusActive, true, "tid-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		service := NewPostgresService(db)
		err := service.SetTenantStatus(context.Background(), "tid-1", TenantStatusActive)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid status", func(t *testing.T) {
		db, _ := setupMockDB(t)
		defer db.Close()

		service := NewPostgresService(db)
		err := service.SetTenantStatus(context.Background(), "tid-1", TenantStatus("frozen"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid tenant status")
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("UPDATE tenants SET status").
			WillReturnResult(sqlmock.NewResult(0, 0))

		service := NewPostgresService(db)
		err := service.SetTenantStatus(context.Background(), "missing", TenantStatusDeleted)
		assert.ErrorIs(t, err, ErrTenantNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDeleteTenant(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec("UPDATE tenants SET status").
		WithArgs(TenantStatusDeleted, false, "tid-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	service := NewPostgresService(db)
	err := service.DeleteTenant(context.Background(), "tid-1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
