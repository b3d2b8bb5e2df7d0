package users

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bulkheadio/bulkhead/pkg/contextkeys"
	"github.com/bulkheadio/bulkhead/pkg/gateway"
)

const userColumns = "id, tenant_id, email, display_name, roles, version, created_at, updated_at"

// Service provides user CRUD for the current tenant. It holds no tenant
// state of its own; every operation is scoped by the gateway from the
// caller's context.
type Service struct {
	gw *gateway.Gateway
}

// NewService creates a user service over the gateway.
func NewService(gw *gateway.Gateway) *Service {
	return &Service{gw: gw}
}

// CreateUser creates a user in the context tenant.
func (s *Service) CreateUser(ctx context.Context, req *CreateUserRequest) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	roles := req.Roles
	if roles == nil {
		roles = []string{}
	}
	rolesJSON, err := json.Marshal(roles)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal roles: %w", err)
	}

	now := time.Now().UTC()
	user := &User{
		ID:          uuid.NewString(),
		Email:       email,
		DisplayName: req.DisplayName,
		Roles:       roles,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if tenantID, ok := contextkeys.TenantID(ctx); ok {
		user.TenantID = tenantID
	}

	fields := gateway.Fields{}
	fields.Set("id", user.ID).
		Set("email", user.Email).
		Set("display_name", user.DisplayName).
		Set("roles", rolesJSON).
		Set("created_at", user.CreatedAt).
		Set("updated_at", user.UpdatedAt)

	if err := s.gw.Insert(ctx, User{}, fields); err != nil {
		if errors.Is(err, gateway.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return user, nil
}

// GetUser returns one user by id.
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return s.getBy(ctx, gateway.Eq("id", id))
}

// GetUserByEmail returns one user by email.
func (s *Service) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getBy(ctx, gateway.Eq("email", strings.ToLower(strings.TrimSpace(email))))
}

func (s *Service) getBy(ctx context.Context, cond gateway.Cond) (*User, error) {
	var user User
	err := s.gw.Get(ctx, User{}, gateway.SelectOp{
		Columns: strings.Split(userColumns, ", "),
		Where:   []gateway.Cond{cond},
	}, func(row *sql.Row) error {
		return scanUserRow(row, &user)
	})
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// ListUsers returns the tenant's users, newest first.
func (s *Service) ListUsers(ctx context.Context, opts ListOptions) ([]*User, error) {
	if opts.Limit <= 0 || opts.Limit > 500 {
		opts.Limit = 100
	}

	users := []*User{}
	err := s.gw.Select(ctx, User{}, gateway.SelectOp{
		Columns: strings.Split(userColumns, ", "),
		OrderBy: "created_at DESC",
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}, func(rows *sql.Rows) error {
		var user User
		if err := scanUserRows(rows, &user); err != nil {
			return err
		}
		users = append(users, &user)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// CountUsers returns the tenant's visible user count.
func (s *Service) CountUsers(ctx context.Context) (int64, error) {
	return s.gw.Count(ctx, User{}, nil)
}

// UpdateUser applies the non-nil fields of req to the user. The update
// is guarded by req.Version; a stale version returns
// gateway.ErrOptimisticConflict and changes nothing.
func (s *Service) UpdateUser(ctx context.Context, id string, req *UpdateUserRequest) (*User, error) {
	set := gateway.Fields{}
	if req.Email != nil {
		set.Set("email", strings.ToLower(strings.TrimSpace(*req.Email)))
	}
	if req.DisplayName != nil {
		set.Set("display_name", *req.DisplayName)
	}
	if req.Roles != nil {
		rolesJSON, err := json.Marshal(*req.Roles)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal roles: %w", err)
		}
		set.Set("roles", rolesJSON)
	}
	if len(set.Columns) == 0 {
		return s.GetUser(ctx, id)
	}
	set.Set("updated_at", time.Now().UTC())

	err := s.gw.Update(ctx, User{}, gateway.UpdateOp{
		Set:     set,
		Where:   []gateway.Cond{gateway.Eq("id", id)},
		Version: req.Version,
	})
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		if errors.Is(err, gateway.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return s.GetUser(ctx, id)
}

// DeleteUser soft-deletes the user. Deleting an already-deleted or
// unknown user returns ErrUserNotFound.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	err := s.gw.Delete(ctx, User{}, gateway.DeleteOp{Where: []gateway.Cond{gateway.Eq("id", id)}})
	if errors.Is(err, gateway.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}

func scanUserRow(row *sql.Row, user *User) error {
	var rolesJSON []byte
	if err := row.Scan(&user.ID, &user.TenantID, &user.Email, &user.DisplayName,
		&rolesJSON, &user.Version, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return err
	}
	return unmarshalRoles(rolesJSON, user)
}

func scanUserRows(rows *sql.Rows, user *User) error {
	var rolesJSON []byte
	if err := rows.Scan(&user.ID, &user.TenantID, &user.Email, &user.DisplayName,
		&rolesJSON, &user.Version, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return err
	}
	return unmarshalRoles(rolesJSON, user)
}

func unmarshalRoles(rolesJSON []byte, user *User) error {
	user.Roles = []string{}
	if len(rolesJSON) == 0 {
		return nil
	}
	if err := json.Unmarshal(rolesJSON, &user.Roles); err != nil {
		return fmt.Errorf("failed to unmarshal roles for user %s: %w", user.ID, err)
	}
	return nil
}
