// Package users manages the user records of a tenant. It is the
// canonical tenant-owned record type: every read and write goes through
// the gateway, which scopes it to the context tenant, soft-deletes it,
// and guards updates with a version counter.
package users

import (
	"errors"
	"time"

	"github.com/bulkheadio/bulkhead/pkg/gateway"
)

var (
	// ErrUserNotFound means no visible user matched within the tenant.
	ErrUserNotFound = errors.New("user not found")

	// ErrEmailTaken means the email is already used within the tenant.
	ErrEmailTaken = errors.New("email already in use")
)

// User is a member of a tenant.
type User struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	Roles       []string   `json:"roles"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// Entity maps users onto their table.
func (User) Entity() gateway.Entity {
	return gateway.Entity{
		Name:       "user",
		Table:      "users",
		SoftDelete: true,
		Versioned:  true,
	}
}

// TenantOwned opts users into gateway scoping.
func (User) TenantOwned() {}

// CreateUserRequest is the payload for creating a user.
type CreateUserRequest struct {
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles,omitempty"`
}

// UpdateUserRequest is the payload for updating a user. Nil fields are
// left unchanged; Version must echo the version the caller read.
type UpdateUserRequest struct {
	Email       *string   `json:"email,omitempty"`
	DisplayName *string   `json:"display_name,omitempty"`
	Roles       *[]string `json:"roles,omitempty"`
	Version     int64     `json:"version"`
}

// ListOptions controls user listing.
type ListOptions struct {
	Limit  int
	Offset int
}
