package tenancy

import (
	"context"
	"errors"
	"time"
)

// TenantStatus represents the lifecycle state of a tenant.
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
	TenantStatusDeleted   TenantStatus = "deleted"
)

// ErrTenantNotFound is returned when a tenant lookup matches nothing.
var ErrTenantNotFound = errors.New("tenant not found")

// ErrSlugTaken is returned when creating a tenant whose slug is already in use.
var ErrSlugTaken = errors.New("tenant slug already in use")

// Tenant is a root organization record. Other records reference a tenant by
// ID; nothing embeds one. IDs are opaque UUIDs so tenants cannot be
// enumerated by walking a counter.
type Tenant struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Slug        string         `json:"slug"`
	DisplayName string         `json:"display_name,omitempty"`
	Status      TenantStatus   `json:"status"`
	IsActive    bool           `json:"is_active"`
	Settings    map[string]any `json:"settings,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// CreateTenantRequest represents a request to create a tenant
type CreateTenantRequest struct {
	Name        string         `json:"name"`
	Slug        string         `json:"slug,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
	Settings    map[string]any `json:"settings,omitempty"`
}

// UpdateTenantRequest represents a request to update a tenant. Nil fields are
// left unchanged.
type UpdateTenantRequest struct {
	DisplayName *string        `json:"display_name,omitempty"`
	Settings    map[string]any `json:"settings,omitempty"`
}

// ListOptions controls tenant listing.
type ListOptions struct {
	// Status filters by lifecycle state when non-empty.
	Status TenantStatus
	// IncludeInactive includes suspended and deleted tenants.
	IncludeInactive bool
	Limit           int
	Offset          int
}

// Service defines the interface for tenant management
type Service interface {
	CreateTenant(ctx context.Context, tenant *Tenant) error
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error)
	ListTenants(ctx context.Context, opts ListOptions) ([]*Tenant, error)
	UpdateTenant(ctx context.Context, id string, updates *UpdateTenantRequest) error
	SetTenantStatus(ctx context.Context, id string, status TenantStatus) error
	DeleteTenant(ctx context.Context, id string) error
}
