package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Security events. These are recorded unconditionally, regardless of
	// whether the operation that triggered them asked for auditing.
	EventTypeTenantMismatch EventType = "security.tenant_mismatch"
	EventTypeScopeViolation EventType = "security.scope_violation"
	EventTypeScopeEscape    EventType = "security.scope_escape"

	// Access decision events
	EventTypeAccessGranted EventType = "access.granted"
	EventTypeAccessDenied  EventType = "access.denied"

	// Credential events
	EventTypeCredentialInvalid EventType = "auth.credential_invalid"

	// Tenant lifecycle events
	EventTypeTenantCreate       EventType = "tenant.create"
	EventTypeTenantUpdate       EventType = "tenant.update"
	EventTypeTenantStatusChange EventType = "tenant.status_change"
	EventTypeTenantDelete       EventType = "tenant.delete"

	// Role management events
	EventTypeRoleCreate EventType = "role.create"
	EventTypeRoleUpdate EventType = "role.update"
	EventTypeRoleDelete EventType = "role.delete"
	EventTypeRoleBind   EventType = "role.bind"
	EventTypeRoleUnbind EventType = "role.unbind"

	// Tenant-scoped data events
	EventTypeUserCreate EventType = "user.create"
	EventTypeUserUpdate EventType = "user.update"
	EventTypeUserDelete EventType = "user.delete"

	// Audit administration events
	EventTypeAuditExport  EventType = "audit.export"
	EventTypeAuditArchive EventType = "audit.archive"
	EventTypeAuditPurge   EventType = "audit.purge"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource an event touches
type ResourceType string

const (
	ResourceTypeTenant      ResourceType = "tenant"
	ResourceTypeUser        ResourceType = "user"
	ResourceTypeRole        ResourceType = "role"
	ResourceTypeRoleBinding ResourceType = "role_binding"
	ResourceTypeRoute       ResourceType = "route"
	ResourceTypeRecord      ResourceType = "record"
	ResourceTypeAuditLog    ResourceType = "audit_log"
)

// Event represents a single audit trail entry. Events are immutable once
// written; corrections are new events, never updates.
type Event struct {
	// Core fields
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information
	ActorID    string   `json:"actor_id,omitempty"`
	ActorRoles []string `json:"actor_roles,omitempty"`
	TenantID   string   `json:"tenant_id,omitempty"`

	// Resource information
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	// Additional details
	Message      string         `json:"message,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`

	// Changes tracking (before/after for updates)
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]any `json:"before,omitempty"`
	After  map[string]any `json:"after,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return &event, err
}

// SearchFilter represents filters for searching audit events
type SearchFilter struct {
	// Time range
	StartTime *time.Time
	EndTime   *time.Time

	// Actor filters
	ActorID  string
	TenantID string

	// Event filters
	EventTypes []EventType
	Status     *EventStatus

	// Resource filters
	ResourceType ResourceType
	ResourceID   string

	// Request context filters
	IPAddress string
	RequestID string

	// Pagination
	Limit  int
	Offset int

	// Sorting
	SortBy    string // field name to sort by
	SortOrder string // "asc" or "desc"
}

// ExportFormat represents the format for exporting audit events
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)

// Stats represents aggregate statistics over the audit trail
type Stats struct {
	TotalEvents      int64                 `json:"total_events"`
	EventsByType     map[EventType]int64   `json:"events_by_type"`
	EventsByStatus   map[EventStatus]int64 `json:"events_by_status"`
	EventsByTenant   map[string]int64      `json:"events_by_tenant"`
	UniqueActors     int64                 `json:"unique_actors"`
	UniqueIPs        int64                 `json:"unique_ips"`
	AccessDenials    int64                 `json:"access_denials"`
	TenantMismatches int64                 `json:"tenant_mismatches"`
	ScopeViolations  int64                 `json:"scope_violations"`
	TimeRange        *TimeRange            `json:"time_range,omitempty"`
}

// TimeRange is the observed time span of a set of events
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
