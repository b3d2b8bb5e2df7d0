package audit

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

// DBLogger writes audit events to PostgreSQL. It is the durable backend
// behind the query store; file and fan-out backends sit beside it.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger and ensures the
// audit_events table exists.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{
		db: db,
	}

	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_events table: %w", err)
	}

	return logger, nil
}

// ensureTable creates the audit_events table if it doesn't exist
func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		actor_id VARCHAR(255),
		actor_roles TEXT[],
		tenant_id VARCHAR(255),
		resource_type VARCHAR(50),
		resource_id VARCHAR(255),
		ip_address VARCHAR(45),
		user_agent TEXT,
		request_id VARCHAR(100),
		method VARCHAR(10),
		path TEXT,
		message TEXT,
		error_message TEXT,
		metadata JSONB,
		changes JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	-- Create indexes for common query patterns
	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_events_tenant_id ON audit_events(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_actor_id ON audit_events(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_resource ON audit_events(resource_type, resource_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_status ON audit_events(status);
	CREATE INDEX IF NOT EXISTS idx_audit_events_request_id ON audit_events(request_id);
	`

	_, err := l.db.Exec(query)
	return err
}

// eventColumns is the scan order shared by every SELECT in this file.
const eventColumns = `
		id, timestamp, event_type, status,
		actor_id, actor_roles, tenant_id,
		resource_type, resource_id,
		ip_address, user_agent, request_id,
		method, path,
		message, error_message, metadata, changes`

// Log inserts an audit event and fills in its assigned id.
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadataJSON, changesJSON []byte
	var err error

	if event.Metadata != nil {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	if event.Changes != nil {
		changesJSON, err = json.Marshal(event.Changes)
		if err != nil {
			return fmt.Errorf("failed to marshal changes: %w", err)
		}
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_events (
			timestamp, event_type, status,
			actor_id, actor_roles, tenant_id,
			resource_type, resource_id,
			ip_address, user_agent, request_id,
			method, path,
			message, error_message, metadata, changes
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8,
			$9, $10, $11,
			$12, $13,
			$14, $15, $16, $17
		) RETURNING id
	`

	err = l.db.QueryRowContext(ctx, query,
		event.Timestamp, event.EventType, event.Status,
		event.ActorID, pq.Array(event.ActorRoles), event.TenantID,
		event.ResourceType, event.ResourceID,
		event.IPAddress, event.UserAgent, event.RequestID,
		event.Method, event.Path,
		event.Message, event.ErrorMessage, metadataJSON, changesJSON,
	).Scan(&event.ID)

	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	return nil
}

// Search returns audit events matching the filter, newest first unless the
// filter says otherwise.
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	query := `SELECT` + eventColumns + `
	FROM audit_events
	WHERE 1=1`

	args := []interface{}{}
	argCount := 1

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}

	if filter.ActorID != "" {
		query += fmt.Sprintf(" AND actor_id = $%d", argCount)
		args = append(args, filter.ActorID)
		argCount++
	}

	if filter.TenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argCount)
		args = append(args, filter.TenantID)
		argCount++
	}

	if len(filter.EventTypes) > 0 {
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argCount)
		eventTypeStrs := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			eventTypeStrs[i] = string(et)
		}
		args = append(args, pq.Array(eventTypeStrs))
		argCount++
	}

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, string(*filter.Status))
		argCount++
	}

	if filter.ResourceType != "" {
		query += fmt.Sprintf(" AND resource_type = $%d", argCount)
		args = append(args, string(filter.ResourceType))
		argCount++
	}

	if filter.ResourceID != "" {
		query += fmt.Sprintf(" AND resource_id = $%d", argCount)
		args = append(args, filter.ResourceID)
		argCount++
	}

	if filter.IPAddress != "" {
		query += fmt.Sprintf(" AND ip_address = $%d", argCount)
		args = append(args, filter.IPAddress)
		argCount++
	}

	if filter.RequestID != "" {
		query += fmt.Sprintf(" AND request_id = $%d", argCount)
		args = append(args, filter.RequestID)
		argCount++
	}

	query += orderClause(filter.SortBy, filter.SortOrder)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}

	return events, nil
}

// sortableColumns maps caller-supplied sort keys onto real columns.
// Anything outside the map falls back to timestamp, so the ORDER BY clause
// never interpolates caller input.
var sortableColumns = map[string]string{
	"id":         "id",
	"timestamp":  "timestamp",
	"event_type": "event_type",
	"status":     "status",
	"tenant_id":  "tenant_id",
	"actor_id":   "actor_id",
}

func orderClause(sortBy, sortOrder string) string {
	column, ok := sortableColumns[sortBy]
	if !ok {
		column = "timestamp"
	}
	order := "DESC"
	if strings.EqualFold(sortOrder, "asc") {
		order = "ASC"
	}
	return fmt.Sprintf(" ORDER BY %s %s", column, order)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*Event, error) {
	event := &Event{}
	var roles pq.StringArray
	var metadataJSON, changesJSON []byte

	err := row.Scan(
		&event.ID, &event.Timestamp, &event.EventType, &event.Status,
		&event.ActorID, &roles, &event.TenantID,
		&event.ResourceType, &event.ResourceID,
		&event.IPAddress, &event.UserAgent, &event.RequestID,
		&event.Method, &event.Path,
		&event.Message, &event.ErrorMessage, &metadataJSON, &changesJSON,
	)
	if err != nil {
		return nil, err
	}

	if len(roles) > 0 {
		event.ActorRoles = []string(roles)
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	if len(changesJSON) > 0 {
		event.Changes = &ChangeDetails{}
		if err := json.Unmarshal(changesJSON, event.Changes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
		}
	}

	return event, nil
}

// GetByID retrieves a single audit event.
func (l *DBLogger) GetByID(ctx context.Context, id int64) (*Event, error) {
	query := `SELECT` + eventColumns + `
	FROM audit_events
	WHERE id = $1`

	event, err := scanEvent(l.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get audit event: %w", err)
	}

	return event, nil
}

// GetStats aggregates the audit trail. An empty tenantID aggregates across
// all tenants; otherwise every count is scoped to that tenant.
func (l *DBLogger) GetStats(ctx context.Context, tenantID string, startTime, endTime *time.Time) (*Stats, error) {
	stats := &Stats{
		EventsByType:   make(map[EventType]int64),
		EventsByStatus: make(map[EventStatus]int64),
		EventsByTenant: make(map[string]int64),
	}

	whereClause := "WHERE 1=1"
	args := []interface{}{}
	argCount := 1

	if tenantID != "" {
		whereClause += fmt.Sprintf(" AND tenant_id = $%d", argCount)
		args = append(args, tenantID)
		argCount++
	}

	if startTime != nil {
		whereClause += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *startTime)
		argCount++
		if stats.TimeRange == nil {
			stats.TimeRange = &TimeRange{}
		}
		stats.TimeRange.Start = *startTime
	}

	if endTime != nil {
		whereClause += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *endTime)
		if stats.TimeRange == nil {
			stats.TimeRange = &TimeRange{}
		}
		stats.TimeRange.End = *endTime
	}

	// Total events
	err := l.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM audit_events %s", whereClause), args...).Scan(&stats.TotalEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to get total events: %w", err)
	}

	// Events by type
	rows, err := l.db.QueryContext(ctx, fmt.Sprintf("SELECT event_type, COUNT(*) FROM audit_events %s GROUP BY event_type", whereClause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events by type: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var eventType EventType
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, err
		}
		stats.EventsByType[eventType] = count
	}

	// Events by status
	rows, err = l.db.QueryContext(ctx, fmt.Sprintf("SELECT status, COUNT(*) FROM audit_events %s GROUP BY status", whereClause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status EventStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.EventsByStatus[status] = count
	}

	// Events by tenant
	rows, err = l.db.QueryContext(ctx, fmt.Sprintf("SELECT tenant_id, COUNT(*) FROM audit_events %s AND tenant_id <> '' GROUP BY tenant_id", whereClause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events by tenant: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tenant string
		var count int64
		if err := rows.Scan(&tenant, &count); err != nil {
			return nil, err
		}
		stats.EventsByTenant[tenant] = count
	}

	// Unique actors
	err = l.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(DISTINCT actor_id) FROM audit_events %s AND actor_id <> ''", whereClause), args...).Scan(&stats.UniqueActors)
	if err != nil {
		return nil, fmt.Errorf("failed to get unique actors: %w", err)
	}

	// Unique IPs
	err = l.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(DISTINCT ip_address) FROM audit_events %s AND ip_address <> ''", whereClause), args...).Scan(&stats.UniqueIPs)
	if err != nil {
		return nil, fmt.Errorf("failed to get unique IPs: %w", err)
	}

	// Access denials
	deniedClause := whereClause + " AND status = 'denied'"
	err = l.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM audit_events %s", deniedClause), args...).Scan(&stats.AccessDenials)
	if err != nil {
		return nil, fmt.Errorf("failed to get access denials: %w", err)
	}

	// Tenant mismatches
	mismatchClause := whereClause + " AND event_type = 'security.tenant_mismatch'"
	err = l.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM audit_events %s", mismatchClause), args...).Scan(&stats.TenantMismatches)
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant mismatches: %w", err)
	}

	// Scope violations, including escape-hatch misuse
	violationClause := whereClause + " AND event_type IN ('security.scope_violation', 'security.scope_escape')"
	err = l.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM audit_events %s", violationClause), args...).Scan(&stats.ScopeViolations)
	if err != nil {
		return nil, fmt.Errorf("failed to get scope violations: %w", err)
	}

	return stats, nil
}

// Cleanup deletes events older than the cutoff and reports how many rows
// went away.
func (l *DBLogger) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, "DELETE FROM audit_events WHERE timestamp < $1", olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit events: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	return rowsAffected, nil
}

// Close is a no-op; the connection pool is owned by the caller.
func (l *DBLogger) Close() error {
	return nil
}
