package audit

import (
	"context"
	"errors"
	"time"
)

// ErrEventNotFound is returned when an event id does not exist.
var ErrEventNotFound = errors.New("audit event not found")

// Store is the query side of the audit trail: search, retrieval,
// aggregation, export, and retention pruning. Writes go through Logger.
type Store interface {
	// Search returns events matching the filter.
	Search(ctx context.Context, filter SearchFilter) ([]*Event, error)

	// Get retrieves a single event by id.
	Get(ctx context.Context, id int64) (*Event, error)

	// GetStats aggregates the trail, scoped to a tenant when tenantID is
	// non-empty.
	GetStats(ctx context.Context, tenantID string, startTime, endTime *time.Time) (*Stats, error)

	// Export encodes matching events in the requested format.
	Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error)

	// Cleanup deletes events older than the cutoff, returning the count.
	Cleanup(ctx context.Context, olderThan time.Time) (int64, error)
}

// DBStore implements Store over the PostgreSQL logger.
type DBStore struct {
	logger *DBLogger
}

var _ Store = (*DBStore)(nil)

// NewDBStore creates a database-backed audit store.
func NewDBStore(logger *DBLogger) *DBStore {
	return &DBStore{
		logger: logger,
	}
}

// Search returns events matching the filter.
func (s *DBStore) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	return s.logger.Search(ctx, filter)
}

// Get retrieves a single event by id.
func (s *DBStore) Get(ctx context.Context, id int64) (*Event, error) {
	return s.logger.GetByID(ctx, id)
}

// GetStats aggregates the trail.
func (s *DBStore) GetStats(ctx context.Context, tenantID string, startTime, endTime *time.Time) (*Stats, error) {
	return s.logger.GetStats(ctx, tenantID, startTime, endTime)
}

// Export encodes matching events in the requested format. Unknown formats
// fall back to JSON.
func (s *DBStore) Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error) {
	events, err := s.logger.Search(ctx, filter)
	if err != nil {
		return nil, err
	}

	switch format {
	case ExportFormatCSV:
		return exportCSV(events)
	case ExportFormatNDJSON:
		return exportNDJSON(events)
	default:
		return exportJSON(events)
	}
}

// Cleanup deletes events older than the cutoff.
func (s *DBStore) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	return s.logger.Cleanup(ctx, olderThan)
}
