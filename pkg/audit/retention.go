package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/bulkheadio/bulkhead/pkg/observability"
)

// RetentionPolicy bounds how long audit events stay in the primary store.
type RetentionPolicy struct {
	// RetentionDays keeps events younger than this many days.
	RetentionDays int

	// ArchiveEnabled exports expiring events to object storage before
	// they are deleted.
	ArchiveEnabled bool

	// BatchSize bounds how many events go into one archive object
	// (default 1000).
	BatchSize int
}

// SweepResult reports what a retention sweep did.
type SweepResult struct {
	Archived    int64     `json:"archived"`
	ArchiveKeys []string  `json:"archive_keys,omitempty"`
	Deleted     int64     `json:"deleted"`
	Cutoff      time.Time `json:"cutoff"`
}

// Retainer applies a RetentionPolicy against a Store, archiving expiring
// events first when so configured. An archive failure aborts the sweep
// before anything is deleted; the trail is only ever pruned after its
// copy is known to exist.
type Retainer struct {
	store    Store
	archiver EventArchiver
	emitter  *Emitter
	logger   *observability.Logger
}

// NewRetainer creates a retention sweeper. The archiver may be nil when
// archiving is disabled.
func NewRetainer(store Store, archiver EventArchiver, emitter *Emitter, logger *observability.Logger) *Retainer {
	if emitter == nil {
		emitter = NewEmitter(NopLogger{}, 0, nil, nil)
	}
	return &Retainer{
		store:    store,
		archiver: archiver,
		emitter:  emitter,
		logger:   logger,
	}
}

// Sweep archives and then deletes events older than the policy allows.
// The sweep itself leaves audit.archive and audit.purge events behind, so
// a pruned trail still records that pruning happened.
func (r *Retainer) Sweep(ctx context.Context, policy RetentionPolicy) (*SweepResult, error) {
	if policy.RetentionDays <= 0 {
		return nil, fmt.Errorf("retention days must be positive")
	}

	batchSize := policy.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -policy.RetentionDays)
	result := &SweepResult{Cutoff: cutoff}

	if policy.ArchiveEnabled && r.archiver != nil {
		// Ascending id ordering keeps offsets stable across batches;
		// nothing is deleted until every batch is uploaded.
		offset := 0
		for {
			events, err := r.store.Search(ctx, SearchFilter{
				EndTime:   &cutoff,
				Limit:     batchSize,
				Offset:    offset,
				SortBy:    "id",
				SortOrder: "asc",
			})
			if err != nil {
				return nil, fmt.Errorf("failed to collect expiring events: %w", err)
			}
			if len(events) == 0 {
				break
			}

			key, err := r.archiver.Archive(ctx, events)
			if err != nil {
				return nil, fmt.Errorf("failed to archive expiring events: %w", err)
			}

			result.Archived += int64(len(events))
			result.ArchiveKeys = append(result.ArchiveKeys, key)

			if len(events) < batchSize {
				break
			}
			offset += batchSize
		}

		if result.Archived > 0 {
			event := NewEvent(ctx, EventTypeAuditArchive, EventStatusSuccess)
			event.ResourceType = ResourceTypeAuditLog
			event.Message = "expiring audit events archived"
			event.Metadata = map[string]any{
				"archived": result.Archived,
				"keys":     result.ArchiveKeys,
				"cutoff":   cutoff.Format(time.RFC3339),
			}
			r.emitter.Emit(ctx, event)
		}
	}

	deleted, err := r.store.Cleanup(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to prune audit events: %w", err)
	}
	result.Deleted = deleted

	if deleted > 0 {
		event := NewEvent(ctx, EventTypeAuditPurge, EventStatusSuccess)
		event.ResourceType = ResourceTypeAuditLog
		event.Message = "expired audit events pruned"
		event.Metadata = map[string]any{
			"deleted": deleted,
			"cutoff":  cutoff.Format(time.RFC3339),
		}
		r.emitter.Emit(ctx, event)
	}

	if r.logger != nil {
		r.logger.WithFields(map[string]interface{}{
			"archived": result.Archived,
			"deleted":  result.Deleted,
			"cutoff":   cutoff.Format(time.RFC3339),
		}).Info("audit retention sweep complete")
	}

	return result, nil
}
