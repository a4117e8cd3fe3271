package ledger

import (
	"context"

	"github.com/practsync/practsync/internal/models"
)

// EntryStore defines the atomic operations over the ledger entry table.
// The ledger is the single source of truth for "has this record been
// synced, and as what". All writes are synchronous relative to the caller
// so that a crash immediately after a write leaves a queryable state.
type EntryStore interface {
	// Find retrieves the entry for (sourceID, entityType).
	// Returns ErrEntryNotFound if no entry exists.
	Find(ctx context.Context, sourceID string, entityType models.EntityType) (*models.LedgerEntry, error)

	// Upsert inserts or updates the entry keyed on (sourceID, entityType).
	// A previously recorded non-empty destination reference is sticky: an
	// upsert carrying an empty ref must not overwrite it.
	Upsert(ctx context.Context, entry *models.LedgerEntry) error

	// MarkPending records that a delivery attempt for this record is about
	// to start. A crash before the matching terminal write leaves the entry
	// pending, which forces a retry on the next run.
	MarkPending(ctx context.Context, sourceID string, entityType models.EntityType, hash string) error

	// ListByStatus retrieves all entries of one entity type in the given
	// status. Returns an empty slice if none match.
	ListByStatus(ctx context.Context, entityType models.EntityType, status models.SyncStatus) ([]*models.LedgerEntry, error)

	// CountByStatus returns entry counts grouped by sync status across all
	// entity types.
	CountByStatus(ctx context.Context) (map[models.SyncStatus]int, error)
}

// RunStore defines the operations over the run record table.
type RunStore interface {
	// CreateRun persists a new run record in running status with empty counts.
	CreateRun(ctx context.Context, runID string, mode models.RunMode, dryRun bool) error

	// CompleteRun finalizes a run exactly once with its selected entity
	// types, final counts and terminal status.
	// Returns ErrRunNotFound if the run was never created.
	CompleteRun(ctx context.Context, runID string, entityTypes []models.EntityType, counts models.Counts, status models.RunStatus) error

	// GetRun retrieves one run record by ID.
	// Returns ErrRunNotFound if no run exists.
	GetRun(ctx context.Context, runID string) (*models.RunRecord, error)
}

// Store combines both tables behind one handle. The sqlite implementation
// is the only production backend; tests substitute in-memory fakes.
type Store interface {
	EntryStore
	RunStore
}
