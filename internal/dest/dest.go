// Package dest defines the capability interface for the destination
// practice-management system.
//
// The implementation behind it drives a remote interactive session and is
// expected to be brittle and slow; the engine only depends on this
// contract and treats every failure as item-local unless the session
// itself is gone.
package dest

import (
	"context"
	"errors"

	"github.com/practsync/practsync/internal/models"
)

// Common destination errors
var (
	// ErrAlreadyExists signals that the destination reports the record as
	// already present. The orchestrator records such items as skipped.
	ErrAlreadyExists = errors.New("record already exists in destination")

	// ErrNotSupported signals that the destination does not implement the
	// requested operation for this entity type. Create-only destinations
	// are valid; the item fails without aborting the run.
	ErrNotSupported = errors.New("operation not supported by destination")

	// ErrSessionLost signals that the interactive session is gone.
	// Unlike item-level errors this aborts the remainder of the run.
	ErrSessionLost = errors.New("destination session lost")
)

// Session is one exclusive interactive session against the destination.
// It is a single shared mutable resource: operations for one run are
// issued strictly sequentially and never overlap.
type Session interface {
	// SearchByIdentity looks the record up by its identity fields.
	// Returns the destination reference, or "" when no match exists.
	SearchByIdentity(ctx context.Context, entityType models.EntityType, fields map[string]any) (string, error)

	// Create adds the record to the destination and returns the reference
	// the destination assigned, which may be empty for destinations that
	// cannot report one. Returns ErrAlreadyExists if the destination
	// detects a duplicate.
	Create(ctx context.Context, record models.Record) (string, error)

	// Update overwrites the destination record identified by ref.
	// Returns ErrNotSupported for entity types the destination can only
	// create.
	Update(ctx context.Context, record models.Record, ref string) error

	// Close releases the session. Safe to call after a session loss.
	Close(ctx context.Context) error
}

// Connector acquires a destination session. Acquisition failure is fatal
// to a run; the orchestrator finalizes as failed without touching items.
type Connector interface {
	Connect(ctx context.Context) (Session, error)
}
