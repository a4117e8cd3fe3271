package ledger

import "errors"

// Common ledger errors
var (
	// ErrEntryNotFound indicates that no ledger entry exists for the
	// requested (sourceId, entityType) pair
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrRunNotFound indicates that no run record exists for the given run ID
	ErrRunNotFound = errors.New("run not found")
)
