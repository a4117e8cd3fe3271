package models

import "time"

// SyncStatus is the terminal-or-interrupted state of one ledger entry.
type SyncStatus string

const (
	// StatusPending is written immediately before a delivery attempt.
	// An entry still pending on the next run is evidence of a crash and
	// is always retried regardless of hash match.
	StatusPending SyncStatus = "pending"
	StatusSynced  SyncStatus = "synced"
	StatusFailed  SyncStatus = "failed"
)

// LedgerEntry is one row of the durable sync ledger, keyed on
// (SourceID, EntityType). It records what content was last pushed to the
// destination and with what outcome.
type LedgerEntry struct {
	LastSyncedAt   time.Time  `json:"last_synced_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	SourceID       string     `json:"source_id"`
	EntityType     EntityType `json:"entity_type"`
	DataHash       string     `json:"data_hash"`
	SyncStatus     SyncStatus `json:"sync_status"`
	DestinationRef string     `json:"destination_ref,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
}

// ChangeSet partitions one entity type's freshly fetched records against
// the ledger. The three lists are disjoint. Change sets are transient:
// recomputed every run, never persisted.
type ChangeSet struct {
	EntityType EntityType
	New        []Record
	Changed    []Record
	Unchanged  []Record
}

// Total returns the number of records across all three partitions.
func (c ChangeSet) Total() int {
	return len(c.New) + len(c.Changed) + len(c.Unchanged)
}
