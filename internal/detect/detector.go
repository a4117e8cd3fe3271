// Package detect classifies freshly fetched records against the ledger.
package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/practsync/practsync/internal/fingerprint"
	"github.com/practsync/practsync/internal/ledger"
	"github.com/practsync/practsync/internal/models"
)

// EntryFinder is the read-only slice of the ledger the detector needs.
type EntryFinder interface {
	Find(ctx context.Context, sourceID string, entityType models.EntityType) (*models.LedgerEntry, error)
}

// Detector partitions records into new/changed/unchanged. It reads the
// ledger but never writes it.
type Detector struct {
	entries EntryFinder
	logger  *slog.Logger
}

// New creates a change detector backed by the given ledger reader.
func New(entries EntryFinder, logger *slog.Logger) *Detector {
	return &Detector{
		entries: entries,
		logger:  logger,
	}
}

// Detect classifies each record, in order:
//  1. no ledger entry        -> new
//  2. entry still pending    -> changed (previous attempt's outcome unknown)
//  3. hash differs           -> changed
//  4. entry failed           -> changed (re-triggering is the retry path)
//  5. otherwise              -> unchanged
//
// An unchanged record whose entry lacks a destination reference is still
// reported unchanged; deciding to re-process it for reference backfill is
// the orchestrator's policy, not classification.
func (d *Detector) Detect(ctx context.Context, records []models.Record, entityType models.EntityType) (*models.ChangeSet, error) {
	set := &models.ChangeSet{EntityType: entityType}

	for _, record := range records {
		hash, err := fingerprint.Record(record)
		if err != nil {
			return nil, fmt.Errorf("failed to fingerprint record %s: %w", record.SourceID, err)
		}

		entry, err := d.entries.Find(ctx, record.SourceID, entityType)
		if err != nil {
			if errors.Is(err, ledger.ErrEntryNotFound) {
				set.New = append(set.New, record)
				continue
			}
			return nil, fmt.Errorf("failed to look up ledger entry for %s: %w", record.SourceID, err)
		}

		switch {
		case entry.SyncStatus == models.StatusPending:
			// Interrupted run: always retry, even on a hash match.
			set.Changed = append(set.Changed, record)
		case entry.DataHash != hash:
			set.Changed = append(set.Changed, record)
		case entry.SyncStatus != models.StatusSynced:
			// A failed entry is only unchanged once a later delivery
			// succeeds; until then every run retries it.
			set.Changed = append(set.Changed, record)
		default:
			set.Unchanged = append(set.Unchanged, record)
		}
	}

	d.logger.Debug("Change detection completed",
		"entity_type", entityType,
		"new", len(set.New),
		"changed", len(set.Changed),
		"unchanged", len(set.Unchanged),
	)

	return set, nil
}
