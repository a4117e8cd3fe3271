package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/practsync/practsync/internal/ledger"
	"github.com/practsync/practsync/internal/models"
)

// Find retrieves the entry for (sourceID, entityType).
// Returns ledger.ErrEntryNotFound if no entry exists.
func (s *Storage) Find(ctx context.Context, sourceID string, entityType models.EntityType) (*models.LedgerEntry, error) {
	query := `
		SELECT source_id, entity_type, data_hash, sync_status,
		       destination_ref, error_message,
		       last_synced_at, created_at, updated_at
		FROM ledger_entries
		WHERE source_id = ? AND entity_type = ?
	`

	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, sourceID, entityType))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}

	return entry, nil
}

// Upsert inserts or updates the entry keyed on (source_id, entity_type).
// A non-empty destination reference already on record is sticky: an upsert
// carrying an empty one keeps the stored value.
func (s *Storage) Upsert(ctx context.Context, entry *models.LedgerEntry) error {
	now := time.Now()

	existing, err := s.Find(ctx, entry.SourceID, entry.EntityType)
	if err != nil && !errors.Is(err, ledger.ErrEntryNotFound) {
		return fmt.Errorf("failed to check existing entry: %w", err)
	}

	if existing != nil {
		ref := entry.DestinationRef
		if ref == "" {
			ref = existing.DestinationRef
		}

		query := `
			UPDATE ledger_entries
			SET data_hash = ?, sync_status = ?, destination_ref = ?,
			    error_message = ?, last_synced_at = ?, updated_at = ?
			WHERE source_id = ? AND entity_type = ?
		`

		_, err := s.db.ExecContext(ctx, query,
			entry.DataHash,
			entry.SyncStatus,
			nullString(ref),
			nullString(entry.ErrorMessage),
			nullUnix(entry.LastSyncedAt),
			now.Unix(),
			entry.SourceID,
			entry.EntityType,
		)
		if err != nil {
			return fmt.Errorf("failed to update ledger entry: %w", err)
		}

		return nil
	}

	query := `
		INSERT INTO ledger_entries (
			source_id, entity_type, data_hash, sync_status,
			destination_ref, error_message,
			last_synced_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		entry.SourceID,
		entry.EntityType,
		entry.DataHash,
		entry.SyncStatus,
		nullString(entry.DestinationRef),
		nullString(entry.ErrorMessage),
		nullUnix(entry.LastSyncedAt),
		now.Unix(),
		now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	return nil
}

// MarkPending flips the entry to pending with the hash about to be
// delivered, creating the entry if this is its first attempt. A crash
// after this write leaves durable evidence that forces a retry.
func (s *Storage) MarkPending(ctx context.Context, sourceID string, entityType models.EntityType, hash string) error {
	existing, err := s.Find(ctx, sourceID, entityType)
	if err != nil && !errors.Is(err, ledger.ErrEntryNotFound) {
		return fmt.Errorf("failed to check existing entry: %w", err)
	}

	entry := &models.LedgerEntry{
		SourceID:   sourceID,
		EntityType: entityType,
		DataHash:   hash,
		SyncStatus: models.StatusPending,
	}
	if existing != nil {
		entry.DestinationRef = existing.DestinationRef
		entry.LastSyncedAt = existing.LastSyncedAt
	}

	return s.Upsert(ctx, entry)
}

// ListByStatus retrieves all entries of one entity type in the given status.
func (s *Storage) ListByStatus(ctx context.Context, entityType models.EntityType, status models.SyncStatus) (entries []*models.LedgerEntry, err error) {
	query := `
		SELECT source_id, entity_type, data_hash, sync_status,
		       destination_ref, error_message,
		       last_synced_at, created_at, updated_at
		FROM ledger_entries
		WHERE entity_type = ? AND sync_status = ?
		ORDER BY updated_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, entityType, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close rows: %w", cerr)
		}
	}()

	for rows.Next() {
		entry, scanErr := scanEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", scanErr)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return entries, nil
}

// CountByStatus returns entry counts grouped by sync status.
func (s *Storage) CountByStatus(ctx context.Context) (counts map[models.SyncStatus]int, err error) {
	query := `
		SELECT sync_status, COUNT(*)
		FROM ledger_entries
		GROUP BY sync_status
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count ledger entries: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close rows: %w", cerr)
		}
	}()

	counts = make(map[models.SyncStatus]int)
	for rows.Next() {
		var status models.SyncStatus
		var count int
		if scanErr := rows.Scan(&status, &count); scanErr != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", scanErr)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return counts, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanEntry.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.LedgerEntry, error) {
	entry := &models.LedgerEntry{}
	var destinationRef, errorMessage sql.NullString
	var lastSyncedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&entry.SourceID,
		&entry.EntityType,
		&entry.DataHash,
		&entry.SyncStatus,
		&destinationRef,
		&errorMessage,
		&lastSyncedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.DestinationRef = destinationRef.String
	entry.ErrorMessage = errorMessage.String
	if lastSyncedAt.Valid {
		entry.LastSyncedAt = unixToTime(lastSyncedAt.Int64)
	}
	entry.CreatedAt = unixToTime(createdAt)
	entry.UpdatedAt = unixToTime(updatedAt)

	return entry, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
