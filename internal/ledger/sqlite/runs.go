package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/practsync/practsync/internal/ledger"
	"github.com/practsync/practsync/internal/models"
)

// CreateRun persists a new run record in running status with empty counts.
func (s *Storage) CreateRun(ctx context.Context, runID string, mode models.RunMode, dryRun bool) error {
	query := `
		INSERT INTO sync_runs (run_id, mode, dry_run, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		runID,
		mode,
		boolToInt(dryRun),
		models.RunRunning,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run record: %w", err)
	}

	return nil
}

// CompleteRun finalizes a run with its entity types, counts and terminal
// status. Returns ledger.ErrRunNotFound if the run was never created.
func (s *Storage) CompleteRun(ctx context.Context, runID string, entityTypes []models.EntityType, counts models.Counts, status models.RunStatus) error {
	query := `
		UPDATE sync_runs
		SET entity_types = ?, created_count = ?, updated_count = ?,
		    skipped_count = ?, failed_count = ?, status = ?, completed_at = ?
		WHERE run_id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		joinEntityTypes(entityTypes),
		counts.Created,
		counts.Updated,
		counts.Skipped,
		counts.Failed,
		status,
		time.Now().Unix(),
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ledger.ErrRunNotFound
	}

	return nil
}

// GetRun retrieves one run record by ID.
// Returns ledger.ErrRunNotFound if no run exists.
func (s *Storage) GetRun(ctx context.Context, runID string) (*models.RunRecord, error) {
	query := `
		SELECT run_id, mode, dry_run, entity_types,
		       created_count, updated_count, skipped_count, failed_count,
		       status, started_at, completed_at
		FROM sync_runs
		WHERE run_id = ?
	`

	run := &models.RunRecord{}
	var dryRun int
	var entityTypes string
	var startedAt int64
	var completedAt sql.NullInt64

	err := s.db.QueryRowContext(ctx, query, runID).Scan(
		&run.RunID,
		&run.Mode,
		&dryRun,
		&entityTypes,
		&run.Counts.Created,
		&run.Counts.Updated,
		&run.Counts.Skipped,
		&run.Counts.Failed,
		&run.Status,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run record: %w", err)
	}

	run.DryRun = intToBool(dryRun)
	run.EntityTypes = splitEntityTypes(entityTypes)
	run.StartedAt = unixToTime(startedAt)
	if completedAt.Valid {
		t := unixToTime(completedAt.Int64)
		run.CompletedAt = &t
	}

	return run, nil
}

// Entity type lists are stored comma-joined; the enum values never
// contain commas.
func joinEntityTypes(types []models.EntityType) string {
	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, string(t))
	}
	return strings.Join(parts, ",")
}

func splitEntityTypes(s string) []models.EntityType {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	types := make([]models.EntityType, 0, len(parts))
	for _, p := range parts {
		types = append(types, models.EntityType(p))
	}
	return types
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}
