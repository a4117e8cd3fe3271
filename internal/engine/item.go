package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/practsync/practsync/internal/dest"
	"github.com/practsync/practsync/internal/fingerprint"
	"github.com/practsync/practsync/internal/ledger"
	"github.com/practsync/practsync/internal/models"
)

// processItem delivers one record. The returned error is run-level only:
// ledger write failures (the engine cannot proceed blind) and destination
// session loss. Everything else, including adapter rejections and panics
// escaping the adapter, becomes a failed ItemResult and the run goes on.
func (o *Orchestrator) processItem(ctx context.Context, session dest.Session, item queueItem, logger *slog.Logger) (models.ItemResult, error) {
	record := item.record

	hash, err := fingerprint.Record(record)
	if err != nil {
		// Unhashable payloads cannot be tracked; fail the item, keep going.
		return o.failItem(ctx, record, "", fmt.Sprintf("failed to fingerprint record: %v", err), logger)
	}

	if item.backfill {
		return o.backfillReference(ctx, session, record, hash, logger)
	}

	if o.store != nil {
		if err := o.store.MarkPending(ctx, record.SourceID, record.EntityType, hash); err != nil {
			return models.ItemResult{}, fmt.Errorf("failed to mark %s/%s pending: %w", record.EntityType, record.SourceID, err)
		}
	}

	ref, action, err := o.deliver(ctx, session, record, item.isNew)
	if err != nil {
		if errors.Is(err, dest.ErrSessionLost) {
			// The entry stays pending; the next run retries it.
			return models.ItemResult{}, fmt.Errorf("destination session lost delivering %s/%s: %w", record.EntityType, record.SourceID, err)
		}
		if errors.Is(err, dest.ErrAlreadyExists) {
			return o.skipExisting(ctx, session, record, hash, logger)
		}
		return o.failItem(ctx, record, hash, err.Error(), logger)
	}

	if o.store != nil {
		entry := &models.LedgerEntry{
			SourceID:       record.SourceID,
			EntityType:     record.EntityType,
			DataHash:       hash,
			SyncStatus:     models.StatusSynced,
			DestinationRef: ref,
			LastSyncedAt:   time.Now(),
		}
		if err := o.store.Upsert(ctx, entry); err != nil {
			return models.ItemResult{}, fmt.Errorf("failed to mark %s/%s synced: %w", record.EntityType, record.SourceID, err)
		}
	}

	logger.Debug("Item delivered",
		"source_id", record.SourceID,
		"action", action,
		"destination_ref", ref,
	)

	return models.ItemResult{
		SourceID:       record.SourceID,
		EntityType:     record.EntityType,
		Action:         action,
		DestinationRef: ref,
	}, nil
}

// deliver invokes the destination operation appropriate for the item.
// New records are created. Changed records are updated against their
// known destination reference; when no reference is on record, the
// destination is searched first and the record created if absent.
// Panics escaping the adapter are converted into errors at this boundary:
// the destination drives a remote interactive session and is expected to
// misbehave.
func (o *Orchestrator) deliver(ctx context.Context, session dest.Session, record models.Record, isNew bool) (ref string, action models.ItemAction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("destination adapter panic: %v", r)
		}
	}()

	if isNew {
		ref, err = session.Create(ctx, record)
		return ref, models.ActionCreated, err
	}

	ref = o.knownReference(ctx, record)
	if ref == "" {
		ref, err = session.SearchByIdentity(ctx, record.EntityType, record.Fields)
		if err != nil {
			return "", models.ActionUpdated, err
		}
	}

	if ref == "" {
		// Previously synced but unlocatable downstream; recreate.
		ref, err = session.Create(ctx, record)
		return ref, models.ActionCreated, err
	}

	if err := session.Update(ctx, record, ref); err != nil {
		return "", models.ActionUpdated, err
	}
	return ref, models.ActionUpdated, nil
}

// knownReference reads the destination reference already on ledger, if any.
func (o *Orchestrator) knownReference(ctx context.Context, record models.Record) string {
	if o.store == nil {
		return ""
	}
	entry, err := o.store.Find(ctx, record.SourceID, record.EntityType)
	if err != nil {
		if !errors.Is(err, ledger.ErrEntryNotFound) {
			o.logger.Warn("Failed to read ledger entry for reference",
				"source_id", record.SourceID, "error", err)
		}
		return ""
	}
	return entry.DestinationRef
}

// skipExisting records a destination-side duplicate as skipped. The
// stored hash is updated to the current content so a future genuine
// change is still detected. A best-effort identity search backfills the
// reference when the destination can report one.
func (o *Orchestrator) skipExisting(ctx context.Context, session dest.Session, record models.Record, hash string, logger *slog.Logger) (models.ItemResult, error) {
	ref, err := session.SearchByIdentity(ctx, record.EntityType, record.Fields)
	if err != nil {
		if errors.Is(err, dest.ErrSessionLost) {
			return models.ItemResult{}, fmt.Errorf("destination session lost searching %s/%s: %w", record.EntityType, record.SourceID, err)
		}
		logger.Warn("Reference lookup after duplicate failed",
			"source_id", record.SourceID, "error", err)
		ref = ""
	}

	if o.store != nil {
		entry := &models.LedgerEntry{
			SourceID:       record.SourceID,
			EntityType:     record.EntityType,
			DataHash:       hash,
			SyncStatus:     models.StatusSynced,
			DestinationRef: ref,
			LastSyncedAt:   time.Now(),
		}
		if err := o.store.Upsert(ctx, entry); err != nil {
			return models.ItemResult{}, fmt.Errorf("failed to mark %s/%s skipped: %w", record.EntityType, record.SourceID, err)
		}
	}

	logger.Debug("Item already exists downstream, skipped",
		"source_id", record.SourceID, "destination_ref", ref)

	return models.ItemResult{
		SourceID:       record.SourceID,
		EntityType:     record.EntityType,
		Action:         models.ActionSkipped,
		DestinationRef: ref,
	}, nil
}

// backfillReference resolves a missing destination reference for an
// otherwise unchanged record via identity search. No match is not an
// error: the record stays synced without a reference, exactly as before.
func (o *Orchestrator) backfillReference(ctx context.Context, session dest.Session, record models.Record, hash string, logger *slog.Logger) (models.ItemResult, error) {
	ref, err := session.SearchByIdentity(ctx, record.EntityType, record.Fields)
	if err != nil {
		if errors.Is(err, dest.ErrSessionLost) {
			return models.ItemResult{}, fmt.Errorf("destination session lost searching %s/%s: %w", record.EntityType, record.SourceID, err)
		}
		return o.failItem(ctx, record, hash, fmt.Sprintf("reference backfill search failed: %v", err), logger)
	}

	if ref != "" && o.store != nil {
		entry := &models.LedgerEntry{
			SourceID:       record.SourceID,
			EntityType:     record.EntityType,
			DataHash:       hash,
			SyncStatus:     models.StatusSynced,
			DestinationRef: ref,
			LastSyncedAt:   time.Now(),
		}
		if err := o.store.Upsert(ctx, entry); err != nil {
			return models.ItemResult{}, fmt.Errorf("failed to backfill reference for %s/%s: %w", record.EntityType, record.SourceID, err)
		}
	}

	logger.Debug("Reference backfill processed",
		"source_id", record.SourceID, "destination_ref", ref)

	return models.ItemResult{
		SourceID:       record.SourceID,
		EntityType:     record.EntityType,
		Action:         models.ActionSkipped,
		DestinationRef: ref,
	}, nil
}

// failItem records an item-level failure and keeps the run going.
func (o *Orchestrator) failItem(ctx context.Context, record models.Record, hash string, message string, logger *slog.Logger) (models.ItemResult, error) {
	if o.store != nil {
		if hash == "" {
			// Unhashable payload: keep the hash already on record so the
			// entry's last delivered content is not erased.
			if existing, err := o.store.Find(ctx, record.SourceID, record.EntityType); err == nil {
				hash = existing.DataHash
			}
		}
		entry := &models.LedgerEntry{
			SourceID:     record.SourceID,
			EntityType:   record.EntityType,
			DataHash:     hash,
			SyncStatus:   models.StatusFailed,
			ErrorMessage: message,
		}
		if err := o.store.Upsert(ctx, entry); err != nil {
			return models.ItemResult{}, fmt.Errorf("failed to mark %s/%s failed: %w", record.EntityType, record.SourceID, err)
		}
	}

	logger.Warn("Item delivery failed",
		"source_id", record.SourceID, "error", message)

	return models.ItemResult{
		SourceID:   record.SourceID,
		EntityType: record.EntityType,
		Action:     models.ActionFailed,
		Error:      message,
	}, nil
}
