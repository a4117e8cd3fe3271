// Package engine drives one synchronization run to completion.
//
// The orchestrator is a state machine over a run (initializing, running,
// completed or failed) and over each item within it (queued, pending,
// then synced, failed or skipped). Items are delivered strictly
// sequentially against one exclusive destination session; a single item's
// failure never aborts the run, while run-level failures (session loss,
// ledger write errors) do.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/practsync/practsync/internal/dest"
	"github.com/practsync/practsync/internal/ledger"
	"github.com/practsync/practsync/internal/models"
)

// Options configure one run.
type Options struct {
	Mode   models.RunMode
	DryRun bool
}

// Orchestrator delivers change sets to the destination and records every
// outcome in the ledger. A nil store runs the engine ledgerless: outcomes
// are still collected in memory but nothing is persisted.
type Orchestrator struct {
	store     ledger.Store
	connector dest.Connector
	logger    *slog.Logger
}

// New creates an orchestrator.
func New(store ledger.Store, connector dest.Connector, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		connector: connector,
		logger:    logger,
	}
}

// Run processes the given change sets and returns the run summary.
//
// Entity types are processed in dependency order (clients before
// appointments and notes) regardless of the order of sets. Within a type,
// new items are delivered before changed ones; unchanged client records
// whose ledger entry lacks a destination reference are re-processed to
// backfill the reference.
//
// On a run-level failure the run record is still finalized as failed and
// the error is returned; partial per-item outcomes stay in the ledger.
func (o *Orchestrator) Run(ctx context.Context, sets []*models.ChangeSet, opts Options) (*models.RunSummary, error) {
	runID := uuid.New().String()
	startedAt := time.Now()

	logger := o.logger.With("run_id", runID)
	logger.Info("Starting sync run", "mode", opts.Mode, "dry_run", opts.DryRun)

	entityTypes := make([]models.EntityType, 0, len(sets))
	for _, set := range sets {
		entityTypes = append(entityTypes, set.EntityType)
	}

	if o.store != nil {
		if err := o.store.CreateRun(ctx, runID, opts.Mode, opts.DryRun); err != nil {
			return nil, fmt.Errorf("failed to create run record: %w", err)
		}
	}

	// Dry runs have no observable side effect beyond the run record:
	// no destination session, no ledger entry writes, zero counts.
	if opts.DryRun {
		if err := o.finalize(ctx, runID, entityTypes, models.Counts{}, models.RunCompleted); err != nil {
			return nil, err
		}
		logger.Info("Dry run completed")
		return &models.RunSummary{
			RunID:       runID,
			StartedAt:   startedAt,
			CompletedAt: time.Now(),
			Results:     []models.ItemResult{},
		}, nil
	}

	session, err := o.connector.Connect(ctx)
	if err != nil {
		// No session, no run. Finalize and propagate.
		if ferr := o.finalize(ctx, runID, entityTypes, models.Counts{}, models.RunFailed); ferr != nil {
			logger.Error("Failed to finalize aborted run", "error", ferr)
		}
		return nil, fmt.Errorf("failed to acquire destination session: %w", err)
	}
	defer func() {
		if cerr := session.Close(ctx); cerr != nil {
			logger.Warn("Failed to close destination session", "error", cerr)
		}
	}()

	var results []models.ItemResult
	var runErr error

processing:
	for _, set := range orderSets(sets) {
		setLogger := logger.With("entity_type", set.EntityType)
		setLogger.Info("Processing change set",
			"new", len(set.New),
			"changed", len(set.Changed),
			"unchanged", len(set.Unchanged),
		)

		for _, item := range o.queueItems(ctx, set) {
			result, err := o.processItem(ctx, session, item, setLogger)
			if err != nil {
				runErr = err
				break processing
			}
			results = append(results, result)
		}
	}

	counts := models.CountResults(results)
	status := models.RunCompleted
	if runErr != nil {
		status = models.RunFailed
	}

	if err := o.finalize(ctx, runID, entityTypes, counts, status); err != nil {
		if runErr == nil {
			return nil, err
		}
		logger.Error("Failed to finalize failed run", "error", err)
	}

	if runErr != nil {
		logger.Error("Sync run failed", "error", runErr, "processed", len(results))
		return nil, fmt.Errorf("sync run %s failed: %w", runID, runErr)
	}

	logger.Info("Sync run completed",
		"created", counts.Created,
		"updated", counts.Updated,
		"skipped", counts.Skipped,
		"failed", counts.Failed,
	)

	return &models.RunSummary{
		RunID:       runID,
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
		Results:     results,
		Counts:      counts,
	}, nil
}

// finalize writes the run's terminal state exactly once.
func (o *Orchestrator) finalize(ctx context.Context, runID string, entityTypes []models.EntityType, counts models.Counts, status models.RunStatus) error {
	if o.store == nil {
		return nil
	}
	if err := o.store.CompleteRun(ctx, runID, entityTypes, counts, status); err != nil {
		return fmt.Errorf("failed to finalize run record: %w", err)
	}
	return nil
}

// orderSets arranges change sets in dependency order: clients first, so
// that notes and appointments can resolve their owning client's
// destination reference from the ledger.
func orderSets(sets []*models.ChangeSet) []*models.ChangeSet {
	ordered := make([]*models.ChangeSet, 0, len(sets))
	for _, want := range models.AllEntityTypes() {
		for _, set := range sets {
			if set.EntityType == want {
				ordered = append(ordered, set)
			}
		}
	}
	return ordered
}

// queueItem is one record scheduled for delivery.
type queueItem struct {
	record   models.Record
	isNew    bool
	backfill bool
}

// queueItems selects and orders a change set's deliverable items: new,
// then changed. For clients it additionally queues unchanged records
// whose ledger entry lacks a destination reference, so that references
// established by out-of-band destination lookups get backfilled.
func (o *Orchestrator) queueItems(ctx context.Context, set *models.ChangeSet) []queueItem {
	items := make([]queueItem, 0, len(set.New)+len(set.Changed))
	for _, r := range set.New {
		items = append(items, queueItem{record: r, isNew: true})
	}
	for _, r := range set.Changed {
		items = append(items, queueItem{record: r})
	}

	if o.store == nil || set.EntityType != models.EntityClient {
		return items
	}

	for _, r := range set.Unchanged {
		entry, err := o.store.Find(ctx, r.SourceID, set.EntityType)
		if err != nil {
			o.logger.Warn("Failed to check unchanged entry for backfill",
				"source_id", r.SourceID, "error", err)
			continue
		}
		if entry.DestinationRef == "" {
			items = append(items, queueItem{record: r, backfill: true})
		}
	}

	return items
}
