package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/practsync/practsync/internal/dest"
	"github.com/practsync/practsync/internal/detect"
	"github.com/practsync/practsync/internal/ledger"
	"github.com/practsync/practsync/internal/models"
	"github.com/practsync/practsync/internal/source"
)

// ErrRunInProgress signals that another run holds the engine. The ledger
// is single-writer and the destination session is exclusive, so runs are
// serialized; a second trigger is rejected, never queued.
var ErrRunInProgress = errors.New("a sync run is already in progress")

// RunRequest describes one requested run.
type RunRequest struct {
	EntityTypes []models.EntityType
	DateRange   models.DateRange
	Mode        models.RunMode
	DryRun      bool
}

// Service wires the full pipeline: source fetch, change detection, then
// orchestration. One Service guards one ledger; concurrent SyncRun calls
// beyond the first fail with ErrRunInProgress.
type Service struct {
	store        ledger.Store
	detector     *detect.Detector
	orchestrator *Orchestrator
	logger       *slog.Logger
	running      atomic.Bool
}

// NewService creates the sync pipeline over one ledger store and one
// destination connector.
func NewService(store ledger.Store, connector dest.Connector, logger *slog.Logger) *Service {
	return &Service{
		store:        store,
		detector:     detect.New(store, logger),
		orchestrator: New(store, connector, logger),
		logger:       logger,
	}
}

// SyncRun executes one run end to end: fetch the current source state,
// classify it against the ledger, deliver the change sets. The source
// phase completes entirely before any destination work begins.
func (s *Service) SyncRun(ctx context.Context, provider source.Provider, req RunRequest) (*models.RunSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)

	entityTypes := req.EntityTypes
	if len(entityTypes) == 0 {
		entityTypes = models.AllEntityTypes()
	}

	records, err := provider.FetchAll(ctx, source.FetchOptions{
		EntityTypes: entityTypes,
		DateRange:   req.DateRange,
	})
	if err != nil {
		return nil, fmt.Errorf("source fetch failed: %w", err)
	}

	sets := make([]*models.ChangeSet, 0, len(entityTypes))
	for _, entityType := range entityTypes {
		set, err := s.detector.Detect(ctx, records.ByType(entityType), entityType)
		if err != nil {
			return nil, fmt.Errorf("change detection failed for %s: %w", entityType, err)
		}
		sets = append(sets, set)
	}

	return s.orchestrator.Run(ctx, sets, Options{
		Mode:   req.Mode,
		DryRun: req.DryRun,
	})
}

// GetRun reads back a persisted run record.
func (s *Service) GetRun(ctx context.Context, runID string) (*models.RunRecord, error) {
	return s.store.GetRun(ctx, runID)
}

// LedgerSummary returns ledger entry counts grouped by sync status.
func (s *Service) LedgerSummary(ctx context.Context) (map[models.SyncStatus]int, error) {
	return s.store.CountByStatus(ctx)
}
