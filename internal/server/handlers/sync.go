package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/practsync/practsync/internal/engine"
	"github.com/practsync/practsync/internal/ledger"
	"github.com/practsync/practsync/internal/models"
	"github.com/practsync/practsync/internal/source"
	"github.com/practsync/practsync/internal/validation"
	"github.com/practsync/practsync/pkg/api"
)

// SyncService is the slice of the engine the handlers need.
type SyncService interface {
	SyncRun(ctx context.Context, provider source.Provider, req engine.RunRequest) (*models.RunSummary, error)
	GetRun(ctx context.Context, runID string) (*models.RunRecord, error)
	LedgerSummary(ctx context.Context) (map[models.SyncStatus]int, error)
}

// SyncHandler exposes the run trigger surface.
type SyncHandler struct {
	logger  *slog.Logger
	service SyncService
	tokens  source.TokenStore
}

// NewSyncHandler creates the trigger handler. tokens backs source clients
// built from request credentials and may be nil.
func NewSyncHandler(logger *slog.Logger, service SyncService, tokens source.TokenStore) *SyncHandler {
	return &SyncHandler{
		logger:  logger,
		service: service,
		tokens:  tokens,
	}
}

// TriggerRun handles POST /api/v1/sync/runs.
// The request selects entity types, carries either inline records or
// source credentials, and may bound appointment fetches by date.
func (h *SyncHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.SyncRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode sync request", "error", err)
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entityTypes, err := validation.ValidateEntityTypes(req.EntityTypes)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	dateRange, err := validation.ValidateDateRange(req.From, req.To)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	provider, err := h.buildProvider(&req)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info("Sync run triggered",
		"entity_types", req.EntityTypes,
		"dry_run", req.DryRun,
		"inline_records", len(req.Records),
	)

	summary, err := h.service.SyncRun(ctx, provider, engine.RunRequest{
		EntityTypes: entityTypes,
		DateRange:   dateRange,
		Mode:        models.ModeAutomated,
		DryRun:      req.DryRun,
	})
	if err != nil {
		if errors.Is(err, engine.ErrRunInProgress) {
			h.writeError(w, http.StatusConflict, engine.ErrRunInProgress.Error())
			return
		}
		h.logger.Error("Sync run failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := api.StatusCompleted
	if summary.Counts.Failed > 0 {
		status = api.StatusCompletedWithErrors
	}

	h.writeJSON(w, http.StatusOK, api.SyncRunResponse{
		Status:  status,
		Summary: toAPISummary(summary),
	})
}

// GetRun handles GET /api/v1/sync/runs/{id}.
func (h *SyncHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		h.writeError(w, http.StatusBadRequest, "missing run id")
		return
	}

	run, err := h.service.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, ledger.ErrRunNotFound) {
			h.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("Failed to load run record", "error", err, "run_id", runID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	entityTypes := make([]string, 0, len(run.EntityTypes))
	for _, t := range run.EntityTypes {
		entityTypes = append(entityTypes, string(t))
	}

	h.writeJSON(w, http.StatusOK, api.RunStatusResponse{
		RunID:       run.RunID,
		Mode:        string(run.Mode),
		Status:      string(run.Status),
		EntityTypes: entityTypes,
		DryRun:      run.DryRun,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Counts: api.Counts{
			Created: run.Counts.Created,
			Updated: run.Counts.Updated,
			Skipped: run.Counts.Skipped,
			Failed:  run.Counts.Failed,
		},
	})
}

// LedgerSummary handles GET /api/v1/ledger/summary.
func (h *SyncHandler) LedgerSummary(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.LedgerSummary(r.Context())
	if err != nil {
		h.logger.Error("Failed to summarize ledger", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := api.LedgerSummaryResponse{Counts: make(map[string]int, len(counts))}
	for status, n := range counts {
		resp.Counts[string(status)] = n
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// buildProvider picks the source of records for this run: inline data or
// a fetch against the source API with the supplied credentials.
func (h *SyncHandler) buildProvider(req *api.SyncRunRequest) (source.Provider, error) {
	switch {
	case len(req.Records) > 0 && req.Source != nil:
		return nil, errors.New("request carries both inline records and source credentials")
	case len(req.Records) > 0:
		records := make([]models.Record, 0, len(req.Records))
		for _, r := range req.Records {
			t := models.EntityType(r.EntityType)
			if !t.Valid() {
				return nil, errors.New("inline record with unknown entity type " + r.EntityType)
			}
			if r.SourceID == "" {
				return nil, errors.New("inline record without source_id")
			}
			records = append(records, models.Record{
				SourceID:   r.SourceID,
				EntityType: t,
				Fields:     r.Fields,
			})
		}
		return source.NewStaticProvider(records), nil
	case req.Source != nil:
		if req.Source.BaseURL == "" {
			return nil, errors.New("source credentials without base_url")
		}
		creds := source.Credentials{
			ClientID:     req.Source.ClientID,
			ClientSecret: req.Source.ClientSecret,
		}
		return source.NewClient(req.Source.BaseURL, creds, h.tokens, h.logger), nil
	default:
		return nil, errors.New("request carries neither inline records nor source credentials")
	}
}

func toAPISummary(summary *models.RunSummary) api.RunSummary {
	results := make([]api.ItemResult, 0, len(summary.Results))
	for _, r := range summary.Results {
		results = append(results, api.ItemResult{
			SourceID:       r.SourceID,
			EntityType:     string(r.EntityType),
			Action:         string(r.Action),
			DestinationRef: r.DestinationRef,
			Error:          r.Error,
		})
	}

	return api.RunSummary{
		RunID:       summary.RunID,
		StartedAt:   summary.StartedAt,
		CompletedAt: summary.CompletedAt,
		Results:     results,
		Counts: api.Counts{
			Created: summary.Counts.Created,
			Updated: summary.Counts.Updated,
			Skipped: summary.Counts.Skipped,
			Failed:  summary.Counts.Failed,
		},
	}
}

func (h *SyncHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *SyncHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, api.ErrorResponse{Error: message})
}
