package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/practsync/practsync/internal/models"
)

// LedgerPinger verifies that the ledger is reachable.
type LedgerPinger interface {
	CountByStatus(ctx context.Context) (map[models.SyncStatus]int, error)
}

// HealthHandler answers liveness probes.
type HealthHandler struct {
	logger *slog.Logger
	ledger LedgerPinger
}

// NewHealthHandler creates the health handler. ledger may be nil to skip
// the store check.
func NewHealthHandler(logger *slog.Logger, ledger LedgerPinger) *HealthHandler {
	return &HealthHandler{
		logger: logger,
		ledger: ledger,
	}
}

// HealthResponse is the health check reply.
type HealthResponse struct {
	Status string `json:"status"`
}

// Health handles GET /health. Reports degraded when the ledger cannot be
// queried; the process itself is still up.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	if h.ledger != nil {
		if _, err := h.ledger.CountByStatus(r.Context()); err != nil {
			h.logger.Error("Ledger health check failed", "error", err)
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(HealthResponse{Status: status}); err != nil {
		h.logger.Error("Failed to encode health response", "error", err)
	}
}
