package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/practsync/practsync/internal/models"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) CountByStatus(context.Context) (map[models.SyncStatus]int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return map[models.SyncStatus]int{}, nil
}

func TestHealth_OK(t *testing.T) {
	h := NewHealthHandler(slog.New(slog.DiscardHandler), &fakePinger{})

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHealth_DegradedWhenLedgerUnavailable(t *testing.T) {
	h := NewHealthHandler(slog.New(slog.DiscardHandler), &fakePinger{err: errors.New("disk gone")})

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"degraded"}`, w.Body.String())
}
