package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practsync/practsync/internal/ledger/sqlite"
	"github.com/practsync/practsync/internal/models"
	"github.com/practsync/practsync/internal/source"
)

func setupService(t *testing.T) (*sqlite.Storage, *fakeSession, *fakeConnector, *Service) {
	t.Helper()

	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	session := &fakeSession{}
	connector := &fakeConnector{session: session}
	service := NewService(store, connector, slog.New(slog.DiscardHandler))
	return store, session, connector, service
}

func TestSyncRun_Idempotence(t *testing.T) {
	ctx := context.Background()
	store, _, _, service := setupService(t)

	records := []models.Record{
		clientRecord("c-1", "Ada"),
		clientRecord("c-2", "Eva"),
	}
	provider := source.NewStaticProvider(records)
	req := RunRequest{Mode: models.ModeAutomated}

	first, err := service.SyncRun(ctx, provider, req)
	require.NoError(t, err)
	assert.Equal(t, models.Counts{Created: 2}, first.Counts)

	// Same data, intact ledger: nothing is re-pushed.
	second, err := service.SyncRun(ctx, provider, req)
	require.NoError(t, err)
	assert.Equal(t, models.Counts{}, second.Counts)
	assert.Empty(t, second.Results)

	entry, err := store.Find(ctx, "c-1", models.EntityClient)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, entry.SyncStatus)
}

func TestSyncRun_ContentChangeTriggersUpdate(t *testing.T) {
	ctx := context.Background()
	_, session, _, service := setupService(t)

	first, err := service.SyncRun(ctx,
		source.NewStaticProvider([]models.Record{clientRecord("c-1", "Ada")}),
		RunRequest{Mode: models.ModeAutomated})
	require.NoError(t, err)
	require.Equal(t, models.Counts{Created: 1}, first.Counts)

	session.calls = nil

	second, err := service.SyncRun(ctx,
		source.NewStaticProvider([]models.Record{clientRecord("c-1", "Ada Maria")}),
		RunRequest{Mode: models.ModeAutomated})
	require.NoError(t, err)
	assert.Equal(t, models.Counts{Updated: 1}, second.Counts)
	assert.Equal(t, []string{"update client/c-1"}, session.calls)
}

func TestSyncRun_PendingEntryRetriedAfterCrash(t *testing.T) {
	ctx := context.Background()
	store, _, _, service := setupService(t)

	record := clientRecord("c-1", "Ada")

	// Simulate a run that died between markPending and the terminal write.
	h := mustHash(t, record)
	require.NoError(t, store.MarkPending(ctx, "c-1", models.EntityClient, h))

	summary, err := service.SyncRun(ctx,
		source.NewStaticProvider([]models.Record{record}),
		RunRequest{Mode: models.ModeAutomated})
	require.NoError(t, err)

	// The hash matches, but pending forces redelivery.
	assert.Equal(t, 1, summary.Counts.Created+summary.Counts.Updated+summary.Counts.Skipped)

	entry, err := store.Find(ctx, "c-1", models.EntityClient)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, entry.SyncStatus)
}

func TestSyncRun_DryRunPurity(t *testing.T) {
	ctx := context.Background()
	store, session, connector, service := setupService(t)

	summary, err := service.SyncRun(ctx,
		source.NewStaticProvider([]models.Record{
			clientRecord("c-1", "Ada"),
			clientRecord("c-2", "Eva"),
		}),
		RunRequest{Mode: models.ModeInteractive, DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, models.Counts{}, summary.Counts)
	assert.Empty(t, summary.Results)
	assert.Zero(t, connector.connects, "dry run must not touch the destination")
	assert.Empty(t, session.calls)

	// No ledger entries were written.
	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)

	// The run record itself is the one permitted side effect.
	run, err := store.GetRun(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, run.Status)
	assert.True(t, run.DryRun)
}

func TestSyncRun_FetchFailureAbortsBeforeDestination(t *testing.T) {
	ctx := context.Background()
	_, _, connector, service := setupService(t)

	provider := &failingProvider{err: errors.New("source unreachable")}

	_, err := service.SyncRun(ctx, provider, RunRequest{Mode: models.ModeAutomated})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source fetch failed")
	assert.Zero(t, connector.connects)
}

func TestSyncRun_RejectsConcurrentRun(t *testing.T) {
	ctx := context.Background()
	_, _, _, service := setupService(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := &blockingProvider{entered: entered, release: release}

	done := make(chan error, 1)
	go func() {
		_, err := service.SyncRun(ctx, blocking, RunRequest{Mode: models.ModeAutomated})
		done <- err
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never started")
	}

	_, err := service.SyncRun(ctx,
		source.NewStaticProvider(nil),
		RunRequest{Mode: models.ModeAutomated})
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	require.NoError(t, <-done)

	// Once the first run finishes the gate opens again.
	_, err = service.SyncRun(ctx,
		source.NewStaticProvider(nil),
		RunRequest{Mode: models.ModeAutomated})
	require.NoError(t, err)
}

func TestSyncRun_EntitySelectionIsRespected(t *testing.T) {
	ctx := context.Background()
	store, _, _, service := setupService(t)

	records := []models.Record{
		clientRecord("c-1", "Ada"),
		{
			SourceID:   "n-1",
			EntityType: models.EntityNote,
			Fields:     map[string]any{"body": "note", "client_source_id": "c-1"},
		},
	}

	summary, err := service.SyncRun(ctx,
		source.NewStaticProvider(records),
		RunRequest{
			EntityTypes: []models.EntityType{models.EntityClient},
			Mode:        models.ModeAutomated,
		})
	require.NoError(t, err)

	assert.Equal(t, models.Counts{Created: 1}, summary.Counts)

	_, err = store.Find(ctx, "n-1", models.EntityNote)
	assert.Error(t, err, "unselected entity types are untouched")
}

type failingProvider struct {
	err error
}

func (p *failingProvider) FetchAll(context.Context, source.FetchOptions) (*source.RecordSet, error) {
	return nil, p.err
}

type blockingProvider struct {
	entered chan struct{}
	release chan struct{}
}

func (p *blockingProvider) FetchAll(context.Context, source.FetchOptions) (*source.RecordSet, error) {
	close(p.entered)
	<-p.release
	return &source.RecordSet{}, nil
}
