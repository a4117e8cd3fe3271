package source

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practsync/practsync/internal/models"
	"github.com/practsync/practsync/internal/source/tokencache"
)

// memTokens is an in-memory TokenStore for tests.
type memTokens struct {
	mu    sync.Mutex
	token string
}

func (m *memTokens) Get(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		return "", tokencache.ErrTokenNotFound
	}
	return m.token, nil
}

func (m *memTokens) Save(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *memTokens) Delete(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestFetchAll_PaginatesAndGroups(t *testing.T) {
	var authCalls int

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		authCalls++
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "cid", req["client_id"])
		assert.Equal(t, "secret", req["client_secret"])
		writeJSON(t, w, map[string]string{"access_token": "tok-1"})
	})
	mux.HandleFunc("GET /api/v1/clients", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		switch r.URL.Query().Get("page") {
		case "1":
			writeJSON(t, w, map[string]any{
				"records": []map[string]any{
					{"source_id": "c-1", "fields": map[string]any{"first_name": "Ada"}},
					{"source_id": "c-2", "fields": map[string]any{"first_name": "Eva"}},
				},
				"has_more": true,
			})
		case "2":
			writeJSON(t, w, map[string]any{
				"records": []map[string]any{
					{"source_id": "c-3", "fields": map[string]any{"first_name": "Kim"}},
				},
				"has_more": false,
			})
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	})
	mux.HandleFunc("GET /api/v1/appointments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"records": []map[string]any{}, "has_more": false})
	})
	mux.HandleFunc("GET /api/v1/notes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"records": []map[string]any{}, "has_more": false})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, Credentials{ClientID: "cid", ClientSecret: "secret"}, &memTokens{}, testLogger())

	set, err := client.FetchAll(context.Background(), FetchOptions{})
	require.NoError(t, err)

	assert.Len(t, set.Clients, 3)
	assert.Empty(t, set.Appointments)
	assert.Empty(t, set.Notes)
	assert.Equal(t, 3, set.Total())
	assert.Equal(t, "c-1", set.Clients[0].SourceID)
	assert.Equal(t, models.EntityClient, set.Clients[0].EntityType)
	assert.Equal(t, 1, authCalls, "the token is exchanged once and cached")
}

func TestFetchAll_CachedOpaqueTokenSkipsAuth(t *testing.T) {
	var authCalls int

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/token", func(w http.ResponseWriter, _ *http.Request) {
		authCalls++
		writeJSON(t, w, map[string]string{"access_token": "tok-cached"})
	})
	mux.HandleFunc("GET /api/v1/clients", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok-cached", r.Header.Get("Authorization"))
		writeJSON(t, w, map[string]any{
			"records":  []map[string]any{{"source_id": "c-1", "fields": map[string]any{}}},
			"has_more": false,
		})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	// The server issues opaque (non-JWT) tokens. A cached one must be
	// presented rather than discarded, or every request re-exchanges
	// credentials.
	tokens := &memTokens{token: "tok-cached"}
	client := NewClient(server.URL, Credentials{}, tokens, testLogger())

	set, err := client.FetchAll(context.Background(), FetchOptions{
		EntityTypes: []models.EntityType{models.EntityClient},
	})
	require.NoError(t, err)

	assert.Len(t, set.Clients, 1)
	assert.Zero(t, authCalls, "the cached token serves the whole fetch")
}

func TestFetchAll_DateRangeOnAppointmentsOnly(t *testing.T) {
	var apptQuery, clientQuery map[string][]string

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/token", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]string{"access_token": "tok-1"})
	})
	mux.HandleFunc("GET /api/v1/clients", func(w http.ResponseWriter, r *http.Request) {
		clientQuery = r.URL.Query()
		writeJSON(t, w, map[string]any{"records": []map[string]any{}, "has_more": false})
	})
	mux.HandleFunc("GET /api/v1/appointments", func(w http.ResponseWriter, r *http.Request) {
		apptQuery = r.URL.Query()
		writeJSON(t, w, map[string]any{"records": []map[string]any{}, "has_more": false})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, Credentials{}, &memTokens{}, testLogger())

	from, err := time.Parse(time.RFC3339, "2026-08-01T00:00:00Z")
	require.NoError(t, err)
	to, err := time.Parse(time.RFC3339, "2026-08-31T00:00:00Z")
	require.NoError(t, err)

	_, err = client.FetchAll(context.Background(), FetchOptions{
		EntityTypes: []models.EntityType{models.EntityClient, models.EntityAppointment},
		DateRange:   models.DateRange{From: from, To: to},
	})
	require.NoError(t, err)

	assert.Equal(t, "2026-08-01T00:00:00Z", apptQuery["from"][0])
	assert.Equal(t, "2026-08-31T00:00:00Z", apptQuery["to"][0])
	assert.NotContains(t, clientQuery, "from")
	assert.NotContains(t, clientQuery, "to")
}

// signTestToken builds a JWT that passes the local expiry precheck.
func signTestToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return signed
}

func TestFetchAll_ReauthenticatesOnRejectedToken(t *testing.T) {
	var authCalls int
	stale := signTestToken(t, time.Now().Add(time.Hour))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/token", func(w http.ResponseWriter, _ *http.Request) {
		authCalls++
		writeJSON(t, w, map[string]string{"access_token": "tok-fresh"})
	})
	mux.HandleFunc("GET /api/v1/clients", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(t, w, map[string]any{
			"records":  []map[string]any{{"source_id": "c-1", "fields": map[string]any{}}},
			"has_more": false,
		})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	// A cached token the server no longer accepts. Its exp claim is in
	// the future, so the local precheck cannot reject it.
	tokens := &memTokens{token: stale}
	client := NewClient(server.URL, Credentials{}, tokens, testLogger())

	set, err := client.FetchAll(context.Background(), FetchOptions{
		EntityTypes: []models.EntityType{models.EntityClient},
	})
	require.NoError(t, err)

	assert.Len(t, set.Clients, 1)
	assert.Equal(t, 1, authCalls)

	cached, err := tokens.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-fresh", cached)
}

func TestFetchAll_ServerErrorAbortsFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/token", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]string{"access_token": "tok-1"})
	})
	mux.HandleFunc("GET /api/v1/clients", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "source exploded", http.StatusInternalServerError)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, Credentials{}, &memTokens{}, testLogger())

	_, err := client.FetchAll(context.Background(), FetchOptions{
		EntityTypes: []models.EntityType{models.EntityClient},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch client records")
}
