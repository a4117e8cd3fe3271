// Package httpdest implements the destination capability interface over a
// plain REST API.
//
// The production destination is driven through its interactive UI by a
// separate automation component; this adapter exists for destinations
// (and test rigs) that expose an HTTP surface instead. Both sit behind
// dest.Session, the engine cannot tell them apart.
package httpdest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/practsync/practsync/internal/dest"
	"github.com/practsync/practsync/internal/models"
)

// Connector acquires REST sessions against one destination instance.
type Connector struct {
	logger  *slog.Logger
	baseURL string
	apiKey  string
}

// NewConnector creates a connector for the destination at baseURL.
func NewConnector(baseURL, apiKey string, logger *slog.Logger) *Connector {
	return &Connector{
		baseURL: baseURL,
		apiKey:  apiKey,
		logger:  logger,
	}
}

// Connect opens one exclusive session. The destination hands out a
// session token that scopes all subsequent record operations.
func (c *Connector) Connect(ctx context.Context) (dest.Session, error) {
	s := &session{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    c.baseURL,
		apiKey:     c.apiKey,
		logger:     c.logger,
	}

	var resp sessionResponse
	if err := s.do(ctx, http.MethodPost, "/api/sessions", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to open destination session: %w", err)
	}
	if resp.SessionToken == "" {
		return nil, fmt.Errorf("destination returned an empty session token")
	}

	s.sessionToken = resp.SessionToken
	c.logger.Info("Destination session opened")

	return s, nil
}

type sessionResponse struct {
	SessionToken string `json:"session_token"`
}

// session is one exclusive REST session. The engine calls it strictly
// sequentially, so no internal locking is needed.
type session struct {
	httpClient   *http.Client
	logger       *slog.Logger
	baseURL      string
	apiKey       string
	sessionToken string
}

// entityPaths maps entity types to destination collections.
var entityPaths = map[models.EntityType]string{
	models.EntityClient:      "clients",
	models.EntityAppointment: "appointments",
	models.EntityNote:        "notes",
}

type recordRequest struct {
	Fields   map[string]any `json:"fields"`
	SourceID string         `json:"source_id"`
}

type recordResponse struct {
	Reference string `json:"reference"`
}

type searchRequest struct {
	Fields map[string]any `json:"fields"`
}

type searchResponse struct {
	Reference string `json:"reference"`
	Found     bool   `json:"found"`
}

// SearchByIdentity looks a record up by identity fields.
func (s *session) SearchByIdentity(ctx context.Context, entityType models.EntityType, fields map[string]any) (string, error) {
	path, ok := entityPaths[entityType]
	if !ok {
		return "", fmt.Errorf("unknown entity type %q", entityType)
	}

	var resp searchResponse
	if err := s.do(ctx, http.MethodPost, "/api/"+path+"/search", searchRequest{Fields: fields}, &resp); err != nil {
		return "", fmt.Errorf("identity search failed: %w", err)
	}
	if !resp.Found {
		return "", nil
	}

	return resp.Reference, nil
}

// Create adds the record and returns the destination's reference.
func (s *session) Create(ctx context.Context, record models.Record) (string, error) {
	path, ok := entityPaths[record.EntityType]
	if !ok {
		return "", fmt.Errorf("unknown entity type %q", record.EntityType)
	}

	req := recordRequest{
		SourceID: record.SourceID,
		Fields:   record.Fields,
	}

	var resp recordResponse
	if err := s.do(ctx, http.MethodPost, "/api/"+path, req, &resp); err != nil {
		return "", fmt.Errorf("create failed: %w", err)
	}

	return resp.Reference, nil
}

// Update overwrites the destination record identified by ref.
func (s *session) Update(ctx context.Context, record models.Record, ref string) error {
	path, ok := entityPaths[record.EntityType]
	if !ok {
		return fmt.Errorf("unknown entity type %q", record.EntityType)
	}

	req := recordRequest{
		SourceID: record.SourceID,
		Fields:   record.Fields,
	}

	if err := s.do(ctx, http.MethodPut, "/api/"+path+"/"+ref, req, nil); err != nil {
		return fmt.Errorf("update failed: %w", err)
	}

	return nil
}

// Close releases the session token.
func (s *session) Close(ctx context.Context) error {
	if s.sessionToken == "" {
		return nil
	}

	err := s.do(ctx, http.MethodDelete, "/api/sessions/current", nil, nil)
	s.sessionToken = ""
	if err != nil && !errors.Is(err, dest.ErrSessionLost) {
		return fmt.Errorf("failed to close destination session: %w", err)
	}

	return nil
}

// do performs one request and maps destination status codes onto the
// engine's error taxonomy: 409 duplicate, 405/501 unsupported operation,
// 401 on a held token or transport loss means the session is gone.
func (s *session) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("X-Api-Key", s.apiKey)
	}
	if s.sessionToken != "" {
		req.Header.Set("X-Session-Token", s.sessionToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %v", dest.ErrSessionLost, err)
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return dest.ErrAlreadyExists
	case resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented:
		return dest.ErrNotSupported
	case resp.StatusCode == http.StatusUnauthorized && s.sessionToken != "":
		return fmt.Errorf("%w: destination rejected session token", dest.ErrSessionLost)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(data))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
