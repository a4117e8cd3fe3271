package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/practsync/practsync/internal/models"
	"github.com/practsync/practsync/internal/retry"
	"github.com/practsync/practsync/internal/source/tokencache"
)

// defaultPageSize is the number of records requested per page.
const defaultPageSize = 200

// TokenStore persists the source access token between runs.
// Implemented by tokencache.Cache.
type TokenStore interface {
	Get(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Delete(ctx context.Context) error
}

// Credentials authenticate against the source API.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Client is the HTTP implementation of Provider.
type Client struct {
	httpClient *http.Client
	tokens     TokenStore
	logger     *slog.Logger
	baseURL    string
	creds      Credentials
	retryCfg   retry.Config
	pageSize   int
}

// NewClient creates a source API client. tokens may be nil, in which case
// every fetch authenticates from scratch.
func NewClient(baseURL string, creds Credentials, tokens TokenStore, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		creds:   creds,
		tokens:  tokens,
		logger:  logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retryCfg: retry.DefaultConfig(),
		pageSize: defaultPageSize,
	}
}

// entityPaths maps entity types to their API collection paths.
var entityPaths = map[models.EntityType]string{
	models.EntityClient:      "clients",
	models.EntityAppointment: "appointments",
	models.EntityNote:        "notes",
}

// FetchAll retrieves the full current state of the selected entity types,
// page by page. The date range applies to appointments only.
func (c *Client) FetchAll(ctx context.Context, opts FetchOptions) (*RecordSet, error) {
	types := opts.EntityTypes
	if len(types) == 0 {
		types = models.AllEntityTypes()
	}

	set := &RecordSet{}
	for _, entityType := range types {
		records, err := c.fetchEntity(ctx, entityType, opts.DateRange)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s records: %w", entityType, err)
		}
		for _, r := range records {
			set.Put(r)
		}
	}

	c.logger.Info("Source fetch completed",
		"clients", len(set.Clients),
		"appointments", len(set.Appointments),
		"notes", len(set.Notes),
	)

	return set, nil
}

// pageResponse is one page of the source collection API.
type pageResponse struct {
	Records []recordPayload `json:"records"`
	HasMore bool            `json:"has_more"`
}

// recordPayload is the wire shape of one source record.
type recordPayload struct {
	Fields   map[string]any `json:"fields"`
	SourceID string         `json:"source_id"`
}

func (c *Client) fetchEntity(ctx context.Context, entityType models.EntityType, dateRange models.DateRange) ([]models.Record, error) {
	path, ok := entityPaths[entityType]
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}

	var records []models.Record
	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("page_size", strconv.Itoa(c.pageSize))
		if entityType == models.EntityAppointment && !dateRange.IsZero() {
			if !dateRange.From.IsZero() {
				query.Set("from", dateRange.From.Format(time.RFC3339))
			}
			if !dateRange.To.IsZero() {
				query.Set("to", dateRange.To.Format(time.RFC3339))
			}
		}

		var resp pageResponse
		if err := c.doAuthenticated(ctx, http.MethodGet, "/api/v1/"+path+"?"+query.Encode(), nil, &resp); err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}

		for _, p := range resp.Records {
			records = append(records, models.Record{
				SourceID:   p.SourceID,
				EntityType: entityType,
				Fields:     p.Fields,
			})
		}

		if !resp.HasMore {
			break
		}
	}

	return records, nil
}

// errUnauthorized marks a 401 from the source API so that the retry
// wrapper can refresh the token and try the request once more.
var errUnauthorized = errors.New("source API rejected access token")

// doAuthenticated performs one API request with a bearer token, retrying
// once after re-authentication when the token is rejected.
func (c *Client) doAuthenticated(ctx context.Context, method, path string, body, result any) error {
	return retry.Do(ctx, c.retryCfg, func(ctx context.Context) error {
		token, err := c.accessToken(ctx)
		if err != nil {
			return fmt.Errorf("failed to obtain access token: %w", err)
		}

		err = c.doRequest(ctx, method, path, token, body, result)
		if errors.Is(err, errUnauthorized) {
			// Cached token expired server-side; drop it and retry.
			if c.tokens != nil {
				if derr := c.tokens.Delete(ctx); derr != nil {
					c.logger.Warn("Failed to drop cached token", "error", derr)
				}
			}
			return retry.Retryable(err)
		}

		return err
	})
}

// accessToken returns a cached token when one is present and not about to
// expire, authenticating otherwise.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	if c.tokens != nil {
		token, err := c.tokens.Get(ctx)
		if err == nil && !tokenExpired(token) {
			return token, nil
		}
		if err != nil && !errors.Is(err, tokencache.ErrTokenNotFound) {
			c.logger.Warn("Failed to read cached token", "error", err)
		}
	}

	token, err := c.authenticate(ctx)
	if err != nil {
		return "", err
	}

	if c.tokens != nil {
		if err := c.tokens.Save(ctx, token); err != nil {
			c.logger.Warn("Failed to cache token", "error", err)
			// Fetch continues on the in-memory token.
		}
	}

	return token, nil
}

// tokenResponse is the auth endpoint's reply.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// authRequest carries the API credentials.
type authRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

func (c *Client) authenticate(ctx context.Context) (string, error) {
	req := authRequest{
		ClientID:     c.creds.ClientID,
		ClientSecret: c.creds.ClientSecret,
	}

	var resp tokenResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/token", "", req, &resp); err != nil {
		return "", fmt.Errorf("token exchange failed: %w", err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("token exchange returned an empty token")
	}

	return resp.AccessToken, nil
}

// doRequest performs one HTTP request against the source API.
func (c *Client) doRequest(ctx context.Context, method, path, token string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized {
		return errUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
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
