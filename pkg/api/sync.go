// Package api defines the wire types of the sync trigger surface.
package api

import "time"

// Run response statuses.
const (
	StatusCompleted           = "completed"
	StatusCompletedWithErrors = "completed_with_errors"
	StatusFailed              = "failed"
	StatusConflict            = "conflict"
)

// Record is one inline source record supplied with a trigger request.
type Record struct {
	Fields     map[string]any `json:"fields"`
	SourceID   string         `json:"source_id"`
	EntityType string         `json:"entity_type"`
}

// SourceCredentials authenticate a server-side fetch from the source
// system. Mutually exclusive with inline Records.
type SourceCredentials struct {
	BaseURL      string `json:"base_url"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// SyncRunRequest triggers one run.
type SyncRunRequest struct {
	// EntityTypes selects a subset of record kinds; empty means all.
	EntityTypes []string `json:"entity_types,omitempty"`

	// Records carries inline source data instead of credentials.
	Records []Record `json:"records,omitempty"`

	// Source credentials for a server-side fetch.
	Source *SourceCredentials `json:"source,omitempty"`

	// From/To optionally bound appointment fetches (RFC 3339).
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	DryRun bool `json:"dry_run"`
}

// Counts aggregates per-item outcomes.
type Counts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// ItemResult is the outcome of one record's delivery.
type ItemResult struct {
	SourceID       string `json:"source_id"`
	EntityType     string `json:"entity_type"`
	Action         string `json:"action"`
	DestinationRef string `json:"destination_ref,omitempty"`
	Error          string `json:"error,omitempty"`
}

// RunSummary is the full account of one run.
type RunSummary struct {
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at"`
	RunID       string       `json:"run_id"`
	Results     []ItemResult `json:"results"`
	Counts      Counts       `json:"counts"`
}

// SyncRunResponse answers a trigger request. Status is
// completed_with_errors when any item failed.
type SyncRunResponse struct {
	Status  string     `json:"status"`
	Summary RunSummary `json:"summary"`
}

// RunStatusResponse answers a run status lookup.
type RunStatusResponse struct {
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RunID       string     `json:"run_id"`
	Mode        string     `json:"mode"`
	Status      string     `json:"status"`
	EntityTypes []string   `json:"entity_types"`
	Counts      Counts     `json:"counts"`
	DryRun      bool       `json:"dry_run"`
}

// LedgerSummaryResponse reports ledger entry counts by sync status.
type LedgerSummaryResponse struct {
	Counts map[string]int `json:"counts"`
}

// ErrorResponse carries an error message.
type ErrorResponse struct {
	Error string `json:"error"`
}
