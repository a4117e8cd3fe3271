package models

import "time"

// RunMode records how a run was triggered.
type RunMode string

const (
	ModeInteractive RunMode = "interactive"
	ModeAutomated   RunMode = "automated"
)

// RunStatus is the lifecycle state of one orchestrator invocation.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Counts aggregates per-item outcomes for one run.
type Counts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Add merges other into c.
func (c *Counts) Add(other Counts) {
	c.Created += other.Created
	c.Updated += other.Updated
	c.Skipped += other.Skipped
	c.Failed += other.Failed
}

// RunRecord is the persisted audit row for one orchestrator invocation.
// It is created in RunRunning with empty counts and finalized exactly once
// with terminal status and final counts, even when the run aborts.
type RunRecord struct {
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	RunID       string       `json:"run_id"`
	Mode        RunMode      `json:"mode"`
	Status      RunStatus    `json:"status"`
	EntityTypes []EntityType `json:"entity_types"`
	Counts      Counts       `json:"counts"`
	DryRun      bool         `json:"dry_run"`
}

// ItemAction describes what the orchestrator did with a single record.
type ItemAction string

const (
	ActionCreated ItemAction = "created"
	ActionUpdated ItemAction = "updated"
	ActionSkipped ItemAction = "skipped"
	ActionFailed  ItemAction = "failed"
)

// ItemResult is the in-memory outcome of one record's delivery attempt.
type ItemResult struct {
	SourceID       string     `json:"source_id"`
	EntityType     EntityType `json:"entity_type"`
	Action         ItemAction `json:"action"`
	DestinationRef string     `json:"destination_ref,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// RunSummary is the orchestrator's return value: the run identity, every
// per-item result in processing order, and the aggregate counts.
type RunSummary struct {
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at"`
	RunID       string       `json:"run_id"`
	Results     []ItemResult `json:"results"`
	Counts      Counts       `json:"counts"`
}

// CountResults folds a result list into aggregate counts.
func CountResults(results []ItemResult) Counts {
	var c Counts
	for _, r := range results {
		switch r.Action {
		case ActionCreated:
			c.Created++
		case ActionUpdated:
			c.Updated++
		case ActionSkipped:
			c.Skipped++
		case ActionFailed:
			c.Failed++
		}
	}
	return c
}
