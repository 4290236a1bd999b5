package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FeedbackDefinition is the declarative, serializable half of a feedback
// function: an identity, a reference to a registered implementation, and the
// mapping from implementation argument names to selections. Immutable after
// construction.
type FeedbackDefinition struct {
	ID        string               `json:"feedback_definition_id"`
	Name      string               `json:"name"`
	Provider  string               `json:"provider"`
	Method    string               `json:"method"`
	Selectors map[string]Selection `json:"selectors,omitempty"`
}

// FeedbackResult is one completed evaluation attempt, successful or failed.
// Appended to storage, never mutated. Cost and token totals are placeholders
// (-1) until accounting exists.
type FeedbackResult struct {
	ID                   uuid.UUID      `json:"id"`
	FeedbackDefinitionID string         `json:"feedback_definition_id"`
	RecordID             string         `json:"record_id"`
	ChainID              string         `json:"chain_id"`
	Success              bool           `json:"success"`
	Results              map[string]any `json:"results,omitempty"`
	Error                string         `json:"error,omitempty"`
	TotalCost            float64        `json:"total_cost"`
	TotalTokens          int64          `json:"total_tokens"`
	CreatedAt            time.Time      `json:"created_at"`
}

// FeedbackStatus is the lifecycle state of a deferred evaluation row.
type FeedbackStatus string

const (
	StatusQueued     FeedbackStatus = "queued"
	StatusInProgress FeedbackStatus = "in_progress"
	StatusDone       FeedbackStatus = "done"
	StatusFailed     FeedbackStatus = "failed"
)

// FeedbackRow is the persisted work item pairing a record with a serialized
// feedback definition. Mutated only by the scheduler and the run that owns
// it; retention is a storage concern.
type FeedbackRow struct {
	RecordID    string          `json:"record_id"`
	FeedbackID  string          `json:"feedback_id"`
	Definition  json.RawMessage `json:"feedback_json"`
	Status      FeedbackStatus  `json:"status"`
	LastUpdate  time.Time       `json:"last_update"`
	Result      json.RawMessage `json:"result_json,omitempty"`
	TotalCost   float64         `json:"total_cost"`
	TotalTokens int64           `json:"total_tokens"`
}
