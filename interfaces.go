package hyouka

import (
	"context"
	"encoding/json"

	"github.com/ashita-ai/hyouka/model"
)

// Store is the full persistence surface a Workspace drives. Both built-in
// backends (Postgres and SQLite) satisfy it; external consumers can supply
// their own via WithStore.
type Store interface {
	// Chains are immutable descriptions of instrumented apps.
	InsertChain(ctx context.Context, chain *model.Chain) error
	GetChain(ctx context.Context, chainID string) (*model.Chain, error)

	// Records are immutable captures of single executions.
	InsertRecord(ctx context.Context, rec *model.Record) error
	GetRecord(ctx context.Context, recordID string) (*model.Record, error)
	ListRecords(ctx context.Context, chainID string, limit int) ([]model.Record, error)

	// The deferred evaluation queue, keyed by (record, feedback definition).
	QueueFeedback(ctx context.Context, recordID string, def model.FeedbackDefinition) error
	GetPendingFeedback(ctx context.Context) ([]model.FeedbackRow, error)
	SetFeedbackStatus(ctx context.Context, recordID, feedbackID string, status model.FeedbackStatus, result json.RawMessage, cost float64, tokens int64) error
	CountFeedbackByStatus(ctx context.Context) (map[model.FeedbackStatus]int64, error)

	// The append-only result log.
	InsertFeedbackResult(ctx context.Context, res model.FeedbackResult) error
	ListFeedbackResults(ctx context.Context, recordID string, limit int) ([]model.FeedbackResult, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
