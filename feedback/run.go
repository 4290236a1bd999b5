package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hyouka/model"
)

// stubCost and stubTokens fill the accounting placeholders until cost
// tracking exists.
const (
	stubCost   = -1.0
	stubTokens = -1
)

// Store is the persistence surface the deferred run path needs. Implemented
// by internal/storage for Postgres and SQLite.
type Store interface {
	GetRecord(ctx context.Context, recordID string) (*model.Record, error)
	GetChain(ctx context.Context, chainID string) (*model.Chain, error)
	// SetFeedbackStatus upserts the deferred row's status and result payload,
	// unconditionally refreshing its last-update timestamp.
	SetFeedbackStatus(ctx context.Context, recordID, feedbackID string, status model.FeedbackStatus, result json.RawMessage, cost float64, tokens int64) error
}

// Run executes the feedback once against a record and the chain that
// produced it. It never returns an error: selection and implementation
// failures are captured into a failed FeedbackResult, and the result always
// carries the definition, record, and chain identifiers.
func (f *Feedback) Run(ctx context.Context, chain *model.Chain, record *model.Record) model.FeedbackResult {
	res := model.FeedbackResult{
		ID:                   uuid.New(),
		FeedbackDefinitionID: f.ID,
		RecordID:             record.ID,
		ChainID:              record.ChainID,
		TotalCost:            stubCost,
		TotalTokens:          stubTokens,
		CreatedAt:            time.Now().UTC(),
	}

	args, err := f.ResolveSelections(chain, record)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	ret, err := f.Call(ctx, args)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.Success = true
	res.Results = map[string]any{f.Name: ret}
	return res
}

// RunAndLog is the persistence-aware run used by the deferred scheduler.
// It marks the row in-progress, fetches the record and its chain, executes
// the run, and marks the row done or failed with the result payload. Every
// mark refreshes the last-update timestamp, even when execution itself
// failed. The returned error reports storage write failures only — run
// failures are recorded in the row, not raised.
func (f *Feedback) RunAndLog(ctx context.Context, store Store, recordID string) error {
	if err := store.SetFeedbackStatus(ctx, recordID, f.ID, model.StatusInProgress, nil, stubCost, stubTokens); err != nil {
		return fmt.Errorf("feedback: mark in progress: %w", err)
	}

	res := f.runDeferred(ctx, store, recordID)

	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("feedback: encode result: %w", err)
	}

	status := model.StatusDone
	if !res.Success {
		status = model.StatusFailed
	}
	if err := store.SetFeedbackStatus(ctx, recordID, f.ID, status, payload, res.TotalCost, res.TotalTokens); err != nil {
		return fmt.Errorf("feedback: mark %s: %w", status, err)
	}
	return nil
}

// runDeferred fetches the record and chain and runs the feedback. Fetch
// failures become failed results, keeping the never-raise contract of the
// run path.
func (f *Feedback) runDeferred(ctx context.Context, store Store, recordID string) model.FeedbackResult {
	failed := func(err error) model.FeedbackResult {
		return model.FeedbackResult{
			ID:                   uuid.New(),
			FeedbackDefinitionID: f.ID,
			RecordID:             recordID,
			Error:                err.Error(),
			TotalCost:            stubCost,
			TotalTokens:          stubTokens,
			CreatedAt:            time.Now().UTC(),
		}
	}

	record, err := store.GetRecord(ctx, recordID)
	if err != nil {
		return failed(fmt.Errorf("fetch record %s: %w", recordID, err))
	}
	chain, err := store.GetChain(ctx, record.ChainID)
	if err != nil {
		return failed(fmt.Errorf("fetch chain %s: %w", record.ChainID, err))
	}
	return f.Run(ctx, chain, record)
}
