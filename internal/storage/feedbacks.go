package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashita-ai/hyouka/model"
)

// QueueFeedback persists a queued deferred-evaluation row pairing the record
// with the serialized feedback definition. Queueing an already-present
// (record, feedback) pair resets it to queued so it will be re-evaluated.
func (db *DB) QueueFeedback(ctx context.Context, recordID string, def model.FeedbackDefinition) error {
	body, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("storage: encode feedback definition %s: %w", def.ID, err)
	}
	_, err = db.pool.Exec(ctx, `
		INSERT INTO feedbacks (record_id, feedback_id, feedback_json, status, last_update)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (record_id, feedback_id) DO UPDATE SET
			status      = EXCLUDED.status,
			last_update = now(),
			result_json = NULL`,
		recordID, def.ID, body, string(model.StatusQueued),
	)
	if err != nil {
		return fmt.Errorf("storage: queue feedback %s for %s: %w", def.ID, recordID, err)
	}
	return nil
}

// GetPendingFeedback lists all rows not yet done, oldest update first.
func (db *DB) GetPendingFeedback(ctx context.Context) ([]model.FeedbackRow, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT record_id, feedback_id, feedback_json, status, last_update, result_json, total_cost, total_tokens
		FROM feedbacks
		WHERE status <> $1
		ORDER BY last_update ASC`,
		string(model.StatusDone),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list pending feedback: %w", err)
	}
	defer rows.Close()

	var out []model.FeedbackRow
	for rows.Next() {
		var (
			row    model.FeedbackRow
			status string
		)
		if err := rows.Scan(
			&row.RecordID, &row.FeedbackID, &row.Definition, &status,
			&row.LastUpdate, &row.Result, &row.TotalCost, &row.TotalTokens,
		); err != nil {
			return nil, fmt.Errorf("storage: scan feedback row: %w", err)
		}
		row.Status = model.FeedbackStatus(status)
		out = append(out, row)
	}
	return out, rows.Err()
}

// SetFeedbackStatus upserts the row's status and result payload. The
// last-update timestamp refreshes unconditionally. Retries transient
// conflicts: concurrent evaluators may upsert the same row.
func (db *DB) SetFeedbackStatus(ctx context.Context, recordID, feedbackID string, status model.FeedbackStatus, result json.RawMessage, cost float64, tokens int64) error {
	return WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		_, err := db.pool.Exec(ctx, `
			INSERT INTO feedbacks (record_id, feedback_id, feedback_json, status, last_update, result_json, total_cost, total_tokens)
			VALUES ($1, $2, '{}', $3, now(), $4, $5, $6)
			ON CONFLICT (record_id, feedback_id) DO UPDATE SET
				status       = EXCLUDED.status,
				last_update  = now(),
				result_json  = COALESCE(EXCLUDED.result_json, feedbacks.result_json),
				total_cost   = EXCLUDED.total_cost,
				total_tokens = EXCLUDED.total_tokens`,
			recordID, feedbackID, string(status), result, cost, tokens,
		)
		if err != nil {
			return fmt.Errorf("storage: set feedback %s/%s to %s: %w", recordID, feedbackID, status, err)
		}
		return nil
	})
}

// CountFeedbackByStatus returns row counts grouped by status.
func (db *DB) CountFeedbackByStatus(ctx context.Context) (map[model.FeedbackStatus]int64, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM feedbacks GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: count feedback by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.FeedbackStatus]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("storage: scan status count: %w", err)
		}
		counts[model.FeedbackStatus(status)] = n
	}
	return counts, rows.Err()
}

// InsertFeedbackResult appends a completed evaluation result.
func (db *DB) InsertFeedbackResult(ctx context.Context, res model.FeedbackResult) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("storage: encode feedback result: %w", err)
	}
	_, err = db.pool.Exec(ctx, `
		INSERT INTO feedback_results (id, feedback_definition_id, record_id, chain_id, success, result_json, total_cost, total_tokens)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		res.ID, res.FeedbackDefinitionID, res.RecordID, res.ChainID,
		res.Success, body, res.TotalCost, res.TotalTokens,
	)
	if err != nil {
		return fmt.Errorf("storage: insert feedback result: %w", err)
	}
	return nil
}

// ListFeedbackResults returns results for a record, newest first.
func (db *DB) ListFeedbackResults(ctx context.Context, recordID string, limit int) ([]model.FeedbackResult, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx, `
		SELECT result_json FROM feedback_results
		WHERE record_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		recordID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list feedback results for %s: %w", recordID, err)
	}
	defer rows.Close()

	var out []model.FeedbackResult
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("storage: scan feedback result: %w", err)
		}
		var res model.FeedbackResult
		if err := json.Unmarshal(body, &res); err != nil {
			return nil, fmt.Errorf("storage: decode feedback result: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
