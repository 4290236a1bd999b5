package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/ashita-ai/hyouka/model"
)

// sqliteSchema is applied on open. SQLite is single-writer, so there is no
// separate migration ledger; the DDL is idempotent.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chains (
	chain_id   TEXT PRIMARY KEY,
	chain_json TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
	record_id   TEXT PRIMARY KEY,
	chain_id    TEXT NOT NULL,
	input       TEXT NOT NULL,
	output      TEXT NOT NULL,
	record_json TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_chain ON records (chain_id, created_at);

CREATE TABLE IF NOT EXISTS feedbacks (
	record_id     TEXT NOT NULL,
	feedback_id   TEXT NOT NULL,
	feedback_json TEXT NOT NULL,
	status        TEXT NOT NULL,
	last_update   INTEGER NOT NULL,
	result_json   TEXT,
	total_cost    REAL NOT NULL DEFAULT -1,
	total_tokens  INTEGER NOT NULL DEFAULT -1,
	PRIMARY KEY (record_id, feedback_id)
);
CREATE INDEX IF NOT EXISTS idx_feedbacks_status ON feedbacks (status, last_update);

CREATE TABLE IF NOT EXISTS feedback_results (
	id                     TEXT PRIMARY KEY,
	feedback_definition_id TEXT NOT NULL,
	record_id              TEXT NOT NULL,
	chain_id               TEXT NOT NULL,
	success                INTEGER NOT NULL,
	result_json            TEXT NOT NULL,
	total_cost             REAL NOT NULL,
	total_tokens           INTEGER NOT NULL,
	created_at             INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_record ON feedback_results (record_id, created_at);
`

// SQLite is the local single-file backend. It offers the same surface as DB
// for single-process use; multi-process deployments should use Postgres.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (and if needed creates) the database file at path and
// applies the schema.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite %s: %w", path, err)
	}
	// A single connection sidesteps SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: apply sqlite schema: %w", err)
	}
	return &SQLite{db: db, logger: logger}, nil
}

// Ping checks connectivity.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database file.
func (s *SQLite) Close(ctx context.Context) error {
	return s.db.Close()
}

// InsertChain stores a chain description; idempotent on chain id.
func (s *SQLite) InsertChain(ctx context.Context, chain *model.Chain) error {
	def, err := json.Marshal(chain.Definition)
	if err != nil {
		return fmt.Errorf("storage: encode chain %s: %w", chain.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chains (chain_id, chain_json, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (chain_id) DO NOTHING`,
		chain.ID, string(def), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("storage: insert chain %s: %w", chain.ID, err)
	}
	return nil
}

// GetChain fetches a chain description by id. Returns ErrNotFound if absent.
func (s *SQLite) GetChain(ctx context.Context, chainID string) (*model.Chain, error) {
	var (
		chain     model.Chain
		def       string
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT chain_id, chain_json, created_at FROM chains WHERE chain_id = ?`, chainID,
	).Scan(&chain.ID, &def, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get chain %s: %w", chainID, err)
	}
	chain.CreatedAt = time.Unix(createdAt, 0).UTC()
	if err := json.Unmarshal([]byte(def), &chain.Definition); err != nil {
		return nil, fmt.Errorf("storage: decode chain %s: %w", chainID, err)
	}
	return &chain, nil
}

// InsertRecord stores an execution record; idempotent on record id.
func (s *SQLite) InsertRecord(ctx context.Context, rec *model.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("storage: encode record %s: %w", rec.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (record_id, chain_id, input, output, record_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (record_id) DO NOTHING`,
		rec.ID, rec.ChainID, rec.Input, rec.Output, string(body), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("storage: insert record %s: %w", rec.ID, err)
	}
	return nil
}

// GetRecord fetches a record by id. Returns ErrNotFound if absent.
func (s *SQLite) GetRecord(ctx context.Context, recordID string) (*model.Record, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT record_json FROM records WHERE record_id = ?`, recordID,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get record %s: %w", recordID, err)
	}
	var rec model.Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, fmt.Errorf("storage: decode record %s: %w", recordID, err)
	}
	return &rec, nil
}

// ListRecords returns records for a chain, newest first.
func (s *SQLite) ListRecords(ctx context.Context, chainID string, limit int) ([]model.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_json FROM records
		WHERE chain_id = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		chainID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list records for %s: %w", chainID, err)
	}
	defer rows.Close()

	var recs []model.Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("storage: scan record: %w", err)
		}
		var rec model.Record
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return nil, fmt.Errorf("storage: decode record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// QueueFeedback persists a queued deferred-evaluation row. Re-queueing an
// existing (record, feedback) pair resets it to queued.
func (s *SQLite) QueueFeedback(ctx context.Context, recordID string, def model.FeedbackDefinition) error {
	body, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("storage: encode feedback definition %s: %w", def.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO feedbacks (record_id, feedback_id, feedback_json, status, last_update)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (record_id, feedback_id) DO UPDATE SET
			status      = excluded.status,
			last_update = excluded.last_update,
			result_json = NULL`,
		recordID, def.ID, string(body), string(model.StatusQueued), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("storage: queue feedback %s for %s: %w", def.ID, recordID, err)
	}
	return nil
}

// GetPendingFeedback lists all rows not yet done, oldest update first.
func (s *SQLite) GetPendingFeedback(ctx context.Context) ([]model.FeedbackRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, feedback_id, feedback_json, status, last_update, result_json, total_cost, total_tokens
		FROM feedbacks
		WHERE status <> ?
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
			row        model.FeedbackRow
			defBody    string
			status     string
			lastUpdate int64
			result     sql.NullString
		)
		if err := rows.Scan(
			&row.RecordID, &row.FeedbackID, &defBody, &status,
			&lastUpdate, &result, &row.TotalCost, &row.TotalTokens,
		); err != nil {
			return nil, fmt.Errorf("storage: scan feedback row: %w", err)
		}
		row.Definition = json.RawMessage(defBody)
		row.Status = model.FeedbackStatus(status)
		row.LastUpdate = time.Unix(lastUpdate, 0).UTC()
		if result.Valid {
			row.Result = json.RawMessage(result.String)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// SetFeedbackStatus upserts the row's status and result payload,
// unconditionally refreshing the last-update timestamp.
func (s *SQLite) SetFeedbackStatus(ctx context.Context, recordID, feedbackID string, status model.FeedbackStatus, result json.RawMessage, cost float64, tokens int64) error {
	var resultVal any
	if result != nil {
		resultVal = string(result)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedbacks (record_id, feedback_id, feedback_json, status, last_update, result_json, total_cost, total_tokens)
		VALUES (?, ?, '{}', ?, ?, ?, ?, ?)
		ON CONFLICT (record_id, feedback_id) DO UPDATE SET
			status       = excluded.status,
			last_update  = excluded.last_update,
			result_json  = COALESCE(excluded.result_json, feedbacks.result_json),
			total_cost   = excluded.total_cost,
			total_tokens = excluded.total_tokens`,
		recordID, feedbackID, string(status), time.Now().Unix(), resultVal, cost, tokens,
	)
	if err != nil {
		return fmt.Errorf("storage: set feedback %s/%s to %s: %w", recordID, feedbackID, status, err)
	}
	return nil
}

// SetFeedbackTimestamp rewinds a row's last-update time. Test hook for
// exercising staleness windows without waiting them out.
func (s *SQLite) SetFeedbackTimestamp(ctx context.Context, recordID, feedbackID string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE feedbacks SET last_update = ? WHERE record_id = ? AND feedback_id = ?`,
		ts.Unix(), recordID, feedbackID,
	)
	if err != nil {
		return fmt.Errorf("storage: set feedback timestamp: %w", err)
	}
	return nil
}

// CountFeedbackByStatus returns row counts grouped by status.
func (s *SQLite) CountFeedbackByStatus(ctx context.Context) (map[model.FeedbackStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx,
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
func (s *SQLite) InsertFeedbackResult(ctx context.Context, res model.FeedbackResult) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("storage: encode feedback result: %w", err)
	}
	success := 0
	if res.Success {
		success = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO feedback_results (id, feedback_definition_id, record_id, chain_id, success, result_json, total_cost, total_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID.String(), res.FeedbackDefinitionID, res.RecordID, res.ChainID,
		success, string(body), res.TotalCost, res.TotalTokens, res.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("storage: insert feedback result: %w", err)
	}
	return nil
}

// ListFeedbackResults returns results for a record, newest first.
func (s *SQLite) ListFeedbackResults(ctx context.Context, recordID string, limit int) ([]model.FeedbackResult, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT result_json FROM feedback_results
		WHERE record_id = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		recordID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list feedback results for %s: %w", recordID, err)
	}
	defer rows.Close()

	var out []model.FeedbackResult
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("storage: scan feedback result: %w", err)
		}
		var res model.FeedbackResult
		if err := json.Unmarshal([]byte(body), &res); err != nil {
			return nil, fmt.Errorf("storage: decode feedback result: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
