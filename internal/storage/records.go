package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/hyouka/model"
)

// InsertRecord stores an execution record. Records are immutable;
// re-inserting the same id is idempotent.
func (db *DB) InsertRecord(ctx context.Context, rec *model.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("storage: encode record %s: %w", rec.ID, err)
	}
	_, err = db.pool.Exec(ctx, `
		INSERT INTO records (record_id, chain_id, input, output, record_json)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (record_id) DO NOTHING`,
		rec.ID, rec.ChainID, rec.Input, rec.Output, body,
	)
	if err != nil {
		return fmt.Errorf("storage: insert record %s: %w", rec.ID, err)
	}
	return nil
}

// GetRecord fetches a record by id. Returns ErrNotFound if absent.
func (db *DB) GetRecord(ctx context.Context, recordID string) (*model.Record, error) {
	var body []byte
	err := db.pool.QueryRow(ctx,
		`SELECT record_json FROM records WHERE record_id = $1`, recordID,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get record %s: %w", recordID, err)
	}
	var rec model.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("storage: decode record %s: %w", recordID, err)
	}
	return &rec, nil
}

// ListRecords returns records for a chain, newest first.
func (db *DB) ListRecords(ctx context.Context, chainID string, limit int) ([]model.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx, `
		SELECT record_json FROM records
		WHERE chain_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		chainID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list records for %s: %w", chainID, err)
	}
	defer rows.Close()

	var recs []model.Record
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("storage: scan record: %w", err)
		}
		var rec model.Record
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, fmt.Errorf("storage: decode record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
