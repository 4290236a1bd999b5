package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/hyouka/model"
)

// InsertChain stores a chain description. Re-inserting the same chain id is
// idempotent; the stored description is not overwritten (chains are
// immutable).
func (db *DB) InsertChain(ctx context.Context, chain *model.Chain) error {
	def, err := json.Marshal(chain.Definition)
	if err != nil {
		return fmt.Errorf("storage: encode chain %s: %w", chain.ID, err)
	}
	_, err = db.pool.Exec(ctx, `
		INSERT INTO chains (chain_id, chain_json)
		VALUES ($1, $2)
		ON CONFLICT (chain_id) DO NOTHING`,
		chain.ID, def,
	)
	if err != nil {
		return fmt.Errorf("storage: insert chain %s: %w", chain.ID, err)
	}
	return nil
}

// GetChain fetches a chain description by id. Returns ErrNotFound if absent.
func (db *DB) GetChain(ctx context.Context, chainID string) (*model.Chain, error) {
	var (
		chain model.Chain
		def   []byte
	)
	err := db.pool.QueryRow(ctx, `
		SELECT chain_id, chain_json, created_at
		FROM chains WHERE chain_id = $1`,
		chainID,
	).Scan(&chain.ID, &def, &chain.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get chain %s: %w", chainID, err)
	}
	if err := json.Unmarshal(def, &chain.Definition); err != nil {
		return nil, fmt.Errorf("storage: decode chain %s: %w", chainID, err)
	}
	return &chain, nil
}
