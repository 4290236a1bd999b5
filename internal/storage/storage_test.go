package storage_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hyouka/internal/storage"
	"github.com/ashita-ai/hyouka/internal/testutil"
	"github.com/ashita-ai/hyouka/model"
)

// testDB holds a shared Postgres connection for the integration tests in
// this package. It stays nil when no container runtime is available; the
// Postgres tests skip in that case, the SQLite tests run regardless.
var testDB *storage.DB

func TestMain(m *testing.M) {
	tc, err := testutil.StartPostgres()
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres unavailable, running sqlite tests only: %v\n", err)
		os.Exit(m.Run())
	}

	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()
	testDB.Close(context.Background())
	tc.Terminate()
	os.Exit(code)
}

func requirePostgres(t *testing.T) *storage.DB {
	t.Helper()
	if testDB == nil {
		t.Skip("postgres container not available")
	}
	return testDB
}

func TestPostgresChainsAndRecords(t *testing.T) {
	db := requirePostgres(t)
	ctx := context.Background()

	chain := &model.Chain{
		ID:         "chain_pg_1",
		Definition: map[string]any{"llm": map[string]any{"model_name": "gpt-4"}},
	}
	require.NoError(t, db.InsertChain(ctx, chain))
	require.NoError(t, db.InsertChain(ctx, chain), "re-insert is idempotent")

	gotChain, err := db.GetChain(ctx, chain.ID)
	require.NoError(t, err)
	assert.Equal(t, chain.Definition, gotChain.Definition)

	_, err = db.GetChain(ctx, "chain_pg_missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	rec := &model.Record{
		ID:      "record_pg_1",
		ChainID: chain.ID,
		Input:   "hello",
		Output:  "world",
		Calls:   map[string]any{"llm": map[string]any{"prompt": "hi"}},
	}
	require.NoError(t, db.InsertRecord(ctx, rec))

	gotRec, err := db.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Output, gotRec.Output)
	assert.Equal(t, rec.Calls, gotRec.Calls)

	recs, err := db.ListRecords(ctx, chain.ID, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, recs)
}

func TestPostgresFeedbackQueue(t *testing.T) {
	db := requirePostgres(t)
	ctx := context.Background()

	def := model.FeedbackDefinition{
		ID: "feedback_pg_1", Name: "score", Provider: "test", Method: "score",
	}
	require.NoError(t, db.QueueFeedback(ctx, "record_pg_q", def))

	pending, err := db.GetPendingFeedback(ctx)
	require.NoError(t, err)
	var row *model.FeedbackRow
	for i := range pending {
		if pending[i].RecordID == "record_pg_q" {
			row = &pending[i]
		}
	}
	require.NotNil(t, row)
	assert.Equal(t, model.StatusQueued, row.Status)

	var roundTripped model.FeedbackDefinition
	require.NoError(t, json.Unmarshal(row.Definition, &roundTripped))
	assert.Equal(t, def.ID, roundTripped.ID)

	payload := json.RawMessage(`{"success":true}`)
	require.NoError(t, db.SetFeedbackStatus(ctx, "record_pg_q", def.ID, model.StatusInProgress, nil, -1, -1))
	require.NoError(t, db.SetFeedbackStatus(ctx, "record_pg_q", def.ID, model.StatusDone, payload, -1, -1))

	pending, err = db.GetPendingFeedback(ctx)
	require.NoError(t, err)
	for _, p := range pending {
		assert.NotEqual(t, "record_pg_q", p.RecordID, "done rows drop out of the pending set")
	}

	counts, err := db.CountFeedbackByStatus(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, counts[model.StatusDone], int64(1))

	// Re-queueing resets to queued and clears the stored result.
	require.NoError(t, db.QueueFeedback(ctx, "record_pg_q", def))
	pending, err = db.GetPendingFeedback(ctx)
	require.NoError(t, err)
	found := false
	for _, p := range pending {
		if p.RecordID == "record_pg_q" {
			found = true
			assert.Equal(t, model.StatusQueued, p.Status)
			assert.Nil(t, p.Result)
		}
	}
	assert.True(t, found)
}

func TestPostgresFeedbackResults(t *testing.T) {
	db := requirePostgres(t)
	ctx := context.Background()

	res := model.FeedbackResult{
		ID:                   uuid.New(),
		FeedbackDefinitionID: "feedback_pg_r",
		RecordID:             "record_pg_r",
		ChainID:              "chain_pg_r",
		Success:              false,
		Error:                "provider unavailable",
		TotalCost:            -1,
		TotalTokens:          -1,
		CreatedAt:            time.Now().UTC(),
	}
	require.NoError(t, db.InsertFeedbackResult(ctx, res))

	got, err := db.ListFeedbackResults(ctx, "record_pg_r", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, res.ID, got[0].ID)
	assert.Equal(t, "provider unavailable", got[0].Error)
}
