package hyouka_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hyouka"
	"github.com/ashita-ai/hyouka/feedback"
	"github.com/ashita-ai/hyouka/model"
)

func newWorkspace(t *testing.T) *hyouka.Workspace {
	t.Helper()

	// Force the SQLite path regardless of the ambient environment.
	t.Setenv("DATABASE_URL", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	ws, err := hyouka.New(
		hyouka.WithSQLitePath(filepath.Join(t.TempDir(), "test.sqlite")),
		hyouka.WithPollInterval(20*time.Millisecond),
		hyouka.WithPoolSize(4),
		hyouka.WithDrainTimeout(2*time.Second),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close(context.Background()) })
	return ws
}

func registerScore(t *testing.T, ws *hyouka.Workspace) *feedback.Feedback {
	t.Helper()
	require.NoError(t, ws.Registry().Register(feedback.Func{
		Provider: "test",
		Name:     "score",
		Params:   []string{"text"},
		Call: func(_ context.Context, args map[string]any) (any, error) {
			if args["text"] == "" {
				return 0.0, nil
			}
			return 0.75, nil
		},
	}))
	imp, ok := ws.Registry().Lookup("test", "score")
	require.True(t, ok)
	f, err := feedback.New(imp, nil)
	require.NoError(t, err)
	f, err = f.OnOutput()
	require.NoError(t, err)
	return f
}

func addChainAndRecord(t *testing.T, ws *hyouka.Workspace) (*model.Chain, *model.Record) {
	t.Helper()
	ctx := context.Background()

	chain, err := ws.AddChain(ctx, map[string]any{"llm": map[string]any{"model_name": "gpt-4"}})
	require.NoError(t, err)
	require.NotEmpty(t, chain.ID)

	rec, err := ws.AddRecord(ctx, &model.Record{
		ChainID: chain.ID,
		Input:   "what is hyouka?",
		Output:  "an evaluation core",
	})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	return chain, rec
}

func TestAddChainIsDeterministic(t *testing.T) {
	ws := newWorkspace(t)
	ctx := context.Background()

	a, err := ws.AddChain(ctx, map[string]any{"x": 1})
	require.NoError(t, err)
	b, err := ws.AddChain(ctx, map[string]any{"x": 1})
	require.NoError(t, err)
	c, err := ws.AddChain(ctx, map[string]any{"x": 2})
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestAddRecordRequiresChainID(t *testing.T) {
	ws := newWorkspace(t)
	_, err := ws.AddRecord(context.Background(), &model.Record{Input: "x"})
	assert.Error(t, err)
}

func TestRunFeedbacks(t *testing.T) {
	ws := newWorkspace(t)
	ctx := context.Background()

	f := registerScore(t, ws)
	ws.AddFeedback(f)
	_, rec := addChainAndRecord(t, ws)

	results, err := ws.RunFeedbacks(ctx, rec)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, map[string]any{"score": 0.75}, results[0].Results)
	assert.Equal(t, rec.ID, results[0].RecordID)

	// Results are persisted.
	stored, err := ws.Store().ListFeedbackResults(ctx, rec.ID, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, results[0].ID, stored[0].ID)
}

func TestRunFeedbacksFailureIsRecorded(t *testing.T) {
	ws := newWorkspace(t)
	ctx := context.Background()

	require.NoError(t, ws.Registry().Register(feedback.Func{
		Provider: "test",
		Name:     "broken",
		Params:   []string{"text"},
		Call: func(_ context.Context, _ map[string]any) (any, error) {
			panic("provider crashed")
		},
	}))
	imp, _ := ws.Registry().Lookup("test", "broken")
	f, err := feedback.New(imp, nil)
	require.NoError(t, err)
	f, err = f.OnOutput()
	require.NoError(t, err)

	_, rec := addChainAndRecord(t, ws)

	results, err := ws.RunFeedbacks(ctx, rec, f)
	require.NoError(t, err, "run path never raises")
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "provider crashed")
}

func TestRunFeedbacksWithNoFeedbacks(t *testing.T) {
	ws := newWorkspace(t)
	_, rec := addChainAndRecord(t, ws)

	results, err := ws.RunFeedbacks(context.Background(), rec)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDeferredEvaluation(t *testing.T) {
	ws := newWorkspace(t)
	ctx := context.Background()

	f := registerScore(t, ws)
	_, rec := addChainAndRecord(t, ws)

	require.NoError(t, ws.QueueFeedback(ctx, rec.ID, f))
	require.NoError(t, ws.StartEvaluator(ctx, false))

	require.Eventually(t, func() bool {
		counts, err := ws.Store().CountFeedbackByStatus(ctx)
		return err == nil && counts[model.StatusDone] == 1
	}, 5*time.Second, 20*time.Millisecond, "queued row should reach done")

	require.NoError(t, ws.StopEvaluator(ctx))
}

func TestEvaluatorLifecycle(t *testing.T) {
	ws := newWorkspace(t)
	ctx := context.Background()

	assert.False(t, ws.EvaluatorRunning())
	assert.ErrorIs(t, ws.StopEvaluator(ctx), hyouka.ErrEvaluatorNotRunning)

	require.NoError(t, ws.StartEvaluator(ctx, false))
	assert.True(t, ws.EvaluatorRunning())

	assert.ErrorIs(t, ws.StartEvaluator(ctx, false), hyouka.ErrEvaluatorRunning)

	// restart=true replaces the running loop.
	require.NoError(t, ws.StartEvaluator(ctx, true))
	assert.True(t, ws.EvaluatorRunning())

	require.NoError(t, ws.StopEvaluator(ctx))
	assert.False(t, ws.EvaluatorRunning())

	// restart=true on a stopped evaluator is a plain start.
	require.NoError(t, ws.StartEvaluator(ctx, true))
	require.NoError(t, ws.StopEvaluator(ctx))
}

func TestQueueFeedbacksQueuesRegisteredSet(t *testing.T) {
	ws := newWorkspace(t)
	ctx := context.Background()

	f := registerScore(t, ws)
	onInput, err := f.OnInput()
	require.NoError(t, err)
	ws.AddFeedback(f, onInput)

	_, rec := addChainAndRecord(t, ws)
	require.NoError(t, ws.QueueFeedbacks(ctx, rec.ID))

	counts, err := ws.Store().CountFeedbackByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[model.StatusQueued])
}
