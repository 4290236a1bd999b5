package scheduler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hyouka/feedback"
	"github.com/ashita-ai/hyouka/internal/scheduler"
	"github.com/ashita-ai/hyouka/model"
	"github.com/ashita-ai/hyouka/pool"
)

// fakeStore is an in-memory scheduler.Store. Pending rows are served as a
// fixed snapshot; status writes are recorded and also clear the row from the
// pending set so one submission is observed per eligible row.
type fakeStore struct {
	mu      sync.Mutex
	pending map[string]model.FeedbackRow // keyed record_id/feedback_id
	records map[string]*model.Record
	chains  map[string]*model.Chain
	writes  []model.FeedbackStatus

	chainFetches int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pending: make(map[string]model.FeedbackRow),
		records: make(map[string]*model.Record),
		chains:  make(map[string]*model.Chain),
	}
}

func (s *fakeStore) addPending(row model.FeedbackRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[row.RecordID+"/"+row.FeedbackID] = row
}

func (s *fakeStore) GetPendingFeedback(_ context.Context) ([]model.FeedbackRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.FeedbackRow, 0, len(s.pending))
	for _, row := range s.pending {
		out = append(out, row)
	}
	return out, nil
}

func (s *fakeStore) GetRecord(_ context.Context, recordID string) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordID]
	if !ok {
		return nil, fmt.Errorf("record %s not found", recordID)
	}
	return rec, nil
}

func (s *fakeStore) GetChain(_ context.Context, chainID string) (*model.Chain, error) {
	s.mu.Lock()
	s.chainFetches++
	chain, ok := s.chains[chainID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("chain %s not found", chainID)
	}
	return chain, nil
}

func (s *fakeStore) SetFeedbackStatus(_ context.Context, recordID, feedbackID string, status model.FeedbackStatus, _ json.RawMessage, _ float64, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, status)
	key := recordID + "/" + feedbackID
	if status == model.StatusDone || status == model.StatusFailed {
		delete(s.pending, key)
		return nil
	}
	// Mirror real storage: refresh the row's status and timestamp so the
	// next cycle sees it as fresh in-progress.
	if row, ok := s.pending[key]; ok {
		row.Status = status
		row.LastUpdate = time.Now()
		s.pending[key] = row
	}
	return nil
}

func (s *fakeStore) CountFeedbackByStatus(_ context.Context) (map[model.FeedbackStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[model.FeedbackStatus]int64)
	for _, row := range s.pending {
		counts[row.Status]++
	}
	return counts, nil
}

func (s *fakeStore) statusWrites() []model.FeedbackStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.FeedbackStatus, len(s.writes))
	copy(out, s.writes)
	return out
}

func (s *fakeStore) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func testRegistry(t *testing.T) *feedback.Registry {
	t.Helper()
	reg := feedback.NewRegistry()
	require.NoError(t, reg.Register(feedback.Func{
		Provider: "test",
		Name:     "score",
		Params:   []string{"text"},
		Call: func(_ context.Context, _ map[string]any) (any, error) {
			return 1.0, nil
		},
	}))
	return reg
}

func queuedRow(t *testing.T, reg *feedback.Registry, recordID string, status model.FeedbackStatus, age time.Duration) model.FeedbackRow {
	t.Helper()
	imp, ok := reg.Lookup("test", "score")
	require.True(t, ok)
	f, err := feedback.New(imp, map[string]model.Selection{"text": model.Output()})
	require.NoError(t, err)
	raw, err := json.Marshal(f.Definition())
	require.NoError(t, err)
	return model.FeedbackRow{
		RecordID:   recordID,
		FeedbackID: f.ID,
		Definition: raw,
		Status:     status,
		LastUpdate: time.Now().Add(-age),
	}
}

func seedRecord(store *fakeStore, recordID string) {
	store.records[recordID] = &model.Record{
		ID: recordID, ChainID: "chain_1", Input: "in", Output: "out",
	}
	store.chains["chain_1"] = &model.Chain{ID: "chain_1"}
}

func startEvaluator(t *testing.T, store *fakeStore, reg *feedback.Registry) *scheduler.Evaluator {
	t.Helper()
	p := pool.New(4, nil)
	t.Cleanup(p.Close)
	ev := scheduler.New(store, reg, p, nil, 20*time.Millisecond)
	require.NoError(t, ev.Start(context.Background()))
	t.Cleanup(func() {
		_ = ev.Stop(context.Background())
	})
	return ev
}

func TestRetryStateMachine(t *testing.T) {
	tests := []struct {
		name       string
		status     model.FeedbackStatus
		age        time.Duration
		wantSubmit bool
	}{
		{"queued row is submitted", model.StatusQueued, 0, true},
		{"stale in-progress row is resubmitted", model.StatusInProgress, 31 * time.Second, true},
		{"fresh in-progress row is left alone", model.StatusInProgress, 10 * time.Second, false},
		{"stale failed row is resubmitted", model.StatusFailed, 301 * time.Second, true},
		{"fresh failed row is left alone", model.StatusFailed, 100 * time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			reg := testRegistry(t)
			seedRecord(store, "record_1")
			store.addPending(queuedRow(t, reg, "record_1", tt.status, tt.age))

			startEvaluator(t, store, reg)

			if tt.wantSubmit {
				require.Eventually(t, func() bool {
					return store.pendingCount() == 0
				}, 2*time.Second, 10*time.Millisecond, "row should have been evaluated")
				writes := store.statusWrites()
				require.NotEmpty(t, writes)
				assert.Equal(t, model.StatusInProgress, writes[0])
				assert.Equal(t, model.StatusDone, writes[len(writes)-1])
			} else {
				// Give the loop a few cycles to (incorrectly) pick it up.
				time.Sleep(150 * time.Millisecond)
				assert.Empty(t, store.statusWrites())
				assert.Equal(t, 1, store.pendingCount())
			}
		})
	}
}

func TestUnrehydratableRowIsParkedFailed(t *testing.T) {
	store := newFakeStore()
	reg := testRegistry(t)
	seedRecord(store, "record_1")

	// Definition references an implementation the registry does not know.
	row := queuedRow(t, reg, "record_1", model.StatusQueued, 0)
	row.Definition = json.RawMessage(`{"feedback_definition_id":"feedback_x","provider":"ghost","method":"vanish"}`)
	store.addPending(row)

	startEvaluator(t, store, reg)

	require.Eventually(t, func() bool {
		writes := store.statusWrites()
		return len(writes) > 0 && writes[len(writes)-1] == model.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartStopLifecycle(t *testing.T) {
	store := newFakeStore()
	reg := testRegistry(t)
	p := pool.New(2, nil)
	defer p.Close()

	ev := scheduler.New(store, reg, p, nil, 20*time.Millisecond)
	assert.False(t, ev.Running())

	// Stop before start.
	assert.ErrorIs(t, ev.Stop(context.Background()), scheduler.ErrNotRunning)

	require.NoError(t, ev.Start(context.Background()))
	assert.True(t, ev.Running())

	// Second start fails; the first loop keeps running.
	assert.ErrorIs(t, ev.Start(context.Background()), scheduler.ErrAlreadyRunning)
	assert.True(t, ev.Running())

	require.NoError(t, ev.Stop(context.Background()))
	assert.False(t, ev.Running())

	// Start after stop is a fresh loop.
	require.NoError(t, ev.Start(context.Background()))
	assert.True(t, ev.Running())
	require.NoError(t, ev.Stop(context.Background()))
}

func TestStopDoesNotCancelInFlightRuns(t *testing.T) {
	store := newFakeStore()
	reg := feedback.NewRegistry()

	release := make(chan struct{})
	require.NoError(t, reg.Register(feedback.Func{
		Provider: "test",
		Name:     "slow",
		Params:   []string{"text"},
		Call: func(ctx context.Context, _ map[string]any) (any, error) {
			select {
			case <-release:
				return 1.0, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}))

	seedRecord(store, "record_1")
	imp, _ := reg.Lookup("test", "slow")
	f, err := feedback.New(imp, map[string]model.Selection{"text": model.Output()})
	require.NoError(t, err)
	raw, err := json.Marshal(f.Definition())
	require.NoError(t, err)
	store.addPending(model.FeedbackRow{
		RecordID: "record_1", FeedbackID: f.ID, Definition: raw,
		Status: model.StatusQueued, LastUpdate: time.Now(),
	})

	p := pool.New(2, nil)
	defer p.Close()
	ev := scheduler.New(store, reg, p, nil, 20*time.Millisecond)
	require.NoError(t, ev.Start(context.Background()))

	// Wait until the run is in progress, then stop the loop while the
	// implementation is still blocked.
	require.Eventually(t, func() bool {
		return len(store.statusWrites()) > 0
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, ev.Stop(context.Background()))

	// The in-flight run survives the stop and completes.
	close(release)
	require.Eventually(t, func() bool {
		writes := store.statusWrites()
		return writes[len(writes)-1] == model.StatusDone
	}, 2*time.Second, 10*time.Millisecond)
}
