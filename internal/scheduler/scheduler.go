// Package scheduler drives deferred feedback evaluations: it polls the
// persisted queue of pending rows, classifies each by status and staleness,
// and resubmits eligible rows to the worker pool.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/hyouka/feedback"
	"github.com/ashita-ai/hyouka/internal/telemetry"
	"github.com/ashita-ai/hyouka/model"
	"github.com/ashita-ai/hyouka/pool"
)

const (
	// DefaultPollInterval is the sleep between polling cycles.
	DefaultPollInterval = 10 * time.Second

	// staleInProgress is how long an in-progress row may go without a
	// status update before another worker is assumed dead and the row is
	// resubmitted. Best-effort heuristic, not an exclusivity mechanism:
	// two schedulers can both observe a stale row and duplicate the work.
	// Each run writes a complete result, so duplicates waste effort but
	// never corrupt data.
	staleInProgress = 30 * time.Second

	// failedRetryDelay is the cooldown before a failed row is retried.
	// Transient and permanent failures are retried identically; a
	// deterministically failing feedback retries on this cadence until
	// its row is cleared.
	failedRetryDelay = 5 * time.Minute
)

var tracer = otel.Tracer("hyouka/scheduler")

// ErrAlreadyRunning is returned by Start when the evaluator loop is
// already running and no restart was requested.
var ErrAlreadyRunning = errors.New("scheduler: evaluator already running")

// ErrNotRunning is returned by Stop when no loop is running.
var ErrNotRunning = errors.New("scheduler: evaluator not running")

// Store is the persistence surface the scheduler needs. GetPendingFeedback
// lists every row not yet done; the remaining operations serve the
// submitted runs.
type Store interface {
	feedback.Store
	GetPendingFeedback(ctx context.Context) ([]model.FeedbackRow, error)
	CountFeedbackByStatus(ctx context.Context) (map[model.FeedbackStatus]int64, error)
}

// Evaluator owns one background polling loop. Construct with New; Start and
// Stop manage the loop's lifecycle. Stopping halts only the polling loop —
// already-submitted runs keep executing on the pool.
type Evaluator struct {
	store    Store
	registry *feedback.Registry
	pool     *pool.Pool
	logger   *slog.Logger
	interval time.Duration

	chains singleflight.Group // dedupes concurrent chain fetches across runs

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	metrics sync.Once
}

// New creates an evaluator. A non-positive interval uses
// DefaultPollInterval; a nil logger falls back to slog.Default().
func New(store Store, registry *feedback.Registry, p *pool.Pool, logger *slog.Logger, interval time.Duration) *Evaluator {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		store:    store,
		registry: registry,
		pool:     p,
		logger:   logger,
		interval: interval,
	}
}

// Start launches the background polling loop. A second Start on a running
// evaluator fails with ErrAlreadyRunning; callers wanting a restart must
// Stop first.
func (e *Evaluator) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return ErrAlreadyRunning
	}

	e.registerMetrics()

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.loop(loopCtx, e.done)

	e.logger.Info("scheduler: evaluator started", "poll_interval", e.interval)
	return nil
}

// Stop signals the loop to terminate and waits for it to exit, bounded by
// ctx. In-flight submissions keep running on the pool; bound them separately
// with pool.AwaitAll if needed. Returns ErrNotRunning when no loop runs.
func (e *Evaluator) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.cancel == nil {
		e.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := e.cancel, e.done
	e.cancel = nil
	e.done = nil
	e.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warn("scheduler: stop timed out waiting for loop exit")
		return ctx.Err()
	}
	e.logger.Info("scheduler: evaluator stopped")
	return nil
}

// Running reports whether the polling loop is active.
func (e *Evaluator) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancel != nil
}

// loop polls until ctx is cancelled. The stop signal is checked between
// cycles, never mid-row.
func (e *Evaluator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	// First cycle immediately; the ticker covers the rest.
	e.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runCycle(ctx)
		}
	}
}

// runCycle lists pending rows and applies the retry state machine to each:
//
//	queued                     → submit
//	in_progress, stale > 30s   → resubmit (previous worker presumed dead)
//	in_progress, fresh         → leave alone (another worker is progressing)
//	failed, stale > 5m         → resubmit
//	failed, fresh              → leave alone (cooldown)
//	done                       → nothing
func (e *Evaluator) runCycle(ctx context.Context) {
	rows, err := e.store.GetPendingFeedback(ctx)
	if err != nil {
		e.logger.Error("scheduler: list pending feedback", "error", err)
		return
	}

	now := time.Now()
	for _, row := range rows {
		age := now.Sub(row.LastUpdate)
		switch row.Status {
		case model.StatusQueued:
			e.submit(ctx, row)
		case model.StatusInProgress:
			if age > staleInProgress {
				e.logger.Info("scheduler: retrying stale in-progress row",
					"record_id", row.RecordID, "feedback_id", row.FeedbackID, "age", age)
				e.submit(ctx, row)
			}
		case model.StatusFailed:
			if age > failedRetryDelay {
				e.logger.Info("scheduler: retrying failed row",
					"record_id", row.RecordID, "feedback_id", row.FeedbackID, "age", age)
				e.submit(ctx, row)
			}
		case model.StatusDone:
			// Nothing to do.
		default:
			e.logger.Warn("scheduler: row with unknown status",
				"record_id", row.RecordID, "feedback_id", row.FeedbackID, "status", row.Status)
		}
	}
}

// submit hands the row to the pool fire-and-forget. The run detaches from
// the loop context so stopping the scheduler does not cancel it.
func (e *Evaluator) submit(ctx context.Context, row model.FeedbackRow) {
	runCtx := context.WithoutCancel(ctx)
	e.pool.RunLater(func() error {
		runCtx, span := tracer.Start(runCtx, "scheduler.run",
			trace.WithAttributes(
				attribute.String("hyouka.record_id", row.RecordID),
				attribute.String("hyouka.feedback_id", row.FeedbackID),
				attribute.String("hyouka.status", string(row.Status)),
			),
		)
		defer span.End()

		f, err := feedback.OfJSON(row.Definition, e.registry)
		if err != nil {
			// A definition that cannot be rehydrated will never succeed;
			// park the row as failed so it surfaces instead of spinning.
			e.logger.Error("scheduler: rehydrate feedback definition",
				"record_id", row.RecordID, "feedback_id", row.FeedbackID, "error", err)
			payload, _ := json.Marshal(map[string]any{"success": false, "error": err.Error()})
			return e.store.SetFeedbackStatus(runCtx, row.RecordID, row.FeedbackID,
				model.StatusFailed, payload, row.TotalCost, row.TotalTokens)
		}
		return f.RunAndLog(runCtx, e.dedupedStore(), row.RecordID)
	})
}

// dedupedStore wraps the store so concurrent runs fetching the same chain
// share one query.
func (e *Evaluator) dedupedStore() feedback.Store {
	return &chainDedupStore{Store: e.store, group: &e.chains}
}

type chainDedupStore struct {
	Store
	group *singleflight.Group
}

func (s *chainDedupStore) GetChain(ctx context.Context, chainID string) (*model.Chain, error) {
	v, err, _ := s.group.Do(chainID, func() (any, error) {
		return s.Store.GetChain(ctx, chainID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Chain), nil
}

// registerMetrics registers an observable gauge of pending rows by status.
func (e *Evaluator) registerMetrics() {
	e.metrics.Do(func() {
		meter := telemetry.Meter("hyouka/scheduler")
		_, _ = meter.Int64ObservableGauge("hyouka.feedback.pending",
			metric.WithDescription("Deferred feedback rows not yet done"),
			metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
				counts, err := e.store.CountFeedbackByStatus(ctx)
				if err != nil {
					return nil // skip this observation
				}
				var pending int64
				for status, n := range counts {
					if status != model.StatusDone {
						pending += n
					}
				}
				o.Observe(pending)
				return nil
			}),
		)
	})
}
