// Package hyouka is the public API for embedding the hyouka feedback
// evaluation core.
//
// A Workspace ties together persistence, a worker pool, and the deferred
// evaluator:
//
//	ws, err := hyouka.New(
//	    hyouka.WithLogger(logger),
//	    hyouka.WithSQLitePath("default.sqlite"),
//	)
//	if err != nil { ... }
//	defer ws.Close(context.Background())
//
//	ws.AddFeedback(relevance)
//	results, err := ws.RunFeedbacks(ctx, record)
//
// The import graph enforces a strict no-cycle rule: hyouka (root) imports
// internal/* and the public leaf packages (model, lens, feedback, pool),
// but none of those ever import hyouka (root).
package hyouka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/hyouka/feedback"
	"github.com/ashita-ai/hyouka/internal/config"
	"github.com/ashita-ai/hyouka/internal/scheduler"
	"github.com/ashita-ai/hyouka/internal/storage"
	"github.com/ashita-ai/hyouka/internal/telemetry"
	"github.com/ashita-ai/hyouka/migrations"
	"github.com/ashita-ai/hyouka/model"
	"github.com/ashita-ai/hyouka/pool"
)

// ErrEvaluatorRunning is returned by StartEvaluator when the deferred
// evaluator is already running and no restart was requested.
var ErrEvaluatorRunning = errors.New("hyouka: evaluator already running")

// ErrEvaluatorNotRunning is returned by StopEvaluator when the deferred
// evaluator is not running.
var ErrEvaluatorNotRunning = errors.New("hyouka: evaluator not running")

// Workspace is the top-level handle for recording executions and evaluating
// feedback over them. Construct with New(); release with Close().
// Workspace has no public fields — use New() options to configure it.
type Workspace struct {
	cfg          config.Config
	store        Store
	ownsStore    bool
	registry     *feedback.Registry
	pool         *pool.Pool
	evaluator    *scheduler.Evaluator
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string

	feedbacks []*feedback.Feedback
}

// New initialises a Workspace. It opens the configured store (Postgres when
// DATABASE_URL is set, a local SQLite file otherwise), runs migrations,
// starts the worker pool, and wires the deferred evaluator. The evaluator
// loop is NOT started — call StartEvaluator().
func New(opts ...Option) (*Workspace, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	if o.poolSize > 0 {
		cfg.PoolSize = o.poolSize
	}
	if o.pollInterval > 0 {
		cfg.PollInterval = o.pollInterval
	}
	if o.drainTimeout > 0 {
		cfg.DrainTimeout = o.drainTimeout
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("hyouka starting", "version", version)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Open the store: explicit override, Postgres, or the SQLite fallback.
	store := o.store
	ownsStore := false
	switch {
	case store != nil:
		// Caller-owned; lifecycle is theirs.
	case cfg.DatabaseURL != "":
		db, err := storage.New(context.Background(), cfg.DatabaseURL, logger)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("storage: %w", err)
		}
		if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
			_ = db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("migrations: %w", err)
		}
		store = db
		ownsStore = true
	default:
		lite, err := storage.OpenSQLite(context.Background(), cfg.SQLitePath, logger)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("storage: %w", err)
		}
		store = lite
		ownsStore = true
	}

	registry := o.registry
	if registry == nil {
		registry = feedback.NewRegistry()
	}

	p := pool.New(cfg.PoolSize, logger)
	p.RegisterMetrics()

	ev := scheduler.New(store, registry, p, logger, cfg.PollInterval)

	return &Workspace{
		cfg:          cfg,
		store:        store,
		ownsStore:    ownsStore,
		registry:     registry,
		pool:         p,
		evaluator:    ev,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Store returns the persistence backend.
func (w *Workspace) Store() Store { return w.store }

// Registry returns the feedback implementation registry. Register provider
// methods here before rehydrating deferred rows or serving MCP calls.
func (w *Workspace) Registry() *feedback.Registry { return w.registry }

// Pool returns the shared worker pool.
func (w *Workspace) Pool() *pool.Pool { return w.pool }

// Version returns the version string the Workspace reports.
func (w *Workspace) Version() string { return w.version }

// AddChain stores a chain description and returns it with its content-derived
// id filled in. Adding the same definition twice yields the same id and is
// idempotent.
func (w *Workspace) AddChain(ctx context.Context, definition map[string]any) (*model.Chain, error) {
	chain := &model.Chain{
		Definition: definition,
		CreatedAt:  time.Now().UTC(),
	}
	chain.ID = model.ObjID("chain", definition)
	if err := w.store.InsertChain(ctx, chain); err != nil {
		return nil, err
	}
	return chain, nil
}

// AddRecord stores an execution record. A missing record id is derived from
// the record's content, so identical records collapse to one row.
func (w *Workspace) AddRecord(ctx context.Context, rec *model.Record) (*model.Record, error) {
	if rec.ChainID == "" {
		return nil, fmt.Errorf("hyouka: record has no chain id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.ID == "" {
		rec.ID = model.ObjID("record", rec)
	}
	if err := w.store.InsertRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// AddFeedback registers a feedback function for the synchronous RunFeedbacks
// and batch QueueFeedbacks paths.
func (w *Workspace) AddFeedback(fbs ...*feedback.Feedback) {
	w.feedbacks = append(w.feedbacks, fbs...)
}

// RunFeedbacks evaluates feedback functions against a record in parallel on
// the worker pool and persists every result. When no feedbacks are passed,
// the Workspace's registered set is used. Individual evaluation failures are
// reported inside the corresponding result, never as an error; the returned
// error covers only record/chain lookup.
func (w *Workspace) RunFeedbacks(ctx context.Context, rec *model.Record, fbs ...*feedback.Feedback) ([]model.FeedbackResult, error) {
	if len(fbs) == 0 {
		fbs = w.feedbacks
	}
	if len(fbs) == 0 {
		return nil, nil
	}

	chain, err := w.store.GetChain(ctx, rec.ChainID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("hyouka: fetch chain %s: %w", rec.ChainID, err)
	}

	promises := make([]*pool.Promise, len(fbs))
	for i, f := range fbs {
		f := f
		promises[i] = w.pool.Submit(func() (any, error) {
			return f.Run(ctx, chain, rec), nil
		})
	}

	results := make([]model.FeedbackResult, len(fbs))
	for i, pr := range promises {
		v, err := pr.Get()
		if err != nil {
			// Only a panic inside Run can land here; surface it as a
			// failed result to keep the run path non-raising.
			results[i] = model.FeedbackResult{
				FeedbackDefinitionID: fbs[i].Definition().ID,
				RecordID:             rec.ID,
				ChainID:              rec.ChainID,
				Error:                err.Error(),
			}
		} else {
			results[i] = v.(model.FeedbackResult)
		}
		if err := w.store.InsertFeedbackResult(ctx, results[i]); err != nil {
			w.logger.Error("hyouka: persist feedback result",
				"record_id", rec.ID, "feedback_id", results[i].FeedbackDefinitionID, "error", err)
		}
	}
	return results, nil
}

// QueueFeedback enqueues one feedback for deferred evaluation of a record.
// The running evaluator picks it up on its next polling cycle.
func (w *Workspace) QueueFeedback(ctx context.Context, recordID string, f *feedback.Feedback) error {
	return w.store.QueueFeedback(ctx, recordID, f.Definition())
}

// QueueFeedbacks enqueues every registered feedback for deferred evaluation
// of a record.
func (w *Workspace) QueueFeedbacks(ctx context.Context, recordID string) error {
	for _, f := range w.feedbacks {
		if err := w.QueueFeedback(ctx, recordID, f); err != nil {
			return err
		}
	}
	return nil
}

// StartEvaluator starts the deferred evaluation loop. With restart=false a
// second start fails with ErrEvaluatorRunning; with restart=true a running
// loop is stopped and a fresh one started.
func (w *Workspace) StartEvaluator(ctx context.Context, restart bool) error {
	if restart {
		if err := w.evaluator.Stop(ctx); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
			return err
		}
	}
	if err := w.evaluator.Start(ctx); err != nil {
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			return ErrEvaluatorRunning
		}
		return err
	}
	return nil
}

// StopEvaluator stops the deferred evaluation loop and waits up to the
// configured drain timeout for already-submitted evaluations to finish.
// Returns ErrEvaluatorNotRunning when no loop is running.
func (w *Workspace) StopEvaluator(ctx context.Context) error {
	if err := w.evaluator.Stop(ctx); err != nil {
		if errors.Is(err, scheduler.ErrNotRunning) {
			return ErrEvaluatorNotRunning
		}
		return err
	}
	if !w.pool.AwaitAll(w.cfg.DrainTimeout) {
		w.logger.Warn("hyouka: drain timed out with evaluations still in flight",
			"outstanding", w.pool.Outstanding())
	}
	return nil
}

// EvaluatorRunning reports whether the deferred evaluation loop is active.
func (w *Workspace) EvaluatorRunning() bool { return w.evaluator.Running() }

// Close stops the evaluator if running, drains and closes the worker pool,
// closes the store (unless supplied via WithStore), and shuts down telemetry.
func (w *Workspace) Close(ctx context.Context) error {
	w.logger.Info("hyouka shutting down")

	if err := w.StopEvaluator(ctx); err != nil && !errors.Is(err, ErrEvaluatorNotRunning) {
		w.logger.Error("hyouka: stop evaluator", "error", err)
	}
	w.pool.Close()

	var firstErr error
	if w.ownsStore {
		if err := w.store.Close(ctx); err != nil {
			firstErr = err
		}
	}
	if err := w.otelShutdown(context.Background()); err != nil && firstErr == nil {
		firstErr = err
	}

	w.logger.Info("hyouka stopped")
	return firstErr
}
