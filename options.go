package hyouka

import (
	"log/slog"
	"time"

	"github.com/ashita-ai/hyouka/feedback"
)

// Option configures a Workspace.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	store        Store
	databaseURL  string
	sqlitePath   string
	logger       *slog.Logger
	version      string
	registry     *feedback.Registry
	poolSize     int
	pollInterval time.Duration
	drainTimeout time.Duration
}

// WithStore supplies an external persistence backend. When set, the
// DATABASE_URL / SQLite configuration is ignored and the Workspace does not
// close the store on Close — the caller owns its lifecycle.
func WithStore(s Store) Option {
	return func(o *resolvedOptions) { o.store = s }
}

// WithDatabaseURL overrides the Postgres connection string from config
// (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithSQLitePath overrides the local SQLite file path from config
// (HYOUKA_SQLITE_PATH env var). Used only when no Postgres URL is set.
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithLogger sets the structured logger for the Workspace.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and the MCP server.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithRegistry supplies a pre-populated feedback implementation registry.
// If not set, the Workspace starts with an empty registry; register
// implementations through Registry() before queueing deferred work.
func WithRegistry(reg *feedback.Registry) Option {
	return func(o *resolvedOptions) { o.registry = reg }
}

// WithPoolSize overrides the worker pool size from config (HYOUKA_POOL_SIZE
// env var).
func WithPoolSize(n int) Option {
	return func(o *resolvedOptions) { o.poolSize = n }
}

// WithPollInterval overrides the deferred-evaluator polling interval from
// config (HYOUKA_POLL_INTERVAL env var).
func WithPollInterval(d time.Duration) Option {
	return func(o *resolvedOptions) { o.pollInterval = d }
}

// WithDrainTimeout overrides the bound on waiting for in-flight evaluations
// during StopEvaluator and Close (HYOUKA_DRAIN_TIMEOUT env var).
func WithDrainTimeout(d time.Duration) Option {
	return func(o *resolvedOptions) { o.drainTimeout = d }
}
