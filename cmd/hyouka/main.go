// Command hyouka runs the deferred feedback evaluator as a daemon: it polls
// the persisted queue, evaluates rows on a worker pool, and exposes the
// evaluation core to MCP-compatible agents over StreamableHTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/hyouka"
	"github.com/ashita-ai/hyouka/feedback"
	"github.com/ashita-ai/hyouka/internal/config"
	"github.com/ashita-ai/hyouka/internal/mcp"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("HYOUKA_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	ws, err := hyouka.New(
		hyouka.WithLogger(logger),
		hyouka.WithVersion(version),
	)
	if err != nil {
		return err
	}
	defer func() { _ = ws.Close(context.Background()) }()

	// Built-in reference providers. Real deployments register their own
	// scoring providers through Registry() before starting the evaluator.
	if err := registerBuiltins(ws.Registry()); err != nil {
		return fmt.Errorf("register builtins: %w", err)
	}

	if err := ws.StartEvaluator(ctx, false); err != nil {
		return fmt.Errorf("start evaluator: %w", err)
	}

	// cfg is re-read here only for the HTTP listener settings; the Workspace
	// already consumed the rest.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	mcpSrv := mcp.New(ws.Store(), ws.Registry(), logger, version)

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(mcpSrv.MCPServer()))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		if err := ws.Store().Ping(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":            status,
			"version":           version,
			"evaluator_running": ws.EvaluatorRunning(),
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	// ws.Close (deferred) stops the evaluator and drains the pool.
	return nil
}

// registerBuiltins installs simple deterministic text metrics so a fresh
// daemon can evaluate something without external scoring services.
func registerBuiltins(reg *feedback.Registry) error {
	funcs := []feedback.Func{
		{
			Provider: "builtin",
			Name:     "non_empty",
			Params:   []string{"text"},
			Call: func(ctx context.Context, args map[string]any) (any, error) {
				s, ok := args["text"].(string)
				if !ok {
					return nil, fmt.Errorf("non_empty: want string text, got %T", args["text"])
				}
				if strings.TrimSpace(s) == "" {
					return 0.0, nil
				}
				return 1.0, nil
			},
		},
		{
			Provider: "builtin",
			Name:     "length_score",
			Params:   []string{"text"},
			Call: func(ctx context.Context, args map[string]any) (any, error) {
				s, ok := args["text"].(string)
				if !ok {
					return nil, fmt.Errorf("length_score: want string text, got %T", args["text"])
				}
				// Saturates at 1.0 for 256 runes or more.
				n := utf8.RuneCountInString(s)
				if n >= 256 {
					return 1.0, nil
				}
				return float64(n) / 256.0, nil
			},
		},
	}
	for _, f := range funcs {
		if err := reg.Register(f); err != nil {
			return err
		}
	}
	return nil
}
