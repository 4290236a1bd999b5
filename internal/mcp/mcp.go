// Package mcp implements the Model Context Protocol surface for hyouka.
//
// MCP-compatible agents can run registered feedback functions against
// recorded executions, list persisted results, and inspect the deferred
// evaluation queue.
package mcp

import (
	"context"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/hyouka/feedback"
	"github.com/ashita-ai/hyouka/model"
)

// Store is the persistence surface the MCP handlers read from.
type Store interface {
	feedback.Store
	ListFeedbackResults(ctx context.Context, recordID string, limit int) ([]model.FeedbackResult, error)
	CountFeedbackByStatus(ctx context.Context) (map[model.FeedbackStatus]int64, error)
	InsertFeedbackResult(ctx context.Context, res model.FeedbackResult) error
}

// Server wraps the MCP server with hyouka's evaluation core.
type Server struct {
	mcpServer *mcpserver.MCPServer
	store     Store
	registry  *feedback.Registry
	logger    *slog.Logger
}

// New creates and configures an MCP server with all resources and tools.
func New(store Store, registry *feedback.Registry, logger *slog.Logger, version string) *Server {
	s := &Server{
		store:    store,
		registry: registry,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"hyouka",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
