package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/hyouka/feedback"
)

func (s *Server) registerTools() {
	// hyouka_run — evaluate a registered feedback function on a record.
	s.mcpServer.AddTool(
		mcplib.NewTool("hyouka_run",
			mcplib.WithDescription(`Run a registered feedback function against a recorded execution.

The feedback implementation is addressed by provider and method (e.g.
provider="openai", method="relevance"). The selector chooses what the
single-argument implementation receives: the record's overall input text
or its overall output text. The result is returned whether the evaluation
succeeded or failed — failures carry an error message instead of a score.`),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("record_id",
				mcplib.Description("Identifier of the recorded execution to evaluate"),
				mcplib.Required(),
			),
			mcplib.WithString("provider",
				mcplib.Description("Registered scoring provider, e.g. \"openai\""),
				mcplib.Required(),
			),
			mcplib.WithString("method",
				mcplib.Description("Feedback method of the provider, e.g. \"relevance\""),
				mcplib.Required(),
			),
			mcplib.WithString("selector",
				mcplib.Description("What to score: \"input\" or \"output\" (default \"output\")"),
			),
		),
		s.handleRun,
	)

	// hyouka_results — list persisted feedback results for a record.
	s.mcpServer.AddTool(
		mcplib.NewTool("hyouka_results",
			mcplib.WithDescription("List persisted feedback results for a recorded execution, newest first."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("record_id",
				mcplib.Description("Identifier of the recorded execution"),
				mcplib.Required(),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of results to return"),
				mcplib.Min(1),
				mcplib.Max(500),
				mcplib.DefaultNumber(20),
			),
		),
		s.handleResults,
	)

	// hyouka_queue — deferred evaluation queue status.
	s.mcpServer.AddTool(
		mcplib.NewTool("hyouka_queue",
			mcplib.WithDescription("Show the deferred evaluation queue: row counts by status and the registered feedback implementations."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
		),
		s.handleQueue,
	)
}

func (s *Server) handleRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	recordID := request.GetString("record_id", "")
	provider := request.GetString("provider", "")
	method := request.GetString("method", "")
	if recordID == "" || provider == "" || method == "" {
		return errorResult("record_id, provider, and method are required"), nil
	}

	imp, ok := s.registry.Lookup(provider, method)
	if !ok {
		return errorResult(fmt.Sprintf("no registered implementation %s.%s", provider, method)), nil
	}

	base, err := feedback.New(imp, nil)
	if err != nil {
		return errorResult(fmt.Sprintf("bind feedback: %v", err)), nil
	}
	var f *feedback.Feedback
	switch sel := request.GetString("selector", "output"); sel {
	case "input":
		f, err = base.OnInput()
	case "output":
		f, err = base.OnOutput()
	default:
		return errorResult(fmt.Sprintf("unknown selector %q (want \"input\" or \"output\")", sel)), nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("bind selector: %v", err)), nil
	}

	record, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return errorResult(fmt.Sprintf("fetch record: %v", err)), nil
	}
	chain, err := s.store.GetChain(ctx, record.ChainID)
	if err != nil {
		return errorResult(fmt.Sprintf("fetch chain: %v", err)), nil
	}

	res := f.Run(ctx, chain, record)
	if err := s.store.InsertFeedbackResult(ctx, res); err != nil {
		s.logger.Error("mcp: persist feedback result", "error", err)
	}

	resultData, _ := json.MarshalIndent(res, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func (s *Server) handleResults(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	recordID := request.GetString("record_id", "")
	if recordID == "" {
		return errorResult("record_id is required"), nil
	}
	limit := request.GetInt("limit", 20)

	results, err := s.store.ListFeedbackResults(ctx, recordID, limit)
	if err != nil {
		return errorResult(fmt.Sprintf("list results: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"record_id": recordID,
		"count":     len(results),
		"results":   results,
	}, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func (s *Server) handleQueue(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	counts, err := s.store.CountFeedbackByStatus(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("count queue: %v", err)), nil
	}

	byStatus := make(map[string]int64, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
	}
	resultData, _ := json.MarshalIndent(map[string]any{
		"by_status":  byStatus,
		"registered": s.registry.Names(),
	}, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}
