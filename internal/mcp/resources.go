package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerResources() {
	// hyouka://queue/status — deferred evaluation queue counts.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"hyouka://queue/status",
			"Queue Status",
			mcplib.WithResourceDescription("Deferred evaluation queue row counts by status"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleQueueStatus,
	)

	// hyouka://record/{id}/results — persisted results for one record.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"hyouka://record/{id}/results",
			"Record Results",
			mcplib.WithTemplateDescription("Persisted feedback results for a specific record"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleRecordResults,
	)
}

func (s *Server) handleQueueStatus(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	counts, err := s.store.CountFeedbackByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: queue status: %w", err)
	}

	byStatus := make(map[string]int64, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
	}
	data, err := json.MarshalIndent(map[string]any{
		"by_status":  byStatus,
		"registered": s.registry.Names(),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal queue status: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "hyouka://queue/status",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleRecordResults(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	// Extract the record id from hyouka://record/{id}/results.
	uri := request.Params.URI
	recordID := strings.TrimSuffix(strings.TrimPrefix(uri, "hyouka://record/"), "/results")
	if recordID == "" || recordID == uri {
		return nil, fmt.Errorf("mcp: invalid record results URI: %s", uri)
	}

	results, err := s.store.ListFeedbackResults(ctx, recordID, 50)
	if err != nil {
		return nil, fmt.Errorf("mcp: record results: %w", err)
	}

	data, err := json.MarshalIndent(map[string]any{
		"record_id": recordID,
		"results":   results,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal record results: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
