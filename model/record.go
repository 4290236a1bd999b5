// Package model defines the core domain types for hyouka: execution records,
// chain descriptions, feedback definitions, and persisted feedback rows.
//
// Records and chains are written once by the instrumentation layer and read
// many times by the evaluation core. Types stay close to their JSON and
// database representations.
package model

import (
	"time"
)

// Record is the full execution history of one chain invocation: the overall
// input and output text plus the nested structure of sub-invocations.
// Immutable once created.
type Record struct {
	ID        string         `json:"record_id"`
	ChainID   string         `json:"chain_id"`
	Input     string         `json:"input"`
	Output    string         `json:"output"`
	Calls     map[string]any `json:"calls,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Layout returns the record as a nested map suitable for lens evaluation.
// Sub-invocation calls appear under "chain" so record-rooted lenses address
// them by component position, mirroring the chain description's shape.
func (r *Record) Layout() map[string]any {
	return map[string]any{
		"record_id": r.ID,
		"chain_id":  r.ChainID,
		"input":     r.Input,
		"output":    r.Output,
		"chain":     r.Calls,
	}
}

// Chain is a serializable description of an instrumented application — its
// component graph, not its runtime instance. Immutable.
type Chain struct {
	ID         string         `json:"chain_id"`
	Definition map[string]any `json:"chain"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Layout returns the chain description as a nested map for lens evaluation.
func (c *Chain) Layout() map[string]any {
	return map[string]any{
		"chain_id": c.ID,
		"chain":    c.Definition,
	}
}
