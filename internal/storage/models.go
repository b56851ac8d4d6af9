// Package storage archives benchmark runs for later inspection.
package storage

import (
	"time"

	"github.com/google/uuid"

	"github.com/gateway-fm/stps/pkg/types"
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusError     = "error"
)

// Run is a persisted benchmark run with its summary.
// JSON tags use camelCase to match the HTTP API.
type Run struct {
	ID             string     `json:"id"`
	StartedAt      time.Time  `json:"startedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	Command        string     `json:"command"` // CLI command that produced the run
	Node           string     `json:"node"`
	ExecutionLayer string     `json:"executionLayer"`
	Target         uint64     `json:"target"`
	ChunkSize      int        `json:"chunkSize"`
	SenderIndex    int        `json:"senderIndex"`
	TotalSenders   int        `json:"totalSenders"`
	Status         string     `json:"status"` // "running", "completed", "error"
	ErrorMessage   string     `json:"errorMessage,omitempty"`

	Metrics *types.RunMetrics `json:"metrics,omitempty"`
	TPS     *types.TPSSummary `json:"tps,omitempty"`
	// Verified is true once the on-chain transfer count matched the target.
	Verified bool `json:"verified"`
}

// NewRun returns a running Run with a fresh id.
func NewRun(command, node string, target uint64) *Run {
	return &Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Command:   command,
		Node:      node,
		Target:    target,
		Status:    RunStatusRunning,
	}
}

// Fail marks the run as failed with err.
func (r *Run) Fail(err error) {
	r.Status = RunStatusError
	r.ErrorMessage = err.Error()
}

// PaginatedRuns is a page of runs, newest first.
type PaginatedRuns struct {
	Runs   []Run `json:"runs"`
	Total  int   `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}
