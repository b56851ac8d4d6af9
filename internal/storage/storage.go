package storage

import (
	"context"

	"github.com/gateway-fm/stps/pkg/types"
)

// Storage defines the persistence interface for benchmark runs.
type Storage interface {
	// Run lifecycle
	CreateRun(ctx context.Context, run *Run) error
	CompleteRun(ctx context.Context, id string, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)

	// History queries
	ListRuns(ctx context.Context, limit, offset int) (*PaginatedRuns, error)

	// Per-block throughput series (written once the series is computed)
	BulkInsertTPSSeries(ctx context.Context, runID string, samples []types.TPSSample) error
	GetTPSSeries(ctx context.Context, runID string) ([]types.TPSSample, error)

	// Lifecycle
	Close() error
}
