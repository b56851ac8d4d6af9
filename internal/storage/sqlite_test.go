package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/gateway-fm/stps/pkg/types"
)

func TestNullString(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
	}{
		{"empty string returns invalid", "", false},
		{"non-empty string returns valid", "hello", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nullString(tt.input)
			if got.Valid != tt.wantValid {
				t.Errorf("nullString(%q).Valid = %v, want %v", tt.input, got.Valid, tt.wantValid)
			}
			if got.Valid && got.String != tt.input {
				t.Errorf("nullString(%q).String = %q", tt.input, got.String)
			}
		})
	}
}

// createTestStorage creates a new SQLite storage with a temporary database.
func createTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	storage, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	return storage
}

var _ Storage = (*SQLiteStorage)(nil)

func TestNewSQLiteStorage_InvalidPath(t *testing.T) {
	// Use a path that should be impossible to create
	_, err := NewSQLiteStorage("/nonexistent/directory/that/should/not/exist/test.db")
	if err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestCreateAndGetRun(t *testing.T) {
	storage := createTestStorage(t)
	ctx := context.Background()

	run := NewRun("send-balance-transfers", "alice", 16384)
	run.ChunkSize = 512
	if err := storage.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := storage.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Command != run.Command || got.Node != "alice" || got.Target != 16384 || got.ChunkSize != 512 {
		t.Errorf("run = %+v", got)
	}
	if got.Status != RunStatusRunning || got.ExecutionLayer != "geth" || got.TotalSenders != 1 {
		t.Errorf("defaults not applied: %+v", got)
	}
	if got.CompletedAt != nil || got.Metrics != nil || got.TPS != nil {
		t.Errorf("incomplete run has results: %+v", got)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	storage := createTestStorage(t)
	if _, err := storage.GetRun(context.Background(), "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestCompleteRun(t *testing.T) {
	storage := createTestStorage(t)
	ctx := context.Background()

	run := NewRun("run", "alice", 100)
	if err := storage.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	run.Status = RunStatusCompleted
	run.Verified = true
	run.Metrics = &types.RunMetrics{TotalSubmitted: 100, ElapsedMs: 2000, CumulativeTPS: 50, Chunks: 1}
	run.TPS = &types.TPSSummary{FirstBlock: 1, LastBlock: 4, Transfers: 100, AverageTPS: 48.5, PeakTPS: 60}
	if err := storage.CompleteRun(ctx, run.ID, run); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	got, err := storage.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.CompletedAt == nil || !got.Verified || got.Status != RunStatusCompleted {
		t.Errorf("run = %+v", got)
	}
	if got.Metrics == nil || got.Metrics.TotalSubmitted != 100 || got.Metrics.CumulativeTPS != 50 {
		t.Errorf("metrics = %+v", got.Metrics)
	}
	if got.TPS == nil || got.TPS.PeakTPS != 60 || got.TPS.LastBlock != 4 {
		t.Errorf("tps = %+v", got.TPS)
	}
}

func TestCompleteRunFailed(t *testing.T) {
	storage := createTestStorage(t)
	ctx := context.Background()

	run := NewRun("check-post-conditions", "bob", 10)
	if err := storage.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	run.Fail(errors.New("expected 10 Transfer events, found 9"))
	if err := storage.CompleteRun(ctx, run.ID, run); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	got, err := storage.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != RunStatusError || got.ErrorMessage != "expected 10 Transfer events, found 9" || got.Verified {
		t.Errorf("run = %+v", got)
	}

	if err := storage.CompleteRun(ctx, "missing", run); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestListRuns(t *testing.T) {
	storage := createTestStorage(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := range 5 {
		run := NewRun("run", "alice", uint64(i))
		run.StartedAt = base.Add(time.Duration(i) * time.Minute)
		if err := storage.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
		ids = append(ids, run.ID)
	}

	page, err := storage.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if page.Total != 5 || len(page.Runs) != 2 {
		t.Fatalf("page = total %d, runs %d", page.Total, len(page.Runs))
	}
	if page.Runs[0].ID != ids[4] || page.Runs[1].ID != ids[3] {
		t.Errorf("runs not newest first")
	}

	page, err = storage.ListRuns(ctx, 10, 4)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(page.Runs) != 1 || page.Runs[0].ID != ids[0] {
		t.Errorf("last page = %+v", page.Runs)
	}
}

func TestListRuns_Empty(t *testing.T) {
	page, err := createTestStorage(t).ListRuns(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if page.Total != 0 || page.Runs == nil || len(page.Runs) != 0 {
		t.Errorf("page = %+v, want an empty non-nil list", page)
	}
}

func TestBulkInsertAndGetTPSSeries(t *testing.T) {
	storage := createTestStorage(t)
	ctx := context.Background()

	run := NewRun("calculate-tps", "alice", 0)
	if err := storage.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	samples := []types.TPSSample{
		{Block: 3, Transfers: 100, DurationMs: 2000, TPS: 50},
		{Block: 2, Transfers: 0, DurationMs: 1000, Empty: true},
		{Block: 4, Transfers: 10, DurationMs: 0, ZeroDuration: true},
	}
	if err := storage.BulkInsertTPSSeries(ctx, run.ID, samples); err != nil {
		t.Fatalf("BulkInsertTPSSeries: %v", err)
	}

	got, err := storage.GetTPSSeries(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetTPSSeries: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Block != 2 || !got[0].Empty {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].TPS != 50 || got[1].Transfers != 100 || !got[1].HasTPS() {
		t.Errorf("got[1] = %+v", got[1])
	}
	if !got[2].ZeroDuration || got[2].HasTPS() {
		t.Errorf("got[2] = %+v", got[2])
	}
}

func TestBulkInsertTPSSeries_Empty(t *testing.T) {
	storage := createTestStorage(t)
	if err := storage.BulkInsertTPSSeries(context.Background(), "any", nil); err != nil {
		t.Errorf("BulkInsertTPSSeries(nil) = %v", err)
	}
}

func TestBulkInsertTPSSeries_UnknownRun(t *testing.T) {
	storage := createTestStorage(t)
	err := storage.BulkInsertTPSSeries(context.Background(), "missing", []types.TPSSample{{Block: 1}})
	if err == nil {
		t.Error("expected foreign key violation")
	}
}
