package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/stps/pkg/types"
)

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// unmarshalJSON unmarshals JSON and logs any errors without failing.
// This is used for non-critical JSON fields where we want to gracefully
// handle corruption without failing the entire query.
func unmarshalJSON(data string, v any, field string, runID string) {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		slog.Warn("failed to unmarshal JSON field",
			"field", field,
			"runID", runID,
			"error", err.Error(),
			"dataLen", len(data))
	}
}

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrent performance
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// migrate creates the schema.
func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		command TEXT NOT NULL,
		node TEXT NOT NULL,
		execution_layer TEXT DEFAULT 'geth',
		target INTEGER NOT NULL,
		chunk_size INTEGER DEFAULT 0,
		sender_index INTEGER DEFAULT 0,
		total_senders INTEGER DEFAULT 1,
		status TEXT DEFAULT 'running',
		error_message TEXT,
		metrics TEXT,
		tps_summary TEXT,
		verified INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS tps_series (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		block_number INTEGER NOT NULL,
		transfers INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		tps REAL DEFAULT 0,
		empty INTEGER DEFAULT 0,
		zero_duration INTEGER DEFAULT 0,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tps_series_run ON tps_series(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run record.
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *Run) error {
	// Default to "geth" if not specified
	executionLayer := run.ExecutionLayer
	if executionLayer == "" {
		executionLayer = "geth"
	}
	totalSenders := run.TotalSenders
	if totalSenders == 0 {
		totalSenders = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, command, node, execution_layer, target, chunk_size, sender_index, total_senders, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt, run.Command, run.Node, executionLayer, run.Target, run.ChunkSize,
		run.SenderIndex, totalSenders, run.Status)
	return err
}

// CompleteRun stores the final state of a run.
func (s *SQLiteStorage) CompleteRun(ctx context.Context, id string, run *Run) error {
	metricsJSON, _ := json.Marshal(run.Metrics)
	tpsJSON, _ := json.Marshal(run.TPS)

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			completed_at = ?,
			status = ?,
			error_message = ?,
			metrics = ?,
			tps_summary = ?,
			verified = ?
		WHERE id = ?
	`, now, run.Status, nullString(run.ErrorMessage), string(metricsJSON), string(tpsJSON), run.Verified, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	run.CompletedAt = &now
	return nil
}

const runColumns = `id, started_at, completed_at, command, node, COALESCE(execution_layer, 'geth'),
	target, chunk_size, sender_index, total_senders, status, error_message,
	metrics, tps_summary, COALESCE(verified, 0)`

// GetRun retrieves a single run by id.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// ListRuns returns a page of runs, newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit, offset int) (*PaginatedRuns, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &PaginatedRuns{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var completedAt sql.NullTime
	var errorMessage, metricsJSON, tpsJSON sql.NullString

	err := row.Scan(&run.ID, &run.StartedAt, &completedAt, &run.Command, &run.Node, &run.ExecutionLayer,
		&run.Target, &run.ChunkSize, &run.SenderIndex, &run.TotalSenders, &run.Status, &errorMessage,
		&metricsJSON, &tpsJSON, &run.Verified)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if errorMessage.Valid {
		run.ErrorMessage = errorMessage.String
	}
	if metricsJSON.Valid && metricsJSON.String != "null" {
		run.Metrics = &types.RunMetrics{}
		unmarshalJSON(metricsJSON.String, run.Metrics, "metrics", run.ID)
	}
	if tpsJSON.Valid && tpsJSON.String != "null" {
		run.TPS = &types.TPSSummary{}
		unmarshalJSON(tpsJSON.String, run.TPS, "tps_summary", run.ID)
	}
	return &run, nil
}

// BulkInsertTPSSeries inserts a run's per-block samples in one transaction.
func (s *SQLiteStorage) BulkInsertTPSSeries(ctx context.Context, runID string, samples []types.TPSSample) error {
	if len(samples) == 0 {
		return nil
	}

	// Single commit at the end - this is where the fsync happens
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tps_series (run_id, block_number, transfers, duration_ms, tps, empty, zero_duration)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range samples {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := stmt.ExecContext(ctx, runID, p.Block, p.Transfers, p.DurationMs, p.TPS, p.Empty, p.ZeroDuration); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetTPSSeries returns a run's samples in block order.
func (s *SQLiteStorage) GetTPSSeries(ctx context.Context, runID string) ([]types.TPSSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT block_number, transfers, duration_ms, COALESCE(tps, 0), COALESCE(empty, 0), COALESCE(zero_duration, 0)
		FROM tps_series
		WHERE run_id = ?
		ORDER BY block_number
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []types.TPSSample
	for rows.Next() {
		var p types.TPSSample
		if err := rows.Scan(&p.Block, &p.Transfers, &p.DurationMs, &p.TPS, &p.Empty, &p.ZeroDuration); err != nil {
			return nil, err
		}
		samples = append(samples, p)
	}
	return samples, rows.Err()
}

// nullString returns a sql.NullString, treating empty as NULL.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
