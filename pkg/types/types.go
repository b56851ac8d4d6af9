// Package types contains public API types for the benchmark driver.
// These types are served over the HTTP API and archived per run.
package types

import "time"

// RunStatus represents the current state of a driver run.
type RunStatus string

const (
	StatusIdle       RunStatus = "idle"
	StatusChecking   RunStatus = "checking"   // Pre-conditions are being asserted
	StatusSigning    RunStatus = "signing"    // Transactions are being presigned
	StatusSubmitting RunStatus = "submitting" // Chunks are being dispatched
	StatusFinalizing RunStatus = "finalizing" // Waiting for the sentinel to finalize
	StatusVerifying  RunStatus = "verifying"  // Scanning chain history
	StatusCompleted  RunStatus = "completed"
	StatusError      RunStatus = "error"
)

// RunStatuses lists every status in lifecycle order.
var RunStatuses = []RunStatus{
	StatusIdle, StatusChecking, StatusSigning, StatusSubmitting,
	StatusFinalizing, StatusVerifying, StatusCompleted, StatusError,
}

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count   int             `json:"count"`
	Min     float64         `json:"min"`     // ms
	Max     float64         `json:"max"`     // ms
	Avg     float64         `json:"avg"`     // ms
	P50     float64         `json:"p50"`     // ms
	P75     float64         `json:"p75"`     // ms
	P90     float64         `json:"p90"`     // ms
	P95     float64         `json:"p95"`     // ms
	P99     float64         `json:"p99"`     // ms
	Buckets []LatencyBucket `json:"buckets"` // histogram
}

// RunMetrics is the result of a submission run.
// It is produced by a single owner and handed out as a value.
type RunMetrics struct {
	TotalSubmitted       uint64        `json:"totalSubmitted"`
	TotalConfirmedEvents uint64        `json:"totalConfirmedEvents"`
	ElapsedMs            int64         `json:"elapsedMs"`
	InstantaneousTPS     float64       `json:"instantaneousTps"` // Rate over the last sample interval
	CumulativeTPS        float64       `json:"cumulativeTps"`    // TotalSubmitted over the whole run
	Chunks               int           `json:"chunks"`
	AckLatency           *LatencyStats `json:"ackLatency,omitempty"` // Per-chunk acknowledgement latency
}

// ProgressSample is a periodic snapshot emitted while submitting.
type ProgressSample struct {
	Timestamp time.Time `json:"timestamp"`
	Sent      uint64    `json:"sent"`
	Total     uint64    `json:"total"`
	Percent   float64   `json:"percent"`
	TPS       float64   `json:"tps"` // (sent_now - sent_prev) / elapsed seconds
}

// TPSSample is the throughput observed for one block.
type TPSSample struct {
	Block        uint64  `json:"block"`
	Transfers    int     `json:"transfers"`
	DurationMs   int64   `json:"durationMs"` // Timestamp delta to the parent block
	TPS          float64 `json:"tps"`
	Empty        bool    `json:"empty"`                  // No transfers, no tps value
	ZeroDuration bool    `json:"zeroDuration,omitempty"` // Same timestamp as the parent, no tps value
}

// HasTPS reports whether the sample carries a tps value.
func (s TPSSample) HasTPS() bool {
	return !s.Empty && !s.ZeroDuration
}

// TPSSummary aggregates a series of samples.
type TPSSummary struct {
	FirstBlock  uint64  `json:"firstBlock"`
	LastBlock   uint64  `json:"lastBlock"`
	Transfers   uint64  `json:"transfers"`
	Blocks      int     `json:"blocks"`
	EmptyBlocks int     `json:"emptyBlocks"`
	AverageTPS  float64 `json:"averageTps"` // Mean over samples with a tps value
	PeakTPS     float64 `json:"peakTps"`
}

// StatusResponse is served by GET /v1/status.
type StatusResponse struct {
	RunID    string          `json:"runId,omitempty"`
	Status   RunStatus       `json:"status"`
	Target   uint64          `json:"target"`
	Progress *ProgressSample `json:"progress,omitempty"`
	Metrics  *RunMetrics     `json:"metrics,omitempty"`
	Summary  *TPSSummary     `json:"summary,omitempty"`
	Error    string          `json:"error,omitempty"`
}
