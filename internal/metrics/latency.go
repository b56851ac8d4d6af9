// Package metrics measures the benchmark: submission progress, acknowledgement
// latency and per-block throughput.
package metrics

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/gateway-fm/stps/pkg/types"
)

// AckLatency tracks how long chunks take to be fully acknowledged by the node.
// Percentiles are estimated from a bounded reservoir (Algorithm R), so memory
// stays fixed however long the run is.
type AckLatency struct {
	mu sync.Mutex

	count int64
	sum   float64
	min   float64
	max   float64

	reservoir     []float64
	reservoirSize int

	buckets [len(ackBucketBounds) + 1]int64

	// xorshift64* state, per instance
	randState uint64
}

// DefaultReservoirSize is the number of samples kept for percentile estimation.
// A run records one sample per chunk, so most runs fit entirely.
const DefaultReservoirSize = 4096

// Upper bounds in milliseconds; the last bucket is open.
var ackBucketBounds = [...]float64{50, 100, 250, 1000}

var ackBucketLabels = [...]string{"0-50ms", "50-100ms", "100-250ms", "250ms-1s", "1s+"}

// NewAckLatency creates an empty tracker.
func NewAckLatency() *AckLatency {
	return &AckLatency{
		min:           math.MaxFloat64,
		reservoir:     make([]float64, 0, DefaultReservoirSize),
		reservoirSize: DefaultReservoirSize,
		randState:     1,
	}
}

// Observe records one acknowledgement latency. Safe for concurrent use.
func (a *AckLatency) Observe(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.count++
	a.sum += ms
	a.min = min(a.min, ms)
	a.max = max(a.max, ms)
	a.buckets[bucketIndex(ms)]++

	if len(a.reservoir) < a.reservoirSize {
		a.reservoir = append(a.reservoir, ms)
		return
	}
	if j := a.fastRand() % uint64(a.count); j < uint64(a.reservoirSize) {
		a.reservoir[j] = ms
	}
}

func bucketIndex(ms float64) int {
	for i, bound := range ackBucketBounds {
		if ms < bound {
			return i
		}
	}
	return len(ackBucketBounds)
}

func (a *AckLatency) fastRand() uint64 {
	a.randState ^= a.randState >> 12
	a.randState ^= a.randState << 25
	a.randState ^= a.randState >> 27
	return a.randState * 0x2545F4914F6CDD1D
}

// Snapshot returns the current statistics, or nil before the first sample.
func (a *AckLatency) Snapshot() *types.LatencyStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.count == 0 {
		return nil
	}

	sorted := slices.Clone(a.reservoir)
	slices.Sort(sorted)

	stats := &types.LatencyStats{
		Count:   int(a.count),
		Min:     a.min,
		Max:     a.max,
		Avg:     a.sum / float64(a.count),
		P50:     percentile(sorted, 0.50),
		P75:     percentile(sorted, 0.75),
		P90:     percentile(sorted, 0.90),
		P95:     percentile(sorted, 0.95),
		P99:     percentile(sorted, 0.99),
		Buckets: make([]types.LatencyBucket, len(a.buckets)),
	}
	for i, n := range a.buckets {
		stats.Buckets[i] = types.LatencyBucket{Label: ackBucketLabels[i], Count: int(n)}
	}
	return stats
}

// Count returns the number of samples recorded.
func (a *AckLatency) Count() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// percentile interpolates the p-th percentile of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	idx := p * float64(len(sorted)-1)
	lower := int(idx)
	if lower+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[lower+1]*frac
}
