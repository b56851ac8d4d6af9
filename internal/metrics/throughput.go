package metrics

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/ethereum/go-ethereum/event"

	"github.com/gateway-fm/stps/internal/scanner"
	"github.com/gateway-fm/stps/pkg/types"
)

// Blocks supplies per-block transfer counts.
type Blocks interface {
	BlockTransfers(ctx context.Context, n uint64) (*scanner.BlockResult, error)
	SubscribeFinalized(ctx context.Context) (<-chan uint64, event.Subscription, error)
}

// MeterConfig for creating a Meter.
type MeterConfig struct {
	Blocks Blocks
	// Prometheus, when set, receives every sample.
	Prometheus *PrometheusMetrics
	Logger     *slog.Logger
}

// Meter computes transfers per second from block timestamps.
type Meter struct {
	blocks Blocks
	prom   *PrometheusMetrics
	logger *slog.Logger
}

// NewMeter creates a new Meter.
func NewMeter(cfg MeterConfig) *Meter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Meter{blocks: cfg.Blocks, prom: cfg.Prometheus, logger: logger}
}

// Sample measures block cur against the timestamp of its parent.
func Sample(parentMs int64, cur *scanner.BlockResult) types.TPSSample {
	s := types.TPSSample{
		Block:      cur.Number,
		Transfers:  cur.Transfers,
		DurationMs: cur.Timestamp.UnixMilli() - parentMs,
	}
	switch {
	case cur.Transfers == 0:
		s.Empty = true
	case s.DurationMs <= 0:
		s.ZeroDuration = true
	default:
		s.TPS = float64(cur.Transfers) / (float64(s.DurationMs) / 1000)
	}
	return s
}

// Series yields one sample per block in start+1..end. Blocks are fetched lazily
// as the sequence is consumed and iteration may be restarted. The first error
// is yielded once and ends the sequence.
func (m *Meter) Series(ctx context.Context, start, end uint64) iter.Seq2[types.TPSSample, error] {
	return func(yield func(types.TPSSample, error) bool) {
		if end <= start {
			return
		}
		parent, err := m.blocks.BlockTransfers(ctx, start)
		if err != nil {
			yield(types.TPSSample{}, fmt.Errorf("block %d: %w", start, err))
			return
		}
		for n := start + 1; n <= end; n++ {
			cur, err := m.blocks.BlockTransfers(ctx, n)
			if err != nil {
				yield(types.TPSSample{}, fmt.Errorf("block %d: %w", n, err))
				return
			}
			s := Sample(parent.Timestamp.UnixMilli(), cur)
			m.observe(s)
			if !yield(s, nil) {
				return
			}
			parent = cur
		}
	}
}

func (m *Meter) observe(s types.TPSSample) {
	if m.prom != nil {
		m.prom.ObserveBlock(s)
	}
	switch {
	case s.Empty:
		m.logger.Debug("empty block", "block", s.Block)
	case s.ZeroDuration:
		m.logger.Warn("block has its parent's timestamp, no tps", "block", s.Block, "transfers", s.Transfers)
	default:
		m.logger.Info("block tps", "block", s.Block, "transfers", s.Transfers, "durationMs", s.DurationMs, "tps", s.TPS)
	}
}

// Compute collects the series for start+1..end and summarizes it.
func (m *Meter) Compute(ctx context.Context, start, end uint64) ([]types.TPSSample, types.TPSSummary, error) {
	var samples []types.TPSSample
	for s, err := range m.Series(ctx, start, end) {
		if err != nil {
			return nil, types.TPSSummary{}, err
		}
		samples = append(samples, s)
	}
	return samples, Summarize(samples), nil
}

// Summarize averages the samples that carry a tps value and finds the peak.
func Summarize(samples []types.TPSSample) types.TPSSummary {
	var sum types.TPSSummary
	if len(samples) == 0 {
		return sum
	}
	sum.FirstBlock = samples[0].Block
	sum.LastBlock = samples[len(samples)-1].Block
	sum.Blocks = len(samples)

	var total float64
	var rated int
	for _, s := range samples {
		sum.Transfers += uint64(s.Transfers)
		if s.Empty {
			sum.EmptyBlocks++
		}
		if !s.HasTPS() {
			continue
		}
		total += s.TPS
		rated++
		sum.PeakTPS = max(sum.PeakTPS, s.TPS)
	}
	if rated > 0 {
		sum.AverageTPS = total / float64(rated)
	}
	return sum
}

var errHeadsEnded = errors.New("finalized head stream ended")

// Follow measures blocks after start as they finalize until at least num
// transfers were seen, then unsubscribes and returns the samples and summary.
func (m *Meter) Follow(ctx context.Context, start, num uint64) ([]types.TPSSample, types.TPSSummary, error) {
	parent, err := m.blocks.BlockTransfers(ctx, start)
	if err != nil {
		return nil, types.TPSSummary{}, fmt.Errorf("block %d: %w", start, err)
	}
	heads, sub, err := m.blocks.SubscribeFinalized(ctx)
	if err != nil {
		return nil, types.TPSSummary{}, err
	}
	defer sub.Unsubscribe()

	var (
		samples []types.TPSSample
		seen    uint64
	)
	for seen < num {
		var head uint64
		select {
		case <-ctx.Done():
			return samples, Summarize(samples), ctx.Err()
		case err, ok := <-sub.Err():
			if !ok || err == nil {
				err = errHeadsEnded
			}
			return samples, Summarize(samples), err
		case head = <-heads:
		}

		for n := parent.Number + 1; n <= head && seen < num; n++ {
			cur, err := m.blocks.BlockTransfers(ctx, n)
			if err != nil {
				return samples, Summarize(samples), fmt.Errorf("block %d: %w", n, err)
			}
			s := Sample(parent.Timestamp.UnixMilli(), cur)
			m.observe(s)
			samples = append(samples, s)
			seen += uint64(cur.Transfers)
			parent = cur
		}
	}

	sum := Summarize(samples)
	m.logger.Info("average TPS", "tps", sum.AverageTPS, "peak", sum.PeakTPS, "transfers", sum.Transfers, "blocks", sum.Blocks)
	return samples, sum, nil
}
