// Package scanner counts transfers and finds failed transactions in chain history.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/stps/internal/chain"
)

// DefaultConcurrency bounds parallel block fetches in ScanRange.
const DefaultConcurrency = 16

// Chain is the part of the chain client the scanner reads from.
type Chain interface {
	CurrentBlock(ctx context.Context) (*chain.Block, error)
	BlockHash(ctx context.Context, n uint64) (common.Hash, error)
	BlockWithEvents(ctx context.Context, hash common.Hash) (*chain.Block, []chain.EventRecord, error)
	SubscribeFinalizedHeads(ctx context.Context, ch chan<- uint64) (event.Subscription, error)
	DecodeDispatchError(ctx context.Context, f chain.Failure) (chain.DispatchInfo, error)
}

// Config for creating a Scanner.
type Config struct {
	Chain       Chain
	Concurrency int
	Logger      *slog.Logger
}

// Scanner reads blocks and reduces their events to transfer counts.
type Scanner struct {
	chain       Chain
	concurrency int
	logger      *slog.Logger
}

// New creates a new Scanner.
func New(cfg Config) *Scanner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Scanner{
		chain:       cfg.Chain,
		concurrency: concurrency,
		logger:      logger,
	}
}

// FailedExtrinsic pairs a failed dispatch with the call that caused it.
type FailedExtrinsic struct {
	Block     uint64
	Extrinsic chain.ExtrinsicRecord
	Failure   chain.Failure
}

// BlockResult is the reduction of one block.
type BlockResult struct {
	Number    uint64
	Hash      common.Hash
	Timestamp time.Time
	Transfers int
	Failures  []FailedExtrinsic
}

// Result is the reduction of a block range.
type Result struct {
	Start     uint64
	End       uint64
	Blocks    int
	Transfers uint64
	Failures  []FailedExtrinsic
}

// CurrentHead returns the number of the latest block.
func (s *Scanner) CurrentHead(ctx context.Context) (uint64, error) {
	b, err := s.chain.CurrentBlock(ctx)
	if err != nil {
		return 0, err
	}
	return b.Number, nil
}

// BlockTransfers reduces block n. Only events emitted while applying a
// transaction are considered; Transfer events are counted and failed dispatches
// are paired with their extrinsic by index.
func (s *Scanner) BlockTransfers(ctx context.Context, n uint64) (*BlockResult, error) {
	hash, err := s.chain.BlockHash(ctx, n)
	if err != nil {
		return nil, err
	}
	block, events, err := s.chain.BlockWithEvents(ctx, hash)
	if err != nil {
		return nil, err
	}

	res := &BlockResult{Number: block.Number, Hash: block.Hash, Timestamp: block.Timestamp}
	for _, rec := range events {
		if rec.Phase.Kind != chain.PhaseApplyExtrinsic {
			continue
		}
		switch rec.Event.Kind {
		case chain.EventTransfer:
			res.Transfers++
		case chain.EventExtrinsicFailed:
			idx := rec.Phase.Index
			if idx < 0 || idx >= len(block.Extrinsics) {
				return nil, fmt.Errorf("block %d: failure at extrinsic %d of %d", n, idx, len(block.Extrinsics))
			}
			res.Failures = append(res.Failures, FailedExtrinsic{
				Block:     n,
				Extrinsic: block.Extrinsics[idx],
				Failure:   *rec.Event.Failure,
			})
		}
	}
	return res, nil
}

// ScanRange reduces every block in [start, end]. Blocks are fetched in parallel;
// the first error aborts the scan.
func (s *Scanner) ScanRange(ctx context.Context, start, end uint64) (*Result, error) {
	res := &Result{Start: start, End: end}
	if end < start {
		return res, nil
	}

	began := time.Now()
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for n := start; n <= end; n++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			br, err := s.BlockTransfers(gctx, n)
			if err != nil {
				return fmt.Errorf("scan block %d: %w", n, err)
			}
			mu.Lock()
			res.Blocks++
			res.Transfers += uint64(br.Transfers)
			res.Failures = append(res.Failures, br.Failures...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(res.Failures, func(i, j int) bool {
		a, b := res.Failures[i], res.Failures[j]
		if a.Block != b.Block {
			return a.Block < b.Block
		}
		return a.Extrinsic.Index < b.Extrinsic.Index
	})

	s.logger.Debug("scanned range",
		"start", start,
		"end", end,
		"transfers", res.Transfers,
		"failures", len(res.Failures),
		"duration", time.Since(began),
	)
	return res, nil
}

// SubscribeFinalized streams newly finalized block numbers, each once and in
// increasing order, starting with the finalized head at subscription time.
func (s *Scanner) SubscribeFinalized(ctx context.Context) (<-chan uint64, event.Subscription, error) {
	ch := make(chan uint64, 64)
	sub, err := s.chain.SubscribeFinalizedHeads(ctx, ch)
	if err != nil {
		return nil, nil, err
	}
	return ch, sub, nil
}
