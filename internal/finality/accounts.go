package finality

import (
	"context"
	"log/slog"
	"maps"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/stps/internal/chain"
)

// DefaultNonceConcurrency bounds the parallel nonce reads per finalized head.
const DefaultNonceConcurrency = 16

// NonceChain is what the AccountWaiter needs from the chain client.
type NonceChain interface {
	SubscribeFinalizedHeads(ctx context.Context, ch chan<- uint64) (event.Subscription, error)
	NonceAt(ctx context.Context, addr common.Address, block uint64) (uint64, error)
}

// AccountConfig for creating an AccountWaiter.
type AccountConfig struct {
	Chain       NonceChain
	Concurrency int
	Logger      *slog.Logger
}

// AccountWaiter waits for batches spread over many senders, where no single
// nonce orders the whole batch. Each sender is done once its nonce at the
// finalized head reaches the nonce following its last transaction.
type AccountWaiter struct {
	chain       NonceChain
	concurrency int
	logger      *slog.Logger
}

// NewAccountWaiter creates a new AccountWaiter.
func NewAccountWaiter(cfg AccountConfig) *AccountWaiter {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultNonceConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountWaiter{chain: cfg.Chain, concurrency: concurrency, logger: logger}
}

// WaitForAccounts blocks until every address in targets has a finalized nonce
// of at least its target. The returned status carries the first finalized
// head at which that held.
func (w *AccountWaiter) WaitForAccounts(ctx context.Context, targets map[common.Address]uint64) (chain.TxStatus, error) {
	heads := make(chan uint64, 16)
	sub, err := w.chain.SubscribeFinalizedHeads(ctx, heads)
	if err != nil {
		return chain.TxStatus{}, err
	}
	defer sub.Unsubscribe()

	pending := maps.Clone(targets)
	w.logger.Info("waiting for finalization", "senders", len(pending))

	for {
		select {
		case head := <-heads:
			if err := w.settle(ctx, head, pending); err != nil {
				return chain.TxStatus{}, err
			}
			if len(pending) == 0 {
				w.logger.Info("batch finalized", "block", head, "senders", len(targets))
				return chain.TxStatus{State: chain.TxFinalized, Block: head}, nil
			}
			w.logger.Debug("senders pending", "head", head, "pending", len(pending))
		case err := <-sub.Err():
			if err == nil {
				err = ErrStatusClosed
			}
			return chain.TxStatus{}, err
		case <-ctx.Done():
			return chain.TxStatus{}, ctx.Err()
		}
	}
}

// settle drops from pending every sender whose nonce at head reached its target.
func (w *AccountWaiter) settle(ctx context.Context, head uint64, pending map[common.Address]uint64) error {
	var (
		mu   sync.Mutex
		done []common.Address
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for addr, target := range pending {
		g.Go(func() error {
			nonce, err := w.chain.NonceAt(gctx, addr, head)
			if err != nil {
				return err
			}
			if nonce >= target {
				mu.Lock()
				done = append(done, addr)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, addr := range done {
		delete(pending, addr)
	}
	return nil
}
