// Package pipeline presigns the benchmark batch before anything touches the network.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"runtime"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/stps/internal/account"
	"github.com/gateway-fm/stps/internal/chain"
)

var (
	// ErrNoReceivers is returned for an empty receiver list.
	ErrNoReceivers = errors.New("no receivers")
	// ErrSenderCount is returned when senders and receivers differ in length.
	ErrSenderCount = errors.New("one sender per receiver required")
)

// Signer signs a single transfer offline.
type Signer interface {
	SignTransaction(sender *account.Account, nonce uint64, receiver common.Address, amount *big.Int) (*chain.SignedTransaction, error)
}

// Config for creating a Presigner.
type Config struct {
	Signer Signer
	// Workers bounds parallel signing. Zero uses GOMAXPROCS.
	Workers int
	Logger  *slog.Logger
}

// Presigner signs a whole batch of transfers up front.
type Presigner struct {
	signer  Signer
	workers int
	logger  *slog.Logger
}

// New creates a new Presigner.
func New(cfg Config) *Presigner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Presigner{
		signer:  cfg.Signer,
		workers: workers,
		logger:  logger,
	}
}

// Presign signs one transfer of amount to each receiver. Transaction i carries
// nonce startNonce+i, so the result is in nonce order. Any signing failure
// aborts the batch and no partial result is returned.
func (p *Presigner) Presign(ctx context.Context, sender *account.Account, receivers []common.Address, amount *big.Int, startNonce uint64) ([]*chain.SignedTransaction, error) {
	if len(receivers) == 0 {
		return nil, ErrNoReceivers
	}

	start := time.Now()
	out, err := p.signAll(ctx, len(receivers), func(i int) (*chain.SignedTransaction, error) {
		nonce := startNonce + uint64(i)
		tx, err := p.signer.SignTransaction(sender, nonce, receivers[i], amount)
		if err != nil {
			return nil, fmt.Errorf("presign nonce %d: %w", nonce, err)
		}
		return tx, nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("presigned transfers",
		"sender", sender.Address.Hex(),
		"count", len(out),
		"firstNonce", startNonce,
		"duration", time.Since(start),
	)
	return out, nil
}

// PresignDerived signs one transfer per sender: senders[i] pays receivers[i]
// at the sender's next nonce, which the sender's mirror then moves past. It is
// the batch shape for many prefunded accounts sending once each.
func (p *Presigner) PresignDerived(ctx context.Context, senders []*account.Account, receivers []common.Address, amount *big.Int) ([]*chain.SignedTransaction, error) {
	if len(receivers) == 0 {
		return nil, ErrNoReceivers
	}
	if len(senders) != len(receivers) {
		return nil, fmt.Errorf("%w: %d senders, %d receivers", ErrSenderCount, len(senders), len(receivers))
	}

	start := time.Now()
	out, err := p.signAll(ctx, len(receivers), func(i int) (*chain.SignedTransaction, error) {
		nonce := senders[i].NextNonce()
		tx, err := p.signer.SignTransaction(senders[i], nonce, receivers[i], amount)
		if err != nil {
			return nil, fmt.Errorf("presign sender %d: %w", i, err)
		}
		return tx, nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("presigned transfers", "senders", len(senders), "count", len(out), "duration", time.Since(start))
	return out, nil
}

// signAll runs sign for every index on the worker pool and keeps index order.
func (p *Presigner) signAll(ctx context.Context, n int, sign func(i int) (*chain.SignedTransaction, error)) ([]*chain.SignedTransaction, error) {
	out := make([]*chain.SignedTransaction, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range n {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			tx, err := sign(i)
			if err != nil {
				return err
			}
			out[i] = tx
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
