// Package finality waits for a submitted batch to be finalized, either through
// one trailing transaction from the batch's only sender or by watching the
// finalized nonces of many senders.
package finality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"github.com/gateway-fm/stps/internal/account"
	"github.com/gateway-fm/stps/internal/chain"
)

// DefaultRemark is the payload of the sentinel transaction.
var DefaultRemark = []byte("stps: batch complete")

// ErrStatusClosed is returned when the status subscription ends before the
// sentinel was finalized.
var ErrStatusClosed = errors.New("status subscription ended before finalization")

// Chain is what the Waiter needs from the chain client.
type Chain interface {
	SignRemark(sender *account.Account, nonce uint64, data []byte) (*chain.SignedTransaction, error)
	Submit(ctx context.Context, tx *chain.SignedTransaction) (common.Hash, error)
	SubscribeStatus(ctx context.Context, hash common.Hash, ch chan<- chain.TxStatus) (event.Subscription, error)
}

// Config for creating a Waiter.
type Config struct {
	Chain  Chain
	Remark []byte
	Logger *slog.Logger
}

// Waiter resolves once the sentinel remark at the next nonce is finalized.
// Nonces are applied in order, so this proves every earlier transaction from
// the sender is final too.
type Waiter struct {
	chain  Chain
	remark []byte
	logger *slog.Logger
}

// New creates a new Waiter.
func New(cfg Config) *Waiter {
	remark := cfg.Remark
	if len(remark) == 0 {
		remark = DefaultRemark
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Waiter{chain: cfg.Chain, remark: remark, logger: logger}
}

// WaitForCompletion submits the sentinel at nonce and blocks until it is
// finalized. It returns the finalized status.
func (w *Waiter) WaitForCompletion(ctx context.Context, sender *account.Account, nonce uint64) (chain.TxStatus, error) {
	tx, err := w.chain.SignRemark(sender, nonce, w.remark)
	if err != nil {
		return chain.TxStatus{}, fmt.Errorf("sign sentinel: %w", err)
	}

	// Subscribe before the sentinel can be included.
	statuses := make(chan chain.TxStatus, 4)
	sub, err := w.chain.SubscribeStatus(ctx, tx.Hash, statuses)
	if err != nil {
		return chain.TxStatus{}, fmt.Errorf("subscribe sentinel status: %w", err)
	}
	defer sub.Unsubscribe()

	if _, err := w.chain.Submit(ctx, tx); err != nil {
		return chain.TxStatus{}, err
	}
	w.logger.Info("waiting for finalization", "sender", sender.Address.Hex(), "nonce", nonce, "hash", tx.Hash.Hex())

	for {
		select {
		case st := <-statuses:
			switch st.State {
			case chain.TxInBlock:
				w.logger.Info("sentinel included", "block", st.Block, "success", st.Success)
			case chain.TxFinalized:
				w.logger.Info("batch finalized", "block", st.Block, "nonce", nonce)
				return st, nil
			}
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
