package chain

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

var errHeadsClosed = errors.New("finalized head subscription closed")

// Submit sends a signed transaction. A rejection is returned as *SubmissionError.
func (c *Client) Submit(ctx context.Context, tx *SignedTransaction) (common.Hash, error) {
	hash, err := c.rpc.SendRawTransaction(ctx, tx.Raw)
	if err != nil {
		return common.Hash{}, &SubmissionError{Sender: tx.Sender, Nonce: tx.Nonce, Hash: tx.Hash, Err: err}
	}
	return hash, nil
}

// SubscribeStatus reports the life of a submitted transaction on ch: Ready at
// once, InBlock when its receipt appears, Finalized when its block is final.
// Nothing is sent after Finalized; the subscription stays open until Unsubscribe.
func (c *Client) SubscribeStatus(ctx context.Context, hash common.Hash, ch chan<- TxStatus) (event.Subscription, error) {
	heads := make(chan uint64, 16)
	headSub, err := c.SubscribeFinalizedHeads(ctx, heads)
	if err != nil {
		return nil, err
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer headSub.Unsubscribe()

		send := func(st TxStatus) bool {
			select {
			case ch <- st:
				return true
			case <-quit:
				return false
			}
		}
		if !send(TxStatus{State: TxReady}) {
			return nil
		}

		var included *TxStatus
		for {
			select {
			case <-quit:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			case err, ok := <-headSub.Err():
				if !ok || err == nil {
					return errHeadsClosed
				}
				return err
			case head := <-heads:
				if included == nil {
					receipt, err := c.rpc.GetTransactionReceipt(ctx, hash)
					if err != nil {
						return err
					}
					if receipt == nil {
						continue
					}
					included = &TxStatus{
						State:     TxInBlock,
						Block:     receipt.BlockNumber,
						BlockHash: receipt.BlockHash,
						Success:   receipt.Status == 1,
					}
					c.logger.Debug("transaction included", "hash", hash.Hex(), "block", receipt.BlockNumber)
					if !send(*included) {
						return nil
					}
				}
				if included.Block <= head {
					final := *included
					final.State = TxFinalized
					if !send(final) {
						return nil
					}
					select {
					case <-quit:
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
		}
	}), nil
}
