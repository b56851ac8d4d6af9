package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/event"

	"github.com/gateway-fm/stps/internal/scanner"
)

// ErrSubscriptionClosed is returned when the finalized head stream ends before
// the target was reached.
var ErrSubscriptionClosed = errors.New("finalized head subscription closed")

// Scanner is the chain history reader behind Postcondition.
type Scanner interface {
	CurrentHead(ctx context.Context) (uint64, error)
	ScanRange(ctx context.Context, start, end uint64) (*scanner.Result, error)
	BlockTransfers(ctx context.Context, n uint64) (*scanner.BlockResult, error)
	SubscribeFinalized(ctx context.Context) (<-chan uint64, event.Subscription, error)
	Diagnose(ctx context.Context, start, end uint64) error
}

// Postcondition verifies that the expected number of transfers landed on chain.
type Postcondition struct {
	scanner Scanner
	// OnCount, if set, receives the running count after every block counted
	// in streaming mode and the scanned total in fixed mode.
	OnCount func(block, count uint64)
	logger  *slog.Logger
}

// NewPostcondition creates a new Postcondition.
func NewPostcondition(s Scanner, logger *slog.Logger) *Postcondition {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postcondition{scanner: s, logger: logger}
}

// CheckFixed scans [0, head] once and requires exactly target transfers.
func (p *Postcondition) CheckFixed(ctx context.Context, target uint64) error {
	head, err := p.scanner.CurrentHead(ctx)
	if err != nil {
		return fmt.Errorf("current head: %w", err)
	}
	res, err := p.scanner.ScanRange(ctx, 0, head)
	if err != nil {
		return fmt.Errorf("scan [0, %d]: %w", head, err)
	}
	if p.OnCount != nil {
		p.OnCount(head, res.Transfers)
	}
	if res.Transfers == target {
		p.logger.Info("all transfers found", "count", res.Transfers, "head", head)
		return nil
	}
	return p.mismatch(ctx, target, res.Transfers, head)
}

// CheckStreaming follows finalized heads until at least target transfers were
// seen. The first notification counts [0, n]; later ones count only block n.
// A count above target is logged and reported as a mismatch.
func (p *Postcondition) CheckStreaming(ctx context.Context, target uint64) (err error) {
	heads, sub, err := p.scanner.SubscribeFinalized(ctx)
	if err != nil {
		return fmt.Errorf("subscribe finalized: %w", err)
	}
	defer sub.Unsubscribe()

	var (
		count    uint64
		baseline = true
		last     uint64
	)
	for count < target {
		select {
		case n := <-heads:
			if baseline {
				res, err := p.scanner.ScanRange(ctx, 0, n)
				if err != nil {
					return fmt.Errorf("baseline scan [0, %d]: %w", n, err)
				}
				count, baseline = res.Transfers, false
				p.logger.Debug("baseline", "head", n, "transfers", count)
			} else {
				br, err := p.scanner.BlockTransfers(ctx, n)
				if err != nil {
					return fmt.Errorf("block %d: %w", n, err)
				}
				count += uint64(br.Transfers)
				if br.Transfers > 0 {
					p.logger.Debug("block counted", "block", n, "transfers", br.Transfers, "remaining", saturatingSub(target, count))
				}
			}
			last = n
			if p.OnCount != nil {
				p.OnCount(n, count)
			}
		case err := <-sub.Err():
			if err == nil {
				err = ErrSubscriptionClosed
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if count > target {
		p.logger.Warn("found too many Transfer events", "count", count, "target", target)
		return p.mismatch(ctx, target, count, last)
	}
	p.logger.Info("all transfers found", "count", count, "head", last)
	return nil
}

func (p *Postcondition) mismatch(ctx context.Context, target, observed, head uint64) error {
	p.logger.Error("transfer count mismatch", "expected", target, "observed", observed)
	cause := p.scanner.Diagnose(ctx, 0, head)
	return &VerificationMismatch{Expected: target, Observed: observed, Cause: cause}
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
