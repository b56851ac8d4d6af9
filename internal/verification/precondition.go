package verification

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/stps/internal/account"
	"github.com/gateway-fm/stps/internal/chain"
)

// AccountReader reads account state and the existential deposit.
type AccountReader interface {
	AccountState(ctx context.Context, addr common.Address) (*chain.AccountState, error)
	ExistentialDeposit(ctx context.Context) (*big.Int, error)
}

// Precondition checks that accounts start from a clean slate with enough funds.
type Precondition struct {
	chain  AccountReader
	logger *slog.Logger
}

// NewPrecondition creates a new Precondition.
func NewPrecondition(c AccountReader, logger *slog.Logger) *Precondition {
	if logger == nil {
		logger = slog.Default()
	}
	return &Precondition{chain: c, logger: logger}
}

// RequiredBalance returns ed * multiple * 1.1, rounded down.
func RequiredBalance(ed *big.Int, multiple uint64) *big.Int {
	req := new(big.Int).Mul(ed, new(big.Int).SetUint64(multiple))
	req.Mul(req, big.NewInt(11))
	return req.Quo(req, big.NewInt(10))
}

// CheckAccount asserts a zero nonce and a balance of at least
// RequiredBalance(ED, multiple).
func (p *Precondition) CheckAccount(ctx context.Context, addr common.Address, multiple uint64) error {
	ed, err := p.chain.ExistentialDeposit(ctx)
	if err != nil {
		return fmt.Errorf("existential deposit: %w", err)
	}
	state, err := p.chain.AccountState(ctx, addr)
	if err != nil {
		return fmt.Errorf("account state of %s: %w", addr.Hex(), err)
	}

	if state.Nonce != 0 {
		return &PreconditionViolation{
			Address:  addr,
			Reason:   ReasonNonce,
			Observed: new(big.Int).SetUint64(state.Nonce),
			Required: new(big.Int),
		}
	}
	required := RequiredBalance(ed, multiple)
	if state.Balance.Cmp(required) < 0 {
		return &PreconditionViolation{
			Address:  addr,
			Reason:   ReasonBalance,
			Observed: state.Balance,
			Required: required,
		}
	}

	p.logger.Debug("account ready", "address", addr.Hex(), "balance", state.Balance, "required", required)
	return nil
}

// CheckSenders checks the first and the last of n derived sender accounts.
func (p *Precondition) CheckSenders(ctx context.Context, derivation string, n int, multiple uint64) error {
	if n <= 0 {
		return fmt.Errorf("sender count must be positive, got %d", n)
	}
	indexes := []int{0}
	if n > 1 {
		indexes = append(indexes, n-1)
	}
	for _, i := range indexes {
		acc, err := account.DeriveAccount(derivation, i)
		if err != nil {
			return fmt.Errorf("derive sender %d: %w", i, err)
		}
		if err := p.CheckAccount(ctx, acc.Address, multiple); err != nil {
			return err
		}
	}
	p.logger.Info("pre-conditions hold", "senders", n)
	return nil
}
