// Package verification checks account state before a run and the on-chain
// transfer count after it.
package verification

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Precondition violation reasons.
const (
	ReasonNonce   = "account has non-zero nonce"
	ReasonBalance = "account has insufficient funds"
)

// PreconditionViolation is returned when an account is not ready for a run.
type PreconditionViolation struct {
	Address  common.Address
	Reason   string
	Observed *big.Int
	Required *big.Int
}

func (e *PreconditionViolation) Error() string {
	return fmt.Sprintf("precondition failed for %s: %s (observed %s, required %s)",
		e.Address.Hex(), e.Reason, e.Observed, e.Required)
}

// VerificationMismatch is returned when the observed transfer count differs
// from the expected one. Cause holds the result of the failure search.
type VerificationMismatch struct {
	Expected uint64
	Observed uint64
	Cause    error
}

func (e *VerificationMismatch) Error() string {
	msg := fmt.Sprintf("expected %d Transfer events, found %d", e.Expected, e.Observed)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *VerificationMismatch) Unwrap() error {
	return e.Cause
}
