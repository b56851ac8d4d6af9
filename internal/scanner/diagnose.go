package scanner

import (
	"context"
	"errors"
	"fmt"

	"github.com/gateway-fm/stps/internal/chain"
)

// ErrNoFailureFound is returned by Diagnose when no block in the range holds a failed transaction.
var ErrNoFailureFound = errors.New("failed to find the error")

// ExtrinsicFailedError reports a transaction that was included but failed on chain.
type ExtrinsicFailedError struct {
	Block     uint64
	Extrinsic chain.ExtrinsicRecord
	Info      chain.DispatchInfo
}

func (e *ExtrinsicFailedError) Error() string {
	return fmt.Sprintf("%s :: ExtrinsicFailed :: %s", e.Extrinsic, e.Info)
}

// Diagnose walks [start, end] in order, each block loaded by its own hash, and
// returns the first failed transaction as *ExtrinsicFailedError with its
// dispatch error decoded. Decoding replays calls, so this is a post-mortem path.
func (s *Scanner) Diagnose(ctx context.Context, start, end uint64) error {
	s.logger.Info("searching for failed extrinsic", "start", start, "end", end)
	for n := start; n <= end; n++ {
		br, err := s.BlockTransfers(ctx, n)
		if err != nil {
			return fmt.Errorf("diagnose block %d: %w", n, err)
		}
		if len(br.Failures) == 0 {
			continue
		}
		first := br.Failures[0]
		info, err := s.chain.DecodeDispatchError(ctx, first.Failure)
		if err != nil {
			return fmt.Errorf("decode failure of %s in block %d: %w", first.Failure.TxHash.Hex(), n, err)
		}
		s.logger.Error("found failed extrinsic",
			"block", n,
			"index", first.Extrinsic.Index,
			"call", first.Extrinsic.String(),
			"tx", first.Failure.TxHash.Hex(),
			"error", info.String(),
		)
		return &ExtrinsicFailedError{Block: n, Extrinsic: first.Extrinsic, Info: info}
	}
	return ErrNoFailureFound
}
