package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ConnectionError is returned when the chain endpoint cannot be reached.
type ConnectionError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot connect to %s after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// SubmissionError is returned when the node rejects a signed transaction.
type SubmissionError struct {
	Sender common.Address
	Nonce  uint64
	Hash   common.Hash
	Err    error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission of %s (sender %s, nonce %d) rejected: %v",
		e.Hash.Hex(), e.Sender.Hex(), e.Nonce, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}
