// Package chain is the driver's view of an EVM JSON-RPC chain: blocks,
// decoded events, signing, submission and finalized-head subscriptions.
package chain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PhaseKind tells when during block execution an event was emitted.
type PhaseKind int

const (
	// PhaseApplyExtrinsic marks events produced by a user transaction.
	PhaseApplyExtrinsic PhaseKind = iota
	// PhaseInitialization marks system transactions run before user transactions (deposits).
	PhaseInitialization
	// PhaseFinalization marks events emitted after all transactions (none on EVM chains today).
	PhaseFinalization
)

// Phase is the execution phase of an event. Index is meaningful for PhaseApplyExtrinsic only.
type Phase struct {
	Kind  PhaseKind
	Index int
}

// ApplyExtrinsic returns the phase of the transaction at index i.
func ApplyExtrinsic(i int) Phase {
	return Phase{Kind: PhaseApplyExtrinsic, Index: i}
}

func (p Phase) String() string {
	switch p.Kind {
	case PhaseApplyExtrinsic:
		return fmt.Sprintf("ApplyExtrinsic(%d)", p.Index)
	case PhaseInitialization:
		return "Initialization"
	default:
		return "Finalization"
	}
}

// EventKind discriminates Event.
type EventKind int

const (
	EventOther EventKind = iota
	EventTransfer
	EventExtrinsicFailed
)

func (k EventKind) String() string {
	switch k {
	case EventTransfer:
		return "Transfer"
	case EventExtrinsicFailed:
		return "ExtrinsicFailed"
	default:
		return "Other"
	}
}

// Event is a decoded chain event. Exactly one payload is set for Transfer
// and ExtrinsicFailed; Other carries none.
type Event struct {
	Kind     EventKind
	Transfer *Transfer
	Failure  *Failure
}

// Transfer is a successful value transfer.
type Transfer struct {
	From   common.Address
	To     common.Address
	Amount *big.Int
}

// Failure is the raw, undecoded form of a failed dispatch. Decoding it
// requires replaying the call, see Client.DecodeDispatchError.
type Failure struct {
	TxHash      common.Hash
	BlockNumber uint64
	From        common.Address
	To          *common.Address
	Value       *big.Int
	Gas         uint64
	GasUsed     uint64
	Input       []byte
}

// EventRecord pairs an event with its execution phase.
type EventRecord struct {
	Phase Phase
	Event Event
}

// ExtrinsicRecord names the call a transaction made.
type ExtrinsicRecord struct {
	Index   int
	Section string
	Method  string
	Hash    common.Hash
}

func (r ExtrinsicRecord) String() string {
	return r.Section + "." + r.Method
}

// Block is a block header plus its ordered extrinsics.
type Block struct {
	Number     uint64
	Hash       common.Hash
	Timestamp  time.Time
	Extrinsics []ExtrinsicRecord
}

// TimestampMs returns the block timestamp in milliseconds.
func (b *Block) TimestampMs() int64 {
	return b.Timestamp.UnixMilli()
}

// AccountState is the on-chain state of an account.
type AccountState struct {
	Nonce   uint64
	Balance *big.Int
}

// SignedTransaction is an immutable, encoded, signed transfer.
type SignedTransaction struct {
	Sender   common.Address
	Receiver common.Address
	Amount   *big.Int
	Nonce    uint64
	Hash     common.Hash
	Raw      []byte
}

// TxState is a stage in a submitted transaction's life.
type TxState int

const (
	TxReady TxState = iota
	TxInBlock
	TxFinalized
)

func (s TxState) String() string {
	switch s {
	case TxInBlock:
		return "InBlock"
	case TxFinalized:
		return "Finalized"
	default:
		return "Ready"
	}
}

// TxStatus is a status transition of a submitted transaction.
type TxStatus struct {
	State     TxState
	Block     uint64
	BlockHash common.Hash
	Success   bool // Receipt status, valid once InBlock
}

// DispatchInfo is a decoded dispatch failure.
type DispatchInfo struct {
	// Module is true when the failure is a module-indexed error (section.name).
	Module  bool
	Section string
	Name    string
	// Message is the generic dispatch error text when Module is false.
	Message string
}

func (d DispatchInfo) String() string {
	if d.Module {
		return d.Section + "." + d.Name
	}
	return d.Message
}
