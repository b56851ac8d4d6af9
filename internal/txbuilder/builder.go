// Package txbuilder builds the unsigned transactions the benchmark submits.
package txbuilder

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

// Kind identifies what a builder produces.
type Kind string

const (
	KindTransfer Kind = "transfer"
	KindRemark   Kind = "remark"
)

var errNoChainID = errors.New("chain ID must be non-nil and non-zero")

// TxParams holds the per-transaction parameters shared by all builders.
type TxParams struct {
	ChainID   *big.Int
	Nonce     uint64
	GasTipCap *big.Int
	GasFeeCap *big.Int
	UseLegacy bool
}

// Builder builds unsigned transactions of one kind.
type Builder interface {
	Kind() Kind
	GasLimit() uint64
	Build(params TxParams) (*types.Transaction, error)
}

// TransferBuilder builds plain value transfers with no calldata.
type TransferBuilder struct {
	To     common.Address
	Amount *big.Int
}

// NewTransferBuilder creates a builder for a transfer of amount to the given receiver.
func NewTransferBuilder(to common.Address, amount *big.Int) *TransferBuilder {
	return &TransferBuilder{To: to, Amount: amount}
}

func (b *TransferBuilder) Kind() Kind { return KindTransfer }

// GasLimit returns the intrinsic gas of a plain transfer (21000).
func (b *TransferBuilder) GasLimit() uint64 { return params.TxGas }

func (b *TransferBuilder) Build(p TxParams) (*types.Transaction, error) {
	if p.ChainID == nil || p.ChainID.Sign() == 0 {
		return nil, errNoChainID
	}
	return NewTransferTx(p.ChainID, p.Nonce, b.To, new(big.Int).Set(b.Amount), b.GasLimit(), p.GasTipCap, p.GasFeeCap, nil, p.UseLegacy), nil
}

// RemarkBuilder builds a zero-value self-transfer carrying arbitrary data.
// It never moves balance, so it is not counted as a transfer.
type RemarkBuilder struct {
	From common.Address
	Data []byte
}

// NewRemarkBuilder creates a remark builder for the sending account.
func NewRemarkBuilder(from common.Address, data []byte) *RemarkBuilder {
	return &RemarkBuilder{From: from, Data: data}
}

func (b *RemarkBuilder) Kind() Kind { return KindRemark }

// GasLimit charges the intrinsic cost plus the non-zero calldata cost per byte.
func (b *RemarkBuilder) GasLimit() uint64 {
	return params.TxGas + params.TxDataNonZeroGasEIP2028*uint64(len(b.Data))
}

func (b *RemarkBuilder) Build(p TxParams) (*types.Transaction, error) {
	if p.ChainID == nil || p.ChainID.Sign() == 0 {
		return nil, errNoChainID
	}
	return NewTransferTx(p.ChainID, p.Nonce, b.From, new(big.Int), b.GasLimit(), p.GasTipCap, p.GasFeeCap, b.Data, p.UseLegacy), nil
}
