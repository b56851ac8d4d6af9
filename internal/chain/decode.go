package chain

import (
	"encoding/hex"
	"fmt"

	"github.com/gateway-fm/stps/internal/rpc"
)

// Call names derived from a transaction's shape.
const (
	SectionBalances = "balances"
	SectionSystem   = "system"
	SectionEVM      = "evm"
	SectionL1       = "l1"

	MethodTransfer = "transfer"
	MethodRemark   = "remark"
	MethodCreate   = "create"
	MethodCall     = "call"
	MethodDeposit  = "deposit"
)

// ClassifyExtrinsic names the call made by the transaction at index i.
func ClassifyExtrinsic(i int, tx rpc.Transaction) ExtrinsicRecord {
	rec := ExtrinsicRecord{Index: i, Hash: tx.Hash}
	switch {
	case tx.IsDeposit():
		rec.Section, rec.Method = SectionL1, MethodDeposit
	case tx.To == nil:
		rec.Section, rec.Method = SectionEVM, MethodCreate
	case *tx.To == tx.From && len(tx.Input) > 0:
		rec.Section, rec.Method = SectionSystem, MethodRemark
	case len(tx.Input) == 0:
		rec.Section, rec.Method = SectionBalances, MethodTransfer
	case len(tx.Input) >= 4:
		rec.Section, rec.Method = SectionEVM, "0x"+hex.EncodeToString(tx.Input[:4])
	default:
		rec.Section, rec.Method = SectionEVM, MethodCall
	}
	return rec
}

// Extrinsics returns the ordered extrinsic records of a block.
func Extrinsics(block *rpc.BlockFull) []ExtrinsicRecord {
	out := make([]ExtrinsicRecord, len(block.Transactions))
	for i, tx := range block.Transactions {
		out[i] = ClassifyExtrinsic(i, tx)
	}
	return out
}

// DecodeEvents turns a block and its receipts into phase-tagged events, one per
// transaction. Receipts are matched to transactions by transaction index.
func DecodeEvents(block *rpc.BlockFull, receipts []*rpc.TransactionReceipt) ([]EventRecord, error) {
	byIndex := make(map[uint64]*rpc.TransactionReceipt, len(receipts))
	for _, r := range receipts {
		if r == nil {
			continue
		}
		byIndex[r.TransactionIndex] = r
	}

	records := make([]EventRecord, 0, len(block.Transactions))
	for i, tx := range block.Transactions {
		receipt, ok := byIndex[uint64(i)]
		if !ok {
			return nil, fmt.Errorf("block %d: no receipt for transaction %d (%s)", block.Number, i, tx.Hash.Hex())
		}
		records = append(records, decodeEvent(block.Number, i, tx, receipt))
	}
	return records, nil
}

func decodeEvent(number uint64, i int, tx rpc.Transaction, receipt *rpc.TransactionReceipt) EventRecord {
	rec := EventRecord{Phase: ApplyExtrinsic(i)}
	if tx.IsDeposit() {
		rec.Phase = Phase{Kind: PhaseInitialization}
	}

	if receipt.Status == 0 {
		rec.Event = Event{
			Kind: EventExtrinsicFailed,
			Failure: &Failure{
				TxHash:      tx.Hash,
				BlockNumber: number,
				From:        tx.From,
				To:          tx.To,
				Value:       tx.Value,
				Gas:         tx.Gas,
				GasUsed:     receipt.GasUsed,
				Input:       tx.Input,
			},
		}
		return rec
	}

	call := ClassifyExtrinsic(i, tx)
	if call.Section == SectionBalances && call.Method == MethodTransfer {
		rec.Event = Event{
			Kind: EventTransfer,
			Transfer: &Transfer{
				From:   tx.From,
				To:     *tx.To,
				Amount: tx.Value,
			},
		}
		return rec
	}

	rec.Event = Event{Kind: EventOther}
	return rec
}
