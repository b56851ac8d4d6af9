package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gateway-fm/stps/internal/rpc"
)

// DecodeDispatchError explains a failed transaction by replaying its call against
// the state of the parent block and decoding the revert payload.
func (c *Client) DecodeDispatchError(ctx context.Context, f Failure) (DispatchInfo, error) {
	block := f.BlockNumber
	if block > 0 {
		block--
	}
	_, err := c.rpc.CallAt(ctx, rpc.CallMsg{
		From:  f.From,
		To:    f.To,
		Gas:   f.Gas,
		Value: f.Value,
		Data:  f.Input,
	}, block)
	if err == nil {
		if f.Gas > 0 && f.GasUsed >= f.Gas {
			return DispatchInfo{Message: "out of gas"}, nil
		}
		return DispatchInfo{Message: "reverted, not reproducible at parent state"}, nil
	}

	var rpcErr *rpc.RPCError
	if !errors.As(err, &rpcErr) {
		return DispatchInfo{}, fmt.Errorf("replay %s: %w", f.TxHash.Hex(), err)
	}
	var data []byte
	if rpcErr.Data != "" {
		data, _ = hexutil.Decode(rpcErr.Data)
	}
	return DecodeRevert(data, f.To, rpcErr.Message), nil
}

// DecodeRevert turns a revert payload into DispatchInfo. Error(string) and
// Panic(uint256) become messages; any other selector is a module error named
// after the reverting contract and the selector.
func DecodeRevert(data []byte, contract *common.Address, message string) DispatchInfo {
	if len(data) < 4 {
		if message == "" {
			message = "execution reverted"
		}
		return DispatchInfo{Message: message}
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return DispatchInfo{Message: reason}
	}
	section := SectionEVM
	if contract != nil {
		section = contract.Hex()
	}
	return DispatchInfo{Module: true, Section: section, Name: hexutil.Encode(data[:4])}
}
