package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/stps/internal/account"
	"github.com/gateway-fm/stps/internal/txbuilder"
)

// SignTransaction builds and signs a transfer of amount from sender to receiver
// at the given nonce. It does not touch the network.
func (c *Client) SignTransaction(sender *account.Account, nonce uint64, receiver common.Address, amount *big.Int) (*SignedTransaction, error) {
	return c.sign(sender, nonce, txbuilder.NewTransferBuilder(receiver, amount))
}

// SignRemark builds and signs a zero-value self transaction carrying data.
func (c *Client) SignRemark(sender *account.Account, nonce uint64, data []byte) (*SignedTransaction, error) {
	return c.sign(sender, nonce, txbuilder.NewRemarkBuilder(sender.Address, data))
}

func (c *Client) sign(sender *account.Account, nonce uint64, b txbuilder.Builder) (*SignedTransaction, error) {
	tx, err := b.Build(txbuilder.TxParams{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: c.gasTipCap,
		GasFeeCap: c.gasFeeCap,
		UseLegacy: c.caps.RequiresLegacyTx,
	})
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", b.Kind(), err)
	}
	signed, err := types.SignTx(tx, c.signer, sender.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sign %s nonce %d: %w", b.Kind(), nonce, err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode %s nonce %d: %w", b.Kind(), nonce, err)
	}
	return &SignedTransaction{
		Sender:   sender.Address,
		Receiver: *signed.To(),
		Amount:   signed.Value(),
		Nonce:    nonce,
		Hash:     signed.Hash(),
		Raw:      raw,
	}, nil
}

// DecodeTransaction decodes a signed transaction produced by this client and
// recovers its sender.
func (c *Client) DecodeTransaction(raw []byte) (*SignedTransaction, error) {
	return DecodeTransaction(c.signer, raw)
}

// DecodeTransaction decodes raw with the given signer.
func DecodeTransaction(signer types.Signer, raw []byte) (*SignedTransaction, error) {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	from, err := types.Sender(signer, &tx)
	if err != nil {
		return nil, fmt.Errorf("recover sender: %w", err)
	}
	if tx.To() == nil {
		return nil, fmt.Errorf("transaction %s has no receiver", tx.Hash().Hex())
	}
	return &SignedTransaction{
		Sender:   from,
		Receiver: *tx.To(),
		Amount:   tx.Value(),
		Nonce:    tx.Nonce(),
		Hash:     tx.Hash(),
		Raw:      raw,
	}, nil
}
