package pipeline

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/stps/internal/account"
	"github.com/gateway-fm/stps/internal/chain"
	"github.com/gateway-fm/stps/internal/txbuilder"
)

var testChainID = big.NewInt(1337)

// keySigner signs for real with a London signer.
type keySigner struct {
	signer types.Signer
	failAt int64 // nonce that fails, -1 for none
}

var _ Signer = (*keySigner)(nil)

func newKeySigner() *keySigner {
	return &keySigner{signer: types.LatestSignerForChainID(testChainID), failAt: -1}
}

func (s *keySigner) SignTransaction(sender *account.Account, nonce uint64, receiver common.Address, amount *big.Int) (*chain.SignedTransaction, error) {
	if int64(nonce) == s.failAt {
		return nil, errors.New("hsm unavailable")
	}
	tx, err := txbuilder.NewTransferBuilder(receiver, amount).Build(txbuilder.TxParams{
		ChainID:   testChainID,
		Nonce:     nonce,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
	})
	if err != nil {
		return nil, err
	}
	signed, err := types.SignTx(tx, s.signer, sender.PrivateKey)
	if err != nil {
		return nil, err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &chain.SignedTransaction{
		Sender:   sender.Address,
		Receiver: receiver,
		Amount:   amount,
		Nonce:    nonce,
		Hash:     signed.Hash(),
		Raw:      raw,
	}, nil
}

func TestPresignNonceOrder(t *testing.T) {
	sender, _ := account.DeriveAccount(account.DefaultSenderDerivation, 0)
	receivers := account.GenerateReceivers(64, 0)
	p := New(Config{Signer: newKeySigner(), Workers: 8})

	txs, err := p.Presign(context.Background(), sender, receivers, big.NewInt(1000), 5)
	if err != nil {
		t.Fatalf("Presign: %v", err)
	}
	if len(txs) != len(receivers) {
		t.Fatalf("len = %d, want %d", len(txs), len(receivers))
	}
	for i, tx := range txs {
		if tx.Nonce != 5+uint64(i) {
			t.Errorf("txs[%d].Nonce = %d, want %d", i, tx.Nonce, 5+i)
		}
		if tx.Receiver != receivers[i] {
			t.Errorf("txs[%d] receiver out of order", i)
		}
	}
}

func TestPresignRoundTrip(t *testing.T) {
	sender, _ := account.DeriveAccount(account.DefaultSenderDerivation, 2)
	receivers := account.GenerateReceivers(8, 100)
	ks := newKeySigner()
	txs, err := New(Config{Signer: ks}).Presign(context.Background(), sender, receivers, big.NewInt(7), 0)
	if err != nil {
		t.Fatalf("Presign: %v", err)
	}
	for i, tx := range txs {
		decoded, err := chain.DecodeTransaction(ks.signer, tx.Raw)
		if err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		if decoded.Sender != sender.Address || decoded.Receiver != receivers[i] ||
			decoded.Nonce != uint64(i) || decoded.Amount.Int64() != 7 {
			t.Errorf("decoded[%d] = %+v", i, decoded)
		}
	}
}

func TestPresignFailureAbortsBatch(t *testing.T) {
	sender, _ := account.DeriveAccount(account.DefaultSenderDerivation, 0)
	ks := newKeySigner()
	ks.failAt = 10
	txs, err := New(Config{Signer: ks, Workers: 4}).Presign(context.Background(), sender, account.GenerateReceivers(32, 0), big.NewInt(1), 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if txs != nil {
		t.Errorf("partial batch returned: %d txs", len(txs))
	}
}

func TestPresignNoReceivers(t *testing.T) {
	sender, _ := account.DeriveAccount(account.DefaultSenderDerivation, 0)
	if _, err := New(Config{Signer: newKeySigner()}).Presign(context.Background(), sender, nil, big.NewInt(1), 0); !errors.Is(err, ErrNoReceivers) {
		t.Errorf("err = %v, want ErrNoReceivers", err)
	}
}

func TestPresignDerived(t *testing.T) {
	senders, err := account.DeriveAccounts(account.DefaultSenderDerivation, 6)
	if err != nil {
		t.Fatalf("DeriveAccounts: %v", err)
	}
	receivers := account.GenerateReceivers(6, 0)
	ks := newKeySigner()

	txs, err := New(Config{Signer: ks, Workers: 3}).PresignDerived(context.Background(), senders, receivers, big.NewInt(9))
	if err != nil {
		t.Fatalf("PresignDerived: %v", err)
	}
	for i, tx := range txs {
		decoded, err := chain.DecodeTransaction(ks.signer, tx.Raw)
		if err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		if decoded.Sender != senders[i].Address || decoded.Receiver != receivers[i] || decoded.Nonce != 0 {
			t.Errorf("decoded[%d] = %+v", i, decoded)
		}
	}
	for i, s := range senders {
		if got := s.PeekNonce(); got != 1 {
			t.Errorf("sender %d nonce = %d, want 1 after signing", i, got)
		}
	}

	if _, err := New(Config{Signer: ks}).PresignDerived(context.Background(), senders[:2], receivers, big.NewInt(9)); !errors.Is(err, ErrSenderCount) {
		t.Errorf("err = %v, want ErrSenderCount", err)
	}
}
