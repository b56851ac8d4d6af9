package txbuilder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestTransferBuilder(t *testing.T) {
	to := common.HexToAddress("0x3030303030303030303030303030303030303030")
	b := NewTransferBuilder(to, big.NewInt(1000))

	tests := []struct {
		name     string
		legacy   bool
		wantType uint8
	}{
		{"dynamic fee", false, types.DynamicFeeTxType},
		{"legacy", true, types.LegacyTxType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := b.Build(TxParams{
				ChainID:   big.NewInt(1337),
				Nonce:     7,
				GasTipCap: big.NewInt(1),
				GasFeeCap: big.NewInt(10),
				UseLegacy: tt.legacy,
			})
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if tx.Type() != tt.wantType {
				t.Errorf("type = %d, want %d", tx.Type(), tt.wantType)
			}
			if tx.Nonce() != 7 || *tx.To() != to || tx.Value().Int64() != 1000 {
				t.Errorf("unexpected tx fields: nonce=%d to=%s value=%s", tx.Nonce(), tx.To(), tx.Value())
			}
			if tx.Gas() != 21000 || len(tx.Data()) != 0 {
				t.Errorf("gas=%d data=%x", tx.Gas(), tx.Data())
			}
		})
	}
}

func TestBuildRequiresChainID(t *testing.T) {
	builders := []Builder{
		NewTransferBuilder(common.Address{}, big.NewInt(1)),
		NewRemarkBuilder(common.Address{}, []byte("x")),
	}
	for _, b := range builders {
		if _, err := b.Build(TxParams{ChainID: big.NewInt(0)}); err == nil {
			t.Errorf("%s: expected error for zero chain ID", b.Kind())
		}
	}
}

func TestRemarkBuilder(t *testing.T) {
	from := common.HexToAddress("0x01")
	b := NewRemarkBuilder(from, []byte("hello"))
	if got, want := b.GasLimit(), uint64(21000+16*5); got != want {
		t.Errorf("GasLimit = %d, want %d", got, want)
	}
	tx, err := b.Build(TxParams{ChainID: big.NewInt(1), GasFeeCap: big.NewInt(1), GasTipCap: big.NewInt(1)})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if *tx.To() != from || tx.Value().Sign() != 0 || string(tx.Data()) != "hello" {
		t.Errorf("remark tx = to %s value %s data %q", tx.To(), tx.Value(), tx.Data())
	}
}
