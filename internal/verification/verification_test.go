package verification

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/stps/internal/account"
	"github.com/gateway-fm/stps/internal/chain"
	"github.com/gateway-fm/stps/internal/chain/chaintest"
	"github.com/gateway-fm/stps/internal/scanner"
)

var (
	_ AccountReader = (*chaintest.Chain)(nil)
	_ Scanner       = (*scanner.Scanner)(nil)
)

func TestRequiredBalance(t *testing.T) {
	tests := []struct {
		ed       int64
		multiple uint64
		want     int64
	}{
		{1000, 1, 1100},
		{1000, 16384, 18022400},
		{7, 1, 7},
		{0, 5, 0},
	}
	for _, tt := range tests {
		if got := RequiredBalance(big.NewInt(tt.ed), tt.multiple); got.Int64() != tt.want {
			t.Errorf("RequiredBalance(%d, %d) = %s, want %d", tt.ed, tt.multiple, got, tt.want)
		}
	}
}

func TestCheckAccount(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tests := []struct {
		name       string
		nonce      uint64
		balance    int64
		wantReason string
	}{
		{"1.1 x ED passes", 0, 1100, ""},
		{"more than required passes", 0, 5000, ""},
		{"0.9 x ED fails", 0, 900, ReasonBalance},
		{"1.0 x ED fails", 0, 1000, ReasonBalance},
		{"non-zero nonce fails", 1, 5000, ReasonNonce},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := chaintest.New()
			c.ED = big.NewInt(1000)
			c.Accounts[addr] = &chain.AccountState{Nonce: tt.nonce, Balance: big.NewInt(tt.balance)}

			err := NewPrecondition(c, nil).CheckAccount(context.Background(), addr, 1)
			if tt.wantReason == "" {
				if err != nil {
					t.Fatalf("CheckAccount: %v", err)
				}
				return
			}
			var pv *PreconditionViolation
			if !errors.As(err, &pv) {
				t.Fatalf("expected PreconditionViolation, got %v", err)
			}
			if pv.Reason != tt.wantReason || pv.Address != addr {
				t.Errorf("violation = %+v", pv)
			}
		})
	}
}

func TestCheckSenders(t *testing.T) {
	first, err := account.DeriveAccount(account.DefaultSenderDerivation, 0)
	if err != nil {
		t.Fatal(err)
	}
	last, err := account.DeriveAccount(account.DefaultSenderDerivation, 9)
	if err != nil {
		t.Fatal(err)
	}

	c := chaintest.New()
	c.ED = big.NewInt(1000)
	c.Accounts[first.Address] = &chain.AccountState{Balance: big.NewInt(1100)}
	p := NewPrecondition(c, nil)

	var pv *PreconditionViolation
	if err := p.CheckSenders(context.Background(), account.DefaultSenderDerivation, 10, 1); !errors.As(err, &pv) || pv.Address != last.Address {
		t.Fatalf("expected violation for the last sender, got %v", err)
	}

	c.Accounts[last.Address] = &chain.AccountState{Balance: big.NewInt(1100)}
	if err := p.CheckSenders(context.Background(), account.DefaultSenderDerivation, 10, 1); err != nil {
		t.Fatalf("CheckSenders: %v", err)
	}
}

func newChain() *chaintest.Chain {
	c := chaintest.New()
	c.AddTransferBlock(1000, 100)
	c.AddTransferBlock(2000, 0)
	c.AddTransferBlock(3000, 60)
	return c
}

func TestCheckFixed(t *testing.T) {
	c := newChain()
	p := NewPostcondition(scanner.New(scanner.Config{Chain: c}), nil)

	if err := p.CheckFixed(context.Background(), 160); err != nil {
		t.Fatalf("CheckFixed: %v", err)
	}

	err := p.CheckFixed(context.Background(), 161)
	var vm *VerificationMismatch
	if !errors.As(err, &vm) {
		t.Fatalf("expected VerificationMismatch, got %v", err)
	}
	if vm.Expected != 161 || vm.Observed != 160 {
		t.Errorf("mismatch = %+v", vm)
	}
	if !errors.Is(err, scanner.ErrNoFailureFound) {
		t.Errorf("cause = %v, want ErrNoFailureFound", vm.Cause)
	}
	// The diagnostic rescan fetched every block again.
	if got := len(c.Fetched()); got < 8 {
		t.Errorf("fetched %d blocks, want the range scanned twice", got)
	}
}

func TestCheckFixedReportsCount(t *testing.T) {
	s := scanner.New(scanner.Config{Chain: newChain()})
	head, err := s.CurrentHead(context.Background())
	if err != nil {
		t.Fatalf("CurrentHead: %v", err)
	}

	tests := []struct {
		name    string
		target  uint64
		wantErr bool
	}{
		{"match", 160, false},
		{"mismatch", 200, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPostcondition(s, nil)
			var calls, gotBlock, gotCount uint64
			p.OnCount = func(block, count uint64) {
				calls++
				gotBlock, gotCount = block, count
			}
			err := p.CheckFixed(context.Background(), tt.target)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckFixed err = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != 1 || gotCount != 160 || gotBlock != head {
				t.Errorf("OnCount calls=%d block=%d count=%d, want 1 call at block %d with 160", calls, gotBlock, gotCount, head)
			}
		})
	}
}

func TestCheckFixedDiagnosesFailure(t *testing.T) {
	c := newChain()
	n := c.AddBlock(4000, chaintest.Transfer(), chaintest.Failed(chain.SectionBalances, chain.MethodTransfer))
	c.Dispatch[chaintest.TxHash(n, 1)] = chain.DispatchInfo{Message: "insufficient funds"}
	p := NewPostcondition(scanner.New(scanner.Config{Chain: c}), nil)

	err := p.CheckFixed(context.Background(), 162)
	var failed *scanner.ExtrinsicFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected ExtrinsicFailedError cause, got %v", err)
	}
	if failed.Block != n {
		t.Errorf("failure block = %d, want %d", failed.Block, n)
	}
	want := "expected 162 Transfer events, found 161: balances.transfer :: ExtrinsicFailed :: insufficient funds"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err, want)
	}
}

func TestCheckStreaming(t *testing.T) {
	c := newChain()
	c.Finalize(2)
	p := NewPostcondition(scanner.New(scanner.Config{Chain: c}), nil)

	var counts []uint64
	p.OnCount = func(_, count uint64) { counts = append(counts, count) }

	done := make(chan error, 1)
	go func() { done <- p.CheckStreaming(context.Background(), 200) }()

	for _, ts := range []int64{4000, 5000} {
		time.Sleep(10 * time.Millisecond)
		c.Finalize(c.AddTransferBlock(ts, 20))
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("CheckStreaming: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CheckStreaming did not finish")
	}

	want := []uint64{100, 160, 180, 200}
	if len(counts) != len(want) {
		t.Fatalf("counts = %v, want %v", counts, want)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Fatalf("counts = %v, want %v", counts, want)
		}
	}
	if got := c.Unsubscribes(); got != 1 {
		t.Errorf("unsubscribes = %d, want 1", got)
	}
}

func TestCheckStreamingOvershoot(t *testing.T) {
	c := newChain()
	c.Finalize(3)
	p := NewPostcondition(scanner.New(scanner.Config{Chain: c}), nil)

	err := p.CheckStreaming(context.Background(), 150)
	var vm *VerificationMismatch
	if !errors.As(err, &vm) {
		t.Fatalf("expected VerificationMismatch, got %v", err)
	}
	if vm.Observed != 160 || vm.Expected != 150 {
		t.Errorf("mismatch = %+v", vm)
	}
	if got := c.Unsubscribes(); got != 1 {
		t.Errorf("unsubscribes = %d, want 1", got)
	}
}
