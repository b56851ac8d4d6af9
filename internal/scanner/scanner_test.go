package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gateway-fm/stps/internal/chain"
	"github.com/gateway-fm/stps/internal/chain/chaintest"
)

var _ Chain = (*chaintest.Chain)(nil)

func TestBlockTransfersFiltersPhase(t *testing.T) {
	c := chaintest.New()
	n := c.AddBlock(1000,
		chaintest.Deposit(),
		chaintest.Transfer(),
		chaintest.Remark(),
		chaintest.Transfer(),
		chaintest.Failed(chain.SectionBalances, chain.MethodTransfer),
	)
	s := New(Config{Chain: c})

	br, err := s.BlockTransfers(context.Background(), n)
	if err != nil {
		t.Fatalf("BlockTransfers: %v", err)
	}
	if br.Transfers != 2 {
		t.Errorf("Transfers = %d, want 2 (deposit must not count)", br.Transfers)
	}
	if len(br.Failures) != 1 {
		t.Fatalf("Failures = %d, want 1", len(br.Failures))
	}
	if got := br.Failures[0].Extrinsic; got.Index != 4 || got.String() != "balances.transfer" {
		t.Errorf("failure paired with %s at %d", got, got.Index)
	}
}

func TestScanRange(t *testing.T) {
	c := chaintest.New()
	c.AddTransferBlock(1000, 10)
	c.AddTransferBlock(2000, 0)
	c.AddTransferBlock(3000, 7)
	c.AddBlock(4000, chaintest.Transfer(), chaintest.Failed(chain.SectionBalances, chain.MethodTransfer))

	tests := []struct {
		name          string
		start, end    uint64
		wantTransfers uint64
		wantBlocks    int
		wantFailures  int
	}{
		{"whole chain", 0, 4, 18, 5, 1},
		{"single block", 3, 3, 7, 1, 0},
		{"empty range", 3, 2, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := New(Config{Chain: c, Concurrency: 2}).ScanRange(context.Background(), tt.start, tt.end)
			if err != nil {
				t.Fatalf("ScanRange: %v", err)
			}
			if res.Transfers != tt.wantTransfers || res.Blocks != tt.wantBlocks || len(res.Failures) != tt.wantFailures {
				t.Errorf("got transfers=%d blocks=%d failures=%d", res.Transfers, res.Blocks, len(res.Failures))
			}
		})
	}
}

func TestScanRangeMissingBlock(t *testing.T) {
	c := chaintest.New()
	c.AddTransferBlock(1000, 1)
	if _, err := New(Config{Chain: c}).ScanRange(context.Background(), 0, 5); err == nil {
		t.Fatal("expected error scanning past the head")
	}
}

func TestDiagnose(t *testing.T) {
	c := chaintest.New()
	c.AddTransferBlock(1000, 3)
	failed := c.AddBlock(2000, chaintest.Transfer(), chaintest.Failed(chain.SectionBalances, chain.MethodTransfer))
	c.AddTransferBlock(3000, 3)
	c.Dispatch[chaintest.TxHash(failed, 1)] = chain.DispatchInfo{Module: true, Section: "balances", Name: "InsufficientBalance"}

	err := New(Config{Chain: c}).Diagnose(context.Background(), 0, 3)
	var failedErr *ExtrinsicFailedError
	if !errors.As(err, &failedErr) {
		t.Fatalf("expected ExtrinsicFailedError, got %v", err)
	}
	if failedErr.Block != failed {
		t.Errorf("Block = %d, want %d", failedErr.Block, failed)
	}
	if want := "balances.transfer :: ExtrinsicFailed :: balances.InsufficientBalance"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	// Each inspected block is fetched by its own hash, never the head's.
	for i, h := range c.Fetched() {
		if h != chaintest.HashOf(uint64(i)) {
			t.Errorf("fetch %d used hash %s, want block %d", i, h.Hex(), i)
		}
	}
}

func TestDiagnoseGenericError(t *testing.T) {
	c := chaintest.New()
	n := c.AddBlock(1000, chaintest.Failed(chain.SectionEVM, "0xa9059cbb"))
	c.Dispatch[chaintest.TxHash(n, 0)] = chain.DispatchInfo{Message: "out of gas"}

	err := New(Config{Chain: c}).Diagnose(context.Background(), 0, n)
	if err == nil || err.Error() != "evm.0xa9059cbb :: ExtrinsicFailed :: out of gas" {
		t.Errorf("Diagnose = %v", err)
	}
}

func TestDiagnoseNoFailure(t *testing.T) {
	c := chaintest.New()
	c.AddTransferBlock(1000, 5)
	if err := New(Config{Chain: c}).Diagnose(context.Background(), 0, 1); !errors.Is(err, ErrNoFailureFound) {
		t.Errorf("Diagnose = %v, want ErrNoFailureFound", err)
	}
}

func TestSubscribeFinalized(t *testing.T) {
	c := chaintest.New()
	for range 5 {
		c.AddTransferBlock(0, 1)
	}
	c.Finalize(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	heads, sub, err := New(Config{Chain: c}).SubscribeFinalized(ctx)
	if err != nil {
		t.Fatalf("SubscribeFinalized: %v", err)
	}
	defer sub.Unsubscribe()

	go c.Finalize(5)
	for _, want := range []uint64{2, 3, 4, 5} {
		select {
		case got := <-heads:
			if got != want {
				t.Fatalf("head = %d, want %d", got, want)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %d", want)
		}
	}
}
