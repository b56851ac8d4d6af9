package chain

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/gateway-fm/stps/internal/account"
	"github.com/gateway-fm/stps/internal/execnode"
	"github.com/gateway-fm/stps/internal/rpc"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	token = common.HexToAddress("0x00000000000000000000000000000000000000c0")
)

func TestClassifyExtrinsic(t *testing.T) {
	tests := []struct {
		name string
		tx   rpc.Transaction
		want string
	}{
		{"plain transfer", rpc.Transaction{From: alice, To: &bob, Value: big.NewInt(1)}, "balances.transfer"},
		{"remark", rpc.Transaction{From: alice, To: &alice, Input: []byte("hi")}, "system.remark"},
		{"create", rpc.Transaction{From: alice, Input: []byte{0x60}}, "evm.create"},
		{"contract call", rpc.Transaction{From: alice, To: &token, Input: common.FromHex("0xa9059cbb0000")}, "evm.0xa9059cbb"},
		{"short calldata", rpc.Transaction{From: alice, To: &token, Input: []byte{0x01}}, "evm.call"},
		{"deposit", rpc.Transaction{Type: 126, From: alice, To: &bob}, "l1.deposit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyExtrinsic(0, tt.tx).String(); got != tt.want {
				t.Errorf("ClassifyExtrinsic = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeEvents(t *testing.T) {
	f := newFakeRPC()
	hash := f.addBlock(4, []rpc.Transaction{
		{Type: 126, From: alice, To: &bob},
		{From: alice, To: &bob, Value: big.NewInt(5)},
		{From: alice, To: &bob, Value: big.NewInt(5), Gas: 21000},
		{From: alice, To: &token, Input: common.FromHex("0x12345678")},
	}, []uint64{1, 1, 0, 1})

	receipts, _ := f.GetBlockReceipts(context.Background(), hash)
	events, err := DecodeEvents(f.blocks[hash], receipts)
	if err != nil {
		t.Fatalf("DecodeEvents: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("events = %d, want 4", len(events))
	}

	if events[0].Phase.Kind != PhaseInitialization {
		t.Errorf("deposit phase = %s", events[0].Phase)
	}
	if events[1].Phase != ApplyExtrinsic(1) || events[1].Event.Kind != EventTransfer {
		t.Errorf("event 1 = %s %s", events[1].Phase, events[1].Event.Kind)
	}
	if events[1].Event.Transfer.To != bob || events[1].Event.Transfer.Amount.Int64() != 5 {
		t.Errorf("transfer = %+v", events[1].Event.Transfer)
	}
	if events[2].Event.Kind != EventExtrinsicFailed || events[2].Event.Failure.BlockNumber != 4 {
		t.Errorf("event 2 = %+v", events[2].Event)
	}
	if events[3].Event.Kind != EventOther {
		t.Errorf("contract call event = %s, want Other", events[3].Event.Kind)
	}
}

func TestDecodeEventsMissingReceipt(t *testing.T) {
	f := newFakeRPC()
	hash := f.addBlock(1, []rpc.Transaction{{From: alice, To: &bob}}, []uint64{1})
	if _, err := DecodeEvents(f.blocks[hash], nil); err == nil {
		t.Fatal("expected error for block without receipts")
	}
}

func TestConnectRetries(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		attempts  int
		wantErr   bool
		wantCalls int
	}{
		{"first attempt", 0, 3, false, 1},
		{"recovers", 2, 3, false, 3},
		{"gives up", 5, 3, true, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeRPC()
			f.chainIDErrs = tt.failures
			_, err := Connect(context.Background(), Config{
				RPC:             f,
				RPCURL:          "http://fake",
				ConnectAttempts: tt.attempts,
				ConnectDelay:    time.Millisecond,
			})
			if tt.wantErr {
				var connErr *ConnectionError
				if !errors.As(err, &connErr) {
					t.Fatalf("expected ConnectionError, got %v", err)
				}
				if connErr.Attempts != tt.attempts {
					t.Errorf("Attempts = %d, want %d", connErr.Attempts, tt.attempts)
				}
			} else if err != nil {
				t.Fatalf("Connect: %v", err)
			}
			if f.chainIDCalls != tt.wantCalls {
				t.Errorf("ChainID calls = %d, want %d", f.chainIDCalls, tt.wantCalls)
			}
		})
	}
}

func TestConnectChainIDMismatch(t *testing.T) {
	_, err := Connect(context.Background(), Config{RPC: newFakeRPC(), ChainID: 1})
	if err == nil || !strings.Contains(err.Error(), "mismatch") {
		t.Fatalf("expected chain id mismatch, got %v", err)
	}
}

func TestConnectDerivesFeeCap(t *testing.T) {
	f := newFakeRPC()
	f.gasPrice = 10
	c, err := Connect(context.Background(), Config{RPC: f, GasTipCap: big.NewInt(1)})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.gasFeeCap.Int64() != 21 {
		t.Errorf("gasFeeCap = %s, want 21", c.gasFeeCap)
	}
	ed, _ := c.ExistentialDeposit(context.Background())
	if ed.Cmp(DefaultExistentialDeposit) != 0 {
		t.Errorf("existential deposit = %s", ed)
	}
}

func TestSignRoundTrip(t *testing.T) {
	for _, name := range []string{"geth", "cdk-erigon"} {
		t.Run(name, func(t *testing.T) {
			f := newFakeRPC()
			c, err := Connect(context.Background(), Config{RPC: f, Capabilities: execnode.DefaultRegistry().Get(name)})
			if err != nil {
				t.Fatalf("Connect: %v", err)
			}
			sender, _ := account.DeriveAccount(account.DefaultSenderDerivation, 0)
			receiver := account.ReceiverAddress(7)

			signed, err := c.SignTransaction(sender, 3, receiver, big.NewInt(1000))
			if err != nil {
				t.Fatalf("SignTransaction: %v", err)
			}
			decoded, err := c.DecodeTransaction(signed.Raw)
			if err != nil {
				t.Fatalf("DecodeTransaction: %v", err)
			}
			if decoded.Sender != sender.Address || decoded.Receiver != receiver ||
				decoded.Nonce != 3 || decoded.Amount.Int64() != 1000 || decoded.Hash != signed.Hash {
				t.Errorf("round trip mismatch:\n got  %+v\n want %+v", decoded, signed)
			}
		})
	}
}

func TestSignRemark(t *testing.T) {
	c := connectFake(newFakeRPC())
	sender, _ := account.DeriveAccount(account.DefaultSenderDerivation, 1)
	signed, err := c.SignRemark(sender, 16384, []byte("done"))
	if err != nil {
		t.Fatalf("SignRemark: %v", err)
	}
	if signed.Receiver != sender.Address || signed.Amount.Sign() != 0 || signed.Nonce != 16384 {
		t.Errorf("remark = %+v", signed)
	}
}

func TestSubmitRejected(t *testing.T) {
	f := newFakeRPC()
	f.sendErr = &rpc.RPCError{Code: -32000, Message: "nonce too low"}
	c := connectFake(f)
	sender, _ := account.DeriveAccount(account.DefaultSenderDerivation, 0)
	tx, _ := c.SignTransaction(sender, 0, bob, big.NewInt(1))

	_, err := c.Submit(context.Background(), tx)
	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
	if subErr.Nonce != 0 || subErr.Sender != sender.Address {
		t.Errorf("SubmissionError = %+v", subErr)
	}
	var rpcErr *rpc.RPCError
	if !errors.As(err, &rpcErr) {
		t.Error("SubmissionError should unwrap to the RPC error")
	}
}

func TestFinalizedHeadByDepth(t *testing.T) {
	f := newFakeRPC()
	f.latest = 10
	caps := &execnode.ExecutionLayerCapabilities{Name: "custom", FinalityDepth: 4}
	c, err := Connect(context.Background(), Config{RPC: f, Capabilities: caps})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if n, _ := c.FinalizedHead(context.Background()); n != 6 {
		t.Errorf("FinalizedHead = %d, want 6", n)
	}
	f.latest = 2
	if n, _ := c.FinalizedHead(context.Background()); n != 0 {
		t.Errorf("FinalizedHead below depth = %d, want 0", n)
	}
}

func TestSubscribeFinalizedHeadsPolling(t *testing.T) {
	f := newFakeRPC()
	f.finalized = []uint64{5, 5, 8}
	c := connectFake(f)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	heads := make(chan uint64)
	sub, err := c.SubscribeFinalizedHeads(ctx, heads)
	if err != nil {
		t.Fatalf("SubscribeFinalizedHeads: %v", err)
	}

	for _, want := range []uint64{5, 6, 7, 8} {
		select {
		case got := <-heads:
			if got != want {
				t.Fatalf("head = %d, want %d", got, want)
			}
		case err := <-sub.Err():
			t.Fatalf("subscription failed: %v", err)
		case <-ctx.Done():
			t.Fatalf("timed out waiting for head %d", want)
		}
	}
	sub.Unsubscribe()
	sub.Unsubscribe()
}

func TestSubscribeFinalizedHeadsWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req map[string]any
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": 1, "result": "0xabc"})
		for {
			msg := map[string]any{
				"jsonrpc": "2.0",
				"method":  "eth_subscription",
				"params":  map[string]any{"subscription": "0xabc", "result": map[string]string{"number": "0x1"}},
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer srv.Close()

	f := newFakeRPC()
	f.finalized = []uint64{3, 4}
	c, err := Connect(context.Background(), Config{
		RPC:          f,
		RPCURL:       srv.URL,
		PollInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	heads := make(chan uint64, 4)
	sub, err := c.SubscribeFinalizedHeads(ctx, heads)
	if err != nil {
		t.Fatalf("SubscribeFinalizedHeads: %v", err)
	}
	defer sub.Unsubscribe()

	for _, want := range []uint64{3, 4} {
		select {
		case got := <-heads:
			if got != want {
				t.Fatalf("head = %d, want %d", got, want)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for head %d over websocket", want)
		}
	}
}

func TestSubscribeStatus(t *testing.T) {
	f := newFakeRPC()
	f.finalized = []uint64{5, 6, 7}
	f.receiptDelay = 1
	tx := rpc.Transaction{From: alice, To: &alice, Input: []byte("x")}
	f.addBlock(7, []rpc.Transaction{tx}, []uint64{1})
	var txHash common.Hash
	for h := range f.receipts {
		txHash = h
	}
	c := connectFake(f)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	statuses := make(chan TxStatus, 4)
	sub, err := c.SubscribeStatus(ctx, txHash, statuses)
	if err != nil {
		t.Fatalf("SubscribeStatus: %v", err)
	}
	defer sub.Unsubscribe()

	var got []TxState
	for len(got) < 3 {
		select {
		case st := <-statuses:
			got = append(got, st.State)
			if st.State == TxFinalized && st.Block != 7 {
				t.Errorf("finalized block = %d, want 7", st.Block)
			}
		case err := <-sub.Err():
			t.Fatalf("subscription failed: %v", err)
		case <-ctx.Done():
			t.Fatalf("timed out, states so far %v", got)
		}
	}
	want := []TxState{TxReady, TxInBlock, TxFinalized}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states = %v, want %v", got, want)
		}
	}
}

func TestDecodeRevert(t *testing.T) {
	stringType, _ := abi.NewType("string", "", nil)
	packed, err := abi.Arguments{{Type: stringType}}.Pack("insufficient balance")
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	errorString := append(common.FromHex("0x08c379a0"), packed...)

	tests := []struct {
		name    string
		data    []byte
		message string
		want    DispatchInfo
	}{
		{"Error(string)", errorString, "execution reverted", DispatchInfo{Message: "insufficient balance"}},
		{"custom error", common.FromHex("0xe450d38c00"), "", DispatchInfo{Module: true, Section: token.Hex(), Name: "0xe450d38c"}},
		{"no payload", nil, "insufficient funds for transfer", DispatchInfo{Message: "insufficient funds for transfer"}},
		{"no payload no message", nil, "", DispatchInfo{Message: "execution reverted"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeRevert(tt.data, &token, tt.message); got != tt.want {
				t.Errorf("DecodeRevert = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeDispatchError(t *testing.T) {
	f := newFakeRPC()
	f.callErr = &rpc.RPCError{Code: 3, Message: "execution reverted", Data: "0xe450d38c"}
	c := connectFake(f)

	info, err := c.DecodeDispatchError(context.Background(), Failure{BlockNumber: 9, To: &token})
	if err != nil {
		t.Fatalf("DecodeDispatchError: %v", err)
	}
	if info.String() != token.Hex()+".0xe450d38c" {
		t.Errorf("info = %s", info)
	}

	f.callErr = nil
	info, _ = c.DecodeDispatchError(context.Background(), Failure{BlockNumber: 9, To: &bob, Gas: 21000, GasUsed: 21000})
	if info.Message != "out of gas" {
		t.Errorf("info = %+v, want out of gas", info)
	}
}

func TestAccountState(t *testing.T) {
	f := newFakeRPC()
	f.batch = func(calls []rpc.BatchRequest) ([]rpc.BatchResponse, error) {
		if len(calls) != 2 || calls[0].Method != "eth_getTransactionCount" || calls[1].Method != "eth_getBalance" {
			return nil, errors.New("unexpected batch")
		}
		return []rpc.BatchResponse{
			{Result: json.RawMessage(`"0x2"`)},
			{Result: json.RawMessage(`"0xde0b6b3a7640000"`)},
		}, nil
	}
	c := connectFake(f)

	st, err := c.AccountState(context.Background(), alice)
	if err != nil {
		t.Fatalf("AccountState: %v", err)
	}
	if st.Nonce != 2 || st.Balance.String() != "1000000000000000000" {
		t.Errorf("state = %+v", st)
	}
}

func TestNonceAt(t *testing.T) {
	f := newFakeRPC()
	var gotAddr, gotTag string
	f.nonce = func(address, tag string) (uint64, error) {
		gotAddr, gotTag = address, tag
		return 5, nil
	}
	c := connectFake(f)

	n, err := c.NonceAt(context.Background(), alice, 26)
	if err != nil {
		t.Fatalf("NonceAt: %v", err)
	}
	if n != 5 {
		t.Errorf("nonce = %d, want 5", n)
	}
	if gotAddr != alice.Hex() || gotTag != "0x1a" {
		t.Errorf("queried %s at %q, want %s at 0x1a", gotAddr, gotTag, alice.Hex())
	}

	f.nonce = func(string, string) (uint64, error) { return 0, errors.New("header not found") }
	if _, err := c.NonceAt(context.Background(), alice, 26); err == nil {
		t.Error("expected error")
	}
}

func TestBlockWithEvents(t *testing.T) {
	f := newFakeRPC()
	hash := f.addBlock(3, []rpc.Transaction{{From: alice, To: &bob, Value: big.NewInt(1)}}, []uint64{1})
	c := connectFake(f)

	block, events, err := c.BlockWithEvents(context.Background(), hash)
	if err != nil {
		t.Fatalf("BlockWithEvents: %v", err)
	}
	if block.Number != 3 || block.TimestampMs() != 3000 || len(block.Extrinsics) != 1 {
		t.Errorf("block = %+v", block)
	}
	if len(events) != 1 || events[0].Event.Kind != EventTransfer {
		t.Errorf("events = %+v", events)
	}
}

func TestWebSocketURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8545":  "ws://localhost:8545",
		"https://rpc.example.io": "wss://rpc.example.io",
		"ws://already":           "ws://already",
	}
	for in, want := range tests {
		if got := WebSocketURL(in); got != want {
			t.Errorf("WebSocketURL(%q) = %q, want %q", in, got, want)
		}
	}
}
