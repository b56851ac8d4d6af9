package chain

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/stps/internal/execnode"
	"github.com/gateway-fm/stps/internal/rpc"
)

// fakeRPC is an in-memory node.
type fakeRPC struct {
	mu sync.Mutex

	chainID      *big.Int
	chainIDErrs  int // number of ChainID calls that fail before succeeding
	chainIDCalls int
	gasPrice     uint64

	latest         uint64
	finalized      []uint64 // successive finalized heads, the last one repeats
	finalizedCalls int

	blocks   map[common.Hash]*rpc.BlockFull
	receipts map[common.Hash]*rpc.TransactionReceipt
	// receiptDelay hides receipts for that many GetTransactionReceipt calls.
	receiptDelay int

	callErr error
	sent    [][]byte
	sendErr error
	batch   func([]rpc.BatchRequest) ([]rpc.BatchResponse, error)
	nonce   func(address, tag string) (uint64, error)
}

var _ rpc.Client = (*fakeRPC)(nil)

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		chainID:  big.NewInt(1337),
		gasPrice: 10,
		blocks:   make(map[common.Hash]*rpc.BlockFull),
		receipts: make(map[common.Hash]*rpc.TransactionReceipt),
	}
}

func (f *fakeRPC) Call(context.Context, string, []interface{}) (json.RawMessage, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRPC) BatchCall(_ context.Context, calls []rpc.BatchRequest) ([]rpc.BatchResponse, error) {
	if f.batch == nil {
		return nil, errors.New("not implemented")
	}
	return f.batch(calls)
}

func (f *fakeRPC) SendRawTransaction(_ context.Context, raw []byte) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	f.sent = append(f.sent, raw)
	return common.BytesToHash(raw[len(raw)-4:]), nil
}

func (f *fakeRPC) ChainID(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chainIDCalls++
	if f.chainIDCalls <= f.chainIDErrs {
		return nil, errors.New("connection refused")
	}
	return f.chainID, nil
}

func (f *fakeRPC) GetNonce(_ context.Context, address, tag string) (uint64, error) {
	if f.nonce == nil {
		return 0, nil
	}
	return f.nonce(address, tag)
}

func (f *fakeRPC) GetBlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, nil
}

func (f *fakeRPC) GetHeaderByTag(_ context.Context, tag string) (*rpc.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tag == rpc.TagLatest {
		return &rpc.Header{Number: f.latest}, nil
	}
	if len(f.finalized) == 0 {
		return &rpc.Header{}, nil
	}
	i := min(f.finalizedCalls, len(f.finalized)-1)
	f.finalizedCalls++
	return &rpc.Header{Number: f.finalized[i]}, nil
}

func (f *fakeRPC) GetHeaderByNumber(_ context.Context, n uint64) (*rpc.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.blocks {
		if b.Number == n {
			h := b.Header
			return &h, nil
		}
	}
	return nil, rpc.ErrBlockNotFound
}

func (f *fakeRPC) GetBlockByHashFull(_ context.Context, hash common.Hash) (*rpc.BlockFull, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.blocks[hash]
	if !ok {
		return nil, rpc.ErrBlockNotFound
	}
	return b, nil
}

func (f *fakeRPC) GetBlockReceipts(_ context.Context, hash common.Hash) ([]*rpc.TransactionReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.blocks[hash]
	if !ok {
		return nil, rpc.ErrBlockNotFound
	}
	out := make([]*rpc.TransactionReceipt, len(b.Transactions))
	for i, tx := range b.Transactions {
		out[i] = f.receipts[tx.Hash]
	}
	return out, nil
}

func (f *fakeRPC) GetGasPrice(context.Context) (uint64, error) { return f.gasPrice, nil }

func (f *fakeRPC) GetTransactionReceipt(_ context.Context, hash common.Hash) (*rpc.TransactionReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiptDelay > 0 {
		f.receiptDelay--
		return nil, nil
	}
	return f.receipts[hash], nil
}

func (f *fakeRPC) GetTransactionReceiptsBatch(ctx context.Context, hashes []common.Hash) ([]*rpc.TransactionReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*rpc.TransactionReceipt, len(hashes))
	for i, h := range hashes {
		out[i] = f.receipts[h]
	}
	return out, nil
}

func (f *fakeRPC) CallAt(context.Context, rpc.CallMsg, uint64) ([]byte, error) {
	return nil, f.callErr
}

// addBlock stores a block with one receipt per transaction; statuses[i] is the
// receipt status of transaction i.
func (f *fakeRPC) addBlock(number uint64, txs []rpc.Transaction, statuses []uint64) common.Hash {
	hash := common.BigToHash(new(big.Int).SetUint64(number + 0x1000))
	for i := range txs {
		if txs[i].Hash == (common.Hash{}) {
			txs[i].Hash = common.BigToHash(big.NewInt(int64(number<<16) + int64(i) + 1))
		}
		f.receipts[txs[i].Hash] = &rpc.TransactionReceipt{
			TxHash:           txs[i].Hash,
			TransactionIndex: uint64(i),
			Status:           statuses[i],
			BlockNumber:      number,
			BlockHash:        hash,
		}
	}
	f.blocks[hash] = &rpc.BlockFull{
		Header:       rpc.Header{Number: number, Hash: hash, Timestamp: time.UnixMilli(int64(number) * 1000)},
		Transactions: txs,
	}
	return hash
}

func connectFake(f *fakeRPC) *Client {
	c, err := Connect(context.Background(), Config{
		RPC:          f,
		RPCURL:       "http://fake",
		WSURL:        "-",
		PollInterval: time.Millisecond,
		ConnectDelay: time.Millisecond,
		Capabilities: execnode.GethCapabilities(),
	})
	if err != nil {
		panic(err)
	}
	return c
}
