// Package chaintest provides an in-memory chain for testing consumers of the chain client.
package chaintest

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"github.com/gateway-fm/stps/internal/chain"
)

// Tx describes one transaction of a fake block.
type Tx struct {
	Section string
	Method  string
	Kind    chain.EventKind
	// Initialization tags the event as emitted outside transaction execution.
	Initialization bool
}

// Transfer is a successful balances.transfer.
func Transfer() Tx {
	return Tx{Section: chain.SectionBalances, Method: chain.MethodTransfer, Kind: chain.EventTransfer}
}

// Failed is a transaction whose dispatch failed.
func Failed(section, method string) Tx {
	return Tx{Section: section, Method: method, Kind: chain.EventExtrinsicFailed}
}

// Remark is a successful system.remark.
func Remark() Tx {
	return Tx{Section: chain.SectionSystem, Method: chain.MethodRemark, Kind: chain.EventOther}
}

// Deposit is a system transaction that moves value before user transactions run.
func Deposit() Tx {
	return Tx{Section: chain.SectionL1, Method: chain.MethodDeposit, Kind: chain.EventTransfer, Initialization: true}
}

type fakeBlock struct {
	block  *chain.Block
	events []chain.EventRecord
}

// Chain is an in-memory chain. The zero value is not usable; call New.
type Chain struct {
	mu        sync.Mutex
	blocks    []fakeBlock
	finalized uint64
	changed   chan struct{}

	// Dispatch maps failed transaction hashes to their decoded error.
	Dispatch map[common.Hash]chain.DispatchInfo
	Accounts map[common.Address]*chain.AccountState
	ED       *big.Int

	fetched      []common.Hash
	unsubscribes atomic.Int32
	subscribes   atomic.Int32
}

// New returns a chain holding only an empty genesis block at timestamp 0.
func New() *Chain {
	c := &Chain{
		changed:  make(chan struct{}),
		Dispatch: make(map[common.Hash]chain.DispatchInfo),
		Accounts: make(map[common.Address]*chain.AccountState),
		ED:       big.NewInt(1_000_000_000_000_000),
	}
	c.AddBlock(0)
	return c
}

// HashOf returns the hash of block n.
func HashOf(n uint64) common.Hash {
	var h common.Hash
	h[0] = 0xb1
	binary.BigEndian.PutUint64(h[24:], n)
	return h
}

// TxHash returns the hash of transaction i of block n.
func TxHash(n uint64, i int) common.Hash {
	var h common.Hash
	h[0] = 0x7e
	binary.BigEndian.PutUint64(h[16:], n)
	binary.BigEndian.PutUint64(h[24:], uint64(i))
	return h
}

// AddBlock appends a block with the given timestamp and transactions and returns its number.
func (c *Chain) AddBlock(timestampMs int64, txs ...Tx) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := uint64(len(c.blocks))
	b := &chain.Block{Number: n, Hash: HashOf(n), Timestamp: time.UnixMilli(timestampMs)}
	events := make([]chain.EventRecord, 0, len(txs))
	for i, tx := range txs {
		b.Extrinsics = append(b.Extrinsics, chain.ExtrinsicRecord{Index: i, Section: tx.Section, Method: tx.Method, Hash: TxHash(n, i)})

		rec := chain.EventRecord{Phase: chain.ApplyExtrinsic(i), Event: chain.Event{Kind: tx.Kind}}
		if tx.Initialization {
			rec.Phase = chain.Phase{Kind: chain.PhaseInitialization}
		}
		switch tx.Kind {
		case chain.EventTransfer:
			rec.Event.Transfer = &chain.Transfer{Amount: big.NewInt(1)}
		case chain.EventExtrinsicFailed:
			rec.Event.Failure = &chain.Failure{TxHash: TxHash(n, i), BlockNumber: n}
		}
		events = append(events, rec)
	}
	c.blocks = append(c.blocks, fakeBlock{block: b, events: events})
	return n
}

// AddTransferBlock appends a block with count transfers.
func (c *Chain) AddTransferBlock(timestampMs int64, count int) uint64 {
	txs := make([]Tx, count)
	for i := range txs {
		txs[i] = Transfer()
	}
	return c.AddBlock(timestampMs, txs...)
}

// Finalize marks every block up to n as final and wakes head subscribers.
func (c *Chain) Finalize(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > c.finalized {
		c.finalized = n
	}
	close(c.changed)
	c.changed = make(chan struct{})
}

// Fetched returns the hashes passed to BlockWithEvents, in call order.
func (c *Chain) Fetched() []common.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]common.Hash(nil), c.fetched...)
}

// Unsubscribes returns how many times a head subscription was unsubscribed.
func (c *Chain) Unsubscribes() int { return int(c.unsubscribes.Load()) }

// Subscribes returns how many head subscriptions were opened.
func (c *Chain) Subscribes() int { return int(c.subscribes.Load()) }

func (c *Chain) CurrentBlock(context.Context) (*chain.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := *c.blocks[len(c.blocks)-1].block
	b.Extrinsics = nil
	return &b, nil
}

func (c *Chain) FinalizedHead(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalized, nil
}

func (c *Chain) BlockHash(_ context.Context, n uint64) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n >= uint64(len(c.blocks)) {
		return common.Hash{}, fmt.Errorf("block %d not found", n)
	}
	return HashOf(n), nil
}

func (c *Chain) byHash(hash common.Hash) (fakeBlock, error) {
	n := binary.BigEndian.Uint64(hash[24:])
	if hash != HashOf(n) || n >= uint64(len(c.blocks)) {
		return fakeBlock{}, fmt.Errorf("block %s not found", hash.Hex())
	}
	return c.blocks[n], nil
}

func (c *Chain) BlockAt(_ context.Context, hash common.Hash) (*chain.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fb, err := c.byHash(hash)
	if err != nil {
		return nil, err
	}
	return fb.block, nil
}

func (c *Chain) EventsAt(_ context.Context, hash common.Hash) ([]chain.EventRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fb, err := c.byHash(hash)
	if err != nil {
		return nil, err
	}
	return fb.events, nil
}

func (c *Chain) BlockWithEvents(_ context.Context, hash common.Hash) (*chain.Block, []chain.EventRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fb, err := c.byHash(hash)
	if err != nil {
		return nil, nil, err
	}
	c.fetched = append(c.fetched, hash)
	return fb.block, fb.events, nil
}

func (c *Chain) AccountState(_ context.Context, addr common.Address) (*chain.AccountState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.Accounts[addr]
	if !ok {
		return &chain.AccountState{Balance: new(big.Int)}, nil
	}
	return &chain.AccountState{Nonce: st.Nonce, Balance: new(big.Int).Set(st.Balance)}, nil
}

func (c *Chain) ExistentialDeposit(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.ED), nil
}

func (c *Chain) DecodeDispatchError(_ context.Context, f chain.Failure) (chain.DispatchInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if info, ok := c.Dispatch[f.TxHash]; ok {
		return info, nil
	}
	return chain.DispatchInfo{Message: "execution reverted"}, nil
}

// SubscribeFinalizedHeads sends the finalized head at call time, then every
// block finalized afterwards, once each and in order.
func (c *Chain) SubscribeFinalizedHeads(ctx context.Context, ch chan<- uint64) (event.Subscription, error) {
	c.mu.Lock()
	next := c.finalized
	c.mu.Unlock()
	c.subscribes.Add(1)

	sub := event.NewSubscription(func(quit <-chan struct{}) error {
		for {
			c.mu.Lock()
			head, changed := c.finalized, c.changed
			c.mu.Unlock()

			for ; next <= head; next++ {
				select {
				case ch <- next:
				case <-quit:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			select {
			case <-changed:
			case <-quit:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
	return &countingSub{Subscription: sub, n: &c.unsubscribes}, nil
}

type countingSub struct {
	event.Subscription
	n *atomic.Int32
}

func (s *countingSub) Unsubscribe() {
	s.n.Add(1)
	s.Subscription.Unsubscribe()
}
