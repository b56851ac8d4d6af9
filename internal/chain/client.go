package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/stps/internal/execnode"
	"github.com/gateway-fm/stps/internal/rpc"
)

// Defaults applied by Connect to zero Config fields.
const (
	DefaultConnectAttempts = 10
	DefaultConnectDelay    = time.Second
	DefaultPollInterval    = time.Second
)

// DefaultExistentialDeposit is the amount each benchmark transfer moves (0.001 ether).
var DefaultExistentialDeposit = big.NewInt(1_000_000_000_000_000)

// Config configures a chain Client.
type Config struct {
	RPCURL string
	// WSURL is the endpoint for newHeads subscriptions. Empty derives it from RPCURL.
	WSURL string
	// ChainID is the expected chain id. Zero accepts whatever the node reports.
	ChainID int64

	Capabilities *execnode.ExecutionLayerCapabilities

	GasTipCap *big.Int
	// GasFeeCap of nil or zero is derived from the node's gas price at connect time.
	GasFeeCap *big.Int

	ExistentialDeposit *big.Int

	ConnectAttempts int
	ConnectDelay    time.Duration
	PollInterval    time.Duration

	// RPC overrides the HTTP client built from RPCURL.
	RPC    rpc.Client
	Logger *slog.Logger
}

// Client is a connected chain endpoint.
type Client struct {
	rpc     rpc.Client
	rpcURL  string
	wsURL   string
	chainID *big.Int
	signer  types.Signer
	caps    *execnode.ExecutionLayerCapabilities

	gasTipCap *big.Int
	gasFeeCap *big.Int
	ed        *big.Int

	pollInterval time.Duration
	logger       *slog.Logger
}

// Connect dials the endpoint, retrying a fixed number of times with a fixed delay
// between attempts. It fails with a *ConnectionError once the attempts are used up.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = DefaultConnectAttempts
	}
	delay := cfg.ConnectDelay
	if delay <= 0 {
		delay = DefaultConnectDelay
	}
	caps := cfg.Capabilities
	if caps == nil {
		caps = execnode.GethCapabilities()
	}

	client := cfg.RPC
	if client == nil {
		rc := rpc.DefaultClientConfig(cfg.RPCURL)
		rc.Logger = logger
		client = rpc.NewHTTPClient(rc)
	}

	var (
		chainID *big.Int
		err     error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		chainID, err = client.ChainID(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, &ConnectionError{URL: cfg.RPCURL, Attempts: attempt, Err: ctx.Err()}
		}
		logger.Warn("connection attempt failed", "url", cfg.RPCURL, "attempt", attempt, "of", attempts, "error", err)
		if attempt == attempts {
			return nil, &ConnectionError{URL: cfg.RPCURL, Attempts: attempts, Err: err}
		}
		select {
		case <-ctx.Done():
			return nil, &ConnectionError{URL: cfg.RPCURL, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(delay):
		}
	}

	if cfg.ChainID != 0 && chainID.Int64() != cfg.ChainID {
		return nil, fmt.Errorf("chain id mismatch: node reports %s, configured %d", chainID, cfg.ChainID)
	}

	tip := cfg.GasTipCap
	if tip == nil {
		tip = big.NewInt(0)
	}
	feeCap := cfg.GasFeeCap
	if feeCap == nil || feeCap.Sign() == 0 {
		gasPrice, err := client.GetGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("get gas price: %w", err)
		}
		feeCap = new(big.Int).Mul(new(big.Int).SetUint64(gasPrice), big.NewInt(2))
		feeCap.Add(feeCap, tip)
	}

	ed := cfg.ExistentialDeposit
	if ed == nil || ed.Sign() == 0 {
		ed = DefaultExistentialDeposit
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	wsURL := cfg.WSURL
	if wsURL == "" {
		wsURL = WebSocketURL(cfg.RPCURL)
	}

	logger.Info("connected", "url", cfg.RPCURL, "chainId", chainID, "executionLayer", caps.Name, "gasFeeCap", feeCap)

	return &Client{
		rpc:          client,
		rpcURL:       cfg.RPCURL,
		wsURL:        wsURL,
		chainID:      chainID,
		signer:       types.LatestSignerForChainID(chainID),
		caps:         caps,
		gasTipCap:    tip,
		gasFeeCap:    feeCap,
		ed:           new(big.Int).Set(ed),
		pollInterval: poll,
		logger:       logger,
	}, nil
}

// WebSocketURL converts an http(s) endpoint to its ws(s) form.
func WebSocketURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	default:
		return httpURL
	}
}

// RPC returns the underlying JSON-RPC client.
func (c *Client) RPC() rpc.Client { return c.rpc }

// ChainID returns the connected chain's id.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// URL returns the HTTP endpoint.
func (c *Client) URL() string { return c.rpcURL }

// CurrentBlock returns the header of the latest block. Extrinsics are not loaded.
func (c *Client) CurrentBlock(ctx context.Context) (*Block, error) {
	h, err := c.rpc.GetHeaderByTag(ctx, rpc.TagLatest)
	if err != nil {
		return nil, fmt.Errorf("get latest header: %w", err)
	}
	return &Block{Number: h.Number, Hash: h.Hash, Timestamp: h.Timestamp}, nil
}

// FinalizedHead returns the number of the highest finalized block. Nodes without
// the finalized tag are treated as final FinalityDepth blocks behind the tip.
func (c *Client) FinalizedHead(ctx context.Context) (uint64, error) {
	if c.caps.SupportsFinalizedTag {
		h, err := c.rpc.GetHeaderByTag(ctx, rpc.TagFinalized)
		if err != nil {
			return 0, fmt.Errorf("get finalized header: %w", err)
		}
		return h.Number, nil
	}
	latest, err := c.rpc.GetBlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("get block number: %w", err)
	}
	if latest < c.caps.FinalityDepth {
		return 0, nil
	}
	return latest - c.caps.FinalityDepth, nil
}

// BlockHash returns the hash of block n.
func (c *Client) BlockHash(ctx context.Context, n uint64) (common.Hash, error) {
	h, err := c.rpc.GetHeaderByNumber(ctx, n)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get header %d: %w", n, err)
	}
	return h.Hash, nil
}

// BlockAt returns the block with the given hash and its extrinsic records.
func (c *Client) BlockAt(ctx context.Context, hash common.Hash) (*Block, error) {
	b, err := c.rpc.GetBlockByHashFull(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("get block %s: %w", hash.Hex(), err)
	}
	return toBlock(b), nil
}

// EventsAt returns the decoded events of the block with the given hash.
func (c *Client) EventsAt(ctx context.Context, hash common.Hash) ([]EventRecord, error) {
	_, events, err := c.BlockWithEvents(ctx, hash)
	return events, err
}

// BlockWithEvents loads a block and its events with a single block fetch.
func (c *Client) BlockWithEvents(ctx context.Context, hash common.Hash) (*Block, []EventRecord, error) {
	b, err := c.rpc.GetBlockByHashFull(ctx, hash)
	if err != nil {
		return nil, nil, fmt.Errorf("get block %s: %w", hash.Hex(), err)
	}
	receipts, err := c.receipts(ctx, b)
	if err != nil {
		return nil, nil, err
	}
	events, err := DecodeEvents(b, receipts)
	if err != nil {
		return nil, nil, err
	}
	return toBlock(b), events, nil
}

func (c *Client) receipts(ctx context.Context, b *rpc.BlockFull) ([]*rpc.TransactionReceipt, error) {
	if len(b.Transactions) == 0 {
		return nil, nil
	}
	if c.caps.SupportsBlockReceipts {
		r, err := c.rpc.GetBlockReceipts(ctx, b.Hash)
		if err != nil {
			return nil, fmt.Errorf("get receipts of block %d: %w", b.Number, err)
		}
		return r, nil
	}
	hashes := make([]common.Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		hashes[i] = tx.Hash
	}
	r, err := c.rpc.GetTransactionReceiptsBatch(ctx, hashes)
	if err != nil {
		return nil, fmt.Errorf("get receipts of block %d: %w", b.Number, err)
	}
	return r, nil
}

func toBlock(b *rpc.BlockFull) *Block {
	return &Block{
		Number:     b.Number,
		Hash:       b.Hash,
		Timestamp:  b.Timestamp,
		Extrinsics: Extrinsics(b),
	}
}

// NonceAt returns the number of transactions addr had sent as of block.
func (c *Client) NonceAt(ctx context.Context, addr common.Address, block uint64) (uint64, error) {
	nonce, err := c.rpc.GetNonce(ctx, addr.Hex(), hexutil.EncodeUint64(block))
	if err != nil {
		return 0, fmt.Errorf("nonce of %s at block %d: %w", addr.Hex(), block, err)
	}
	return nonce, nil
}

// AccountState returns the latest nonce and balance of addr in one round trip.
func (c *Client) AccountState(ctx context.Context, addr common.Address) (*AccountState, error) {
	resps, err := c.rpc.BatchCall(ctx, []rpc.BatchRequest{
		{Method: "eth_getTransactionCount", Params: []interface{}{addr.Hex(), rpc.TagLatest}},
		{Method: "eth_getBalance", Params: []interface{}{addr.Hex(), rpc.TagLatest}},
	})
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", addr.Hex(), err)
	}
	if len(resps) != 2 {
		return nil, fmt.Errorf("get account %s: %d responses, want 2", addr.Hex(), len(resps))
	}
	for _, r := range resps {
		if r.Error != nil {
			return nil, fmt.Errorf("get account %s: %w", addr.Hex(), r.Error)
		}
	}

	var nonce hexutil.Uint64
	if err := json.Unmarshal(resps[0].Result, &nonce); err != nil {
		return nil, fmt.Errorf("parse nonce: %w", err)
	}
	var balance hexutil.Big
	if err := json.Unmarshal(resps[1].Result, &balance); err != nil {
		return nil, fmt.Errorf("parse balance: %w", err)
	}
	return &AccountState{Nonce: uint64(nonce), Balance: balance.ToInt()}, nil
}

// ExistentialDeposit returns the chain's minimum meaningful balance.
func (c *Client) ExistentialDeposit(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.ed), nil
}
