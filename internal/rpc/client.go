// Package rpc provides JSON-RPC client functionality with retry logic.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Block tags accepted by the node in place of a block number.
const (
	TagLatest    = "latest"
	TagFinalized = "finalized"
	TagPending   = "pending"
)

// Client is the interface for JSON-RPC communication.
type Client interface {
	// Call makes a JSON-RPC call.
	Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error)

	// BatchCall makes multiple JSON-RPC calls in a single HTTP request.
	BatchCall(ctx context.Context, calls []BatchRequest) ([]BatchResponse, error)

	// SendRawTransaction sends a signed transaction and returns its hash.
	SendRawTransaction(ctx context.Context, txRLP []byte) (common.Hash, error)

	// ChainID returns the chain id reported by the node.
	ChainID(ctx context.Context) (*big.Int, error)

	// GetNonce fetches the nonce for an address at the given block tag.
	GetNonce(ctx context.Context, address string, tag string) (uint64, error)

	// GetBlockNumber returns the latest block number.
	GetBlockNumber(ctx context.Context) (uint64, error)

	// GetHeaderByTag fetches the header of a tagged block ("latest", "finalized").
	GetHeaderByTag(ctx context.Context, tag string) (*Header, error)

	// GetHeaderByNumber fetches a block header by number.
	GetHeaderByNumber(ctx context.Context, blockNum uint64) (*Header, error)

	// GetBlockByHashFull fetches a block with full transaction data.
	GetBlockByHashFull(ctx context.Context, hash common.Hash) (*BlockFull, error)

	// GetBlockReceipts returns all receipts of a block in transaction order.
	GetBlockReceipts(ctx context.Context, hash common.Hash) ([]*TransactionReceipt, error)

	// GetGasPrice returns the current gas price from the node.
	GetGasPrice(ctx context.Context) (uint64, error)

	// GetTransactionReceipt returns the receipt for a transaction.
	GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*TransactionReceipt, error)

	// GetTransactionReceiptsBatch fetches multiple receipts in a single request.
	GetTransactionReceiptsBatch(ctx context.Context, txHashes []common.Hash) ([]*TransactionReceipt, error)

	// CallAt executes a message call against the state of a past block.
	CallAt(ctx context.Context, msg CallMsg, blockNum uint64) ([]byte, error)
}

// Header is the subset of block header fields the driver consumes.
type Header struct {
	Number     uint64      `json:"number"`
	Hash       common.Hash `json:"hash"`
	ParentHash common.Hash `json:"parentHash"`
	Timestamp  time.Time   `json:"timestamp"`
	GasUsed    uint64      `json:"gasUsed"`
	GasLimit   uint64      `json:"gasLimit"`
}

// TransactionReceipt represents an Ethereum transaction receipt.
type TransactionReceipt struct {
	TxHash           common.Hash `json:"transactionHash"`
	TransactionIndex uint64      `json:"transactionIndex"`
	Status           uint64      `json:"status"` // 1 = success, 0 = failure
	GasUsed          uint64      `json:"gasUsed"`
	BlockNumber      uint64      `json:"blockNumber"`
	BlockHash        common.Hash `json:"blockHash"`
}

// Transaction represents a full transaction in a block.
type Transaction struct {
	Hash  common.Hash     `json:"hash"`
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"` // nil for contract creation
	Type  uint64          `json:"type"`
	Nonce uint64          `json:"nonce"`
	Value *big.Int        `json:"value"`
	Gas   uint64          `json:"gas"`
	Input []byte          `json:"input"`
}

// IsDeposit returns true if this is a deposit transaction (L1 attributes tx).
func (t Transaction) IsDeposit() bool {
	return t.Type == 126 // 0x7E = deposit transaction type in OP Stack
}

// BlockFull represents a block with full transaction data.
type BlockFull struct {
	Header
	Transactions []Transaction `json:"transactions"`
}

// CallMsg is the argument of eth_call.
type CallMsg struct {
	From  common.Address
	To    *common.Address
	Gas   uint64
	Value *big.Int
	Data  []byte
}

func (m CallMsg) toArg() map[string]interface{} {
	arg := map[string]interface{}{
		"from": m.From,
	}
	if m.To != nil {
		arg["to"] = m.To
	}
	if m.Gas != 0 {
		arg["gas"] = hexutil.Uint64(m.Gas)
	}
	if m.Value != nil {
		arg["value"] = (*hexutil.Big)(m.Value)
	}
	if len(m.Data) > 0 {
		arg["input"] = hexutil.Bytes(m.Data)
	}
	return arg
}

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// JSONRPCError represents a JSON-RPC error.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *JSONRPCError) toRPCError() *RPCError {
	rpcErr := &RPCError{Code: e.Code, Message: e.Message}
	if len(e.Data) > 0 {
		var s string
		if err := json.Unmarshal(e.Data, &s); err == nil {
			rpcErr.Data = s
		}
	}
	return rpcErr
}

// BatchRequest represents a single request in a batch.
type BatchRequest struct {
	Method string
	Params []interface{}
}

// BatchResponse represents a single response in a batch.
type BatchResponse struct {
	Result json.RawMessage
	Error  error
}

// ClientConfig holds configuration for the RPC client.
type ClientConfig struct {
	URL            string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxConns       int // Should cover the submit chunk size
	Logger         *slog.Logger
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:            url,
		Timeout:        10 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		MaxConns:       1024,
	}
}

// HTTPClient implements Client using HTTP.
type HTTPClient struct {
	url        string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
}

// NewHTTPClient creates a new HTTP-based RPC client.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 1024
	}
	transport := &http.Transport{
		MaxIdleConns:        maxConns * 2,
		MaxIdleConnsPerHost: maxConns,
		MaxConnsPerHost:     maxConns,
		IdleConnTimeout:     90 * time.Second,
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPClient{
		url: cfg.URL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.InitialBackoff,
		maxBackoff: cfg.MaxBackoff,
		logger:     logger,
	}
}

// URL returns the endpoint this client talks to.
func (c *HTTPClient) URL() string {
	return c.url
}

// Call makes a JSON-RPC call with retry logic.
// Node-level errors (RPCError) are returned immediately.
func (c *HTTPClient) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
		}

		result, err := c.doRequest(ctx, body)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Submissions are never replayed: a send that timed out or hit a
		// proxy error may still have reached the pool.
		if method == "eth_sendRawTransaction" {
			return nil, err
		}

		if isRetryableHTTPError(err) {
			backoff = getRetryDelay(err, backoff)
			c.logger.Debug("RPC got retryable HTTP error, retrying",
				slog.String("method", method),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
			continue
		}

		if isRPCError(err) {
			return nil, err
		}

		c.logger.Debug("RPC call failed, retrying",
			slog.String("method", method),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("all retries failed: %w", lastErr)
}

func (c *HTTPClient) post(ctx context.Context, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Check HTTP status code BEFORE reading/parsing body
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.ParseFloat(ra, 64); err == nil {
				retryAfter = time.Duration(secs * float64(time.Second))
			}
		}
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Body:       string(errBody),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return respBody, nil
}

func (c *HTTPClient) doRequest(ctx context.Context, body []byte) (json.RawMessage, error) {
	respBody, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error.toRPCError()
	}

	return rpcResp.Result, nil
}

// RPCError is an RPC-specific error.
type RPCError struct {
	Code    int
	Message string
	Data    string // Hex revert payload for execution errors, if any
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

func isRPCError(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr)
}

// HTTPStatusError represents an HTTP-level error (non-2xx status).
type HTTPStatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s (body: %s)", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRetryable returns true if this HTTP error should be retried.
func (e *HTTPStatusError) IsRetryable() bool {
	// 429 Too Many Requests, 502 Bad Gateway, 503 Service Unavailable, 504 Gateway Timeout
	return e.StatusCode == 429 || e.StatusCode == 502 ||
		e.StatusCode == 503 || e.StatusCode == 504
}

func isRetryableHTTPError(err error) bool {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.IsRetryable()
	}
	return false
}

func getRetryDelay(err error, defaultBackoff time.Duration) time.Duration {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}
	return defaultBackoff
}

// SendRawTransaction sends a signed transaction.
func (c *HTTPClient) SendRawTransaction(ctx context.Context, txRLP []byte) (common.Hash, error) {
	result, err := c.Call(ctx, "eth_sendRawTransaction", []interface{}{hexutil.Encode(txRLP)})
	if err != nil {
		return common.Hash{}, err
	}
	var hash common.Hash
	if err := json.Unmarshal(result, &hash); err != nil {
		return common.Hash{}, fmt.Errorf("failed to unmarshal tx hash: %w", err)
	}
	return hash, nil
}

// ChainID returns the chain id reported by eth_chainId.
func (c *HTTPClient) ChainID(ctx context.Context) (*big.Int, error) {
	result, err := c.Call(ctx, "eth_chainId", nil)
	if err != nil {
		return nil, err
	}
	var id hexutil.Big
	if err := json.Unmarshal(result, &id); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chain id: %w", err)
	}
	return id.ToInt(), nil
}

// GetNonce fetches the nonce for an address at a block tag.
func (c *HTTPClient) GetNonce(ctx context.Context, address string, tag string) (uint64, error) {
	result, err := c.Call(ctx, "eth_getTransactionCount", []interface{}{address, tag})
	if err != nil {
		return 0, err
	}

	var nonce hexutil.Uint64
	if err := json.Unmarshal(result, &nonce); err != nil {
		return 0, fmt.Errorf("failed to unmarshal nonce: %w", err)
	}
	return uint64(nonce), nil
}

// GetBlockNumber returns the latest block number.
func (c *HTTPClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, err
	}

	var num hexutil.Uint64
	if err := json.Unmarshal(result, &num); err != nil {
		return 0, fmt.Errorf("failed to unmarshal block number: %w", err)
	}
	return uint64(num), nil
}

// ErrBlockNotFound is returned when the node answers null for a block query.
var ErrBlockNotFound = errors.New("block not found")

// GetHeaderByTag fetches the header of a tagged block.
func (c *HTTPClient) GetHeaderByTag(ctx context.Context, tag string) (*Header, error) {
	return c.getHeader(ctx, "eth_getBlockByNumber", tag)
}

// GetHeaderByNumber fetches a block header by number.
func (c *HTTPClient) GetHeaderByNumber(ctx context.Context, blockNum uint64) (*Header, error) {
	return c.getHeader(ctx, "eth_getBlockByNumber", hexutil.EncodeUint64(blockNum))
}

func (c *HTTPClient) getHeader(ctx context.Context, method string, id string) (*Header, error) {
	result, err := c.Call(ctx, method, []interface{}{id, false})
	if err != nil {
		return nil, err
	}
	if string(result) == "null" {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, id)
	}
	return parseHeader(result)
}

type rawHeader struct {
	Number     hexutil.Uint64 `json:"number"`
	Hash       common.Hash    `json:"hash"`
	ParentHash common.Hash    `json:"parentHash"`
	GasUsed    hexutil.Uint64 `json:"gasUsed"`
	GasLimit   hexutil.Uint64 `json:"gasLimit"`
	Timestamp  hexutil.Uint64 `json:"timestamp"`
}

func (h rawHeader) header() Header {
	return Header{
		Number:     uint64(h.Number),
		Hash:       h.Hash,
		ParentHash: h.ParentHash,
		GasUsed:    uint64(h.GasUsed),
		GasLimit:   uint64(h.GasLimit),
		Timestamp:  time.Unix(int64(h.Timestamp), 0),
	}
}

func parseHeader(data json.RawMessage) (*Header, error) {
	var raw rawHeader
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block: %w", err)
	}
	h := raw.header()
	return &h, nil
}

// GetBlockByHashFull fetches a block with full transaction data.
func (c *HTTPClient) GetBlockByHashFull(ctx context.Context, hash common.Hash) (*BlockFull, error) {
	result, err := c.Call(ctx, "eth_getBlockByHash", []interface{}{hash, true})
	if err != nil {
		return nil, err
	}
	if string(result) == "null" {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, hash.Hex())
	}
	return parseBlockFull(result)
}

// parseBlockFull parses a BlockFull from JSON.
func parseBlockFull(data json.RawMessage) (*BlockFull, error) {
	var rawBlock struct {
		rawHeader
		Transactions []struct {
			Hash  common.Hash     `json:"hash"`
			From  common.Address  `json:"from"`
			To    *common.Address `json:"to"`
			Type  hexutil.Uint64  `json:"type"`
			Nonce hexutil.Uint64  `json:"nonce"`
			Value *hexutil.Big    `json:"value"`
			Gas   hexutil.Uint64  `json:"gas"`
			Input hexutil.Bytes   `json:"input"`
		} `json:"transactions"`
	}
	if err := json.Unmarshal(data, &rawBlock); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block: %w", err)
	}

	txs := make([]Transaction, 0, len(rawBlock.Transactions))
	for _, rawTx := range rawBlock.Transactions {
		value := new(big.Int)
		if rawTx.Value != nil {
			value = rawTx.Value.ToInt()
		}
		txs = append(txs, Transaction{
			Hash:  rawTx.Hash,
			From:  rawTx.From,
			To:    rawTx.To,
			Type:  uint64(rawTx.Type),
			Nonce: uint64(rawTx.Nonce),
			Value: value,
			Gas:   uint64(rawTx.Gas),
			Input: rawTx.Input,
		})
	}

	return &BlockFull{
		Header:       rawBlock.header(),
		Transactions: txs,
	}, nil
}

// GetGasPrice returns the current gas price from the node.
func (c *HTTPClient) GetGasPrice(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "eth_gasPrice", nil)
	if err != nil {
		return 0, err
	}

	var gasPrice hexutil.Uint64
	if err := json.Unmarshal(result, &gasPrice); err != nil {
		return 0, fmt.Errorf("failed to unmarshal gas price: %w", err)
	}
	return uint64(gasPrice), nil
}

// GetTransactionReceipt returns the receipt for a transaction, or nil if not yet included.
func (c *HTTPClient) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*TransactionReceipt, error) {
	result, err := c.Call(ctx, "eth_getTransactionReceipt", []any{txHash})
	if err != nil {
		return nil, err
	}

	if string(result) == "null" {
		return nil, nil // Not found yet
	}
	return parseReceipt(result)
}

// GetBlockReceipts returns the receipts of a block using eth_getBlockReceipts.
// Nodes without that method are served by a batched per-transaction lookup.
func (c *HTTPClient) GetBlockReceipts(ctx context.Context, hash common.Hash) ([]*TransactionReceipt, error) {
	result, err := c.Call(ctx, "eth_getBlockReceipts", []any{hash})
	if err == nil {
		var raws []json.RawMessage
		if err := json.Unmarshal(result, &raws); err != nil {
			return nil, fmt.Errorf("failed to unmarshal block receipts: %w", err)
		}
		receipts := make([]*TransactionReceipt, 0, len(raws))
		for _, raw := range raws {
			r, err := parseReceipt(raw)
			if err != nil {
				return nil, err
			}
			receipts = append(receipts, r)
		}
		return receipts, nil
	}

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32601 {
		return nil, err
	}

	c.logger.Debug("eth_getBlockReceipts unsupported, falling back to per-transaction lookup")
	block, err := c.GetBlockByHashFull(ctx, hash)
	if err != nil {
		return nil, err
	}
	hashes := make([]common.Hash, len(block.Transactions))
	for i, tx := range block.Transactions {
		hashes[i] = tx.Hash
	}
	receipts, err := c.GetTransactionReceiptsBatch(ctx, hashes)
	if err != nil {
		return nil, err
	}
	for i, r := range receipts {
		if r == nil {
			return nil, fmt.Errorf("missing receipt for %s", hashes[i].Hex())
		}
	}
	return receipts, nil
}

// CallAt executes eth_call against the state of blockNum.
func (c *HTTPClient) CallAt(ctx context.Context, msg CallMsg, blockNum uint64) ([]byte, error) {
	result, err := c.Call(ctx, "eth_call", []interface{}{msg.toArg(), hexutil.EncodeUint64(blockNum)})
	if err != nil {
		return nil, err
	}
	var out hexutil.Bytes
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call result: %w", err)
	}
	return out, nil
}

// BatchCall makes multiple JSON-RPC calls in a single HTTP request.
// Results are returned in the same order as the input calls.
// Individual call errors are returned in BatchResponse.Error.
func (c *HTTPClient) BatchCall(ctx context.Context, calls []BatchRequest) ([]BatchResponse, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	reqs := make([]JSONRPCRequest, len(calls))
	for i, call := range calls {
		reqs[i] = JSONRPCRequest{
			JSONRPC: "2.0",
			Method:  call.Method,
			Params:  call.Params,
			ID:      i + 1, // 1-indexed IDs for easier debugging
		}
	}

	body, err := json.Marshal(reqs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch request: %w", err)
	}

	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
		}

		results, err := c.doBatchRequest(ctx, body, len(calls))
		if err == nil {
			return results, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if isRetryableHTTPError(err) {
			backoff = getRetryDelay(err, backoff)
			c.logger.Debug("batch RPC got retryable HTTP error, retrying",
				slog.Int("callCount", len(calls)),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)
			continue
		}

		if isRPCError(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("all batch retries failed: %w", lastErr)
}

func (c *HTTPClient) doBatchRequest(ctx context.Context, body []byte, expectedCount int) ([]BatchResponse, error) {
	respBody, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}

	var rpcResps []JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResps); err != nil {
		// A single error object means the node rejected the whole batch.
		var single JSONRPCResponse
		if json.Unmarshal(respBody, &single) == nil && single.Error != nil {
			return nil, single.Error.toRPCError()
		}
		return nil, fmt.Errorf("failed to unmarshal batch response: %w", err)
	}

	respMap := make(map[int]*JSONRPCResponse, len(rpcResps))
	for i := range rpcResps {
		respMap[rpcResps[i].ID] = &rpcResps[i]
	}

	results := make([]BatchResponse, expectedCount)
	for i := range expectedCount {
		rpcResp, ok := respMap[i+1]
		if !ok {
			results[i] = BatchResponse{Error: fmt.Errorf("missing response for request %d", i+1)}
			continue
		}
		if rpcResp.Error != nil {
			results[i] = BatchResponse{Error: rpcResp.Error.toRPCError()}
			continue
		}
		results[i] = BatchResponse{Result: rpcResp.Result}
	}

	return results, nil
}

// GetTransactionReceiptsBatch fetches multiple transaction receipts in a single request.
// Returns receipts in the same order as txHashes. nil entries indicate receipts not found or errors.
func (c *HTTPClient) GetTransactionReceiptsBatch(ctx context.Context, txHashes []common.Hash) ([]*TransactionReceipt, error) {
	if len(txHashes) == 0 {
		return nil, nil
	}

	calls := make([]BatchRequest, len(txHashes))
	for i, hash := range txHashes {
		calls[i] = BatchRequest{
			Method: "eth_getTransactionReceipt",
			Params: []interface{}{hash},
		}
	}

	responses, err := c.BatchCall(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("batch call failed: %w", err)
	}

	receipts := make([]*TransactionReceipt, len(txHashes))
	for i, resp := range responses {
		if resp.Error != nil {
			c.logger.Debug("batch receipt fetch error", "txHash", txHashes[i], "error", resp.Error)
			continue
		}

		if string(resp.Result) == "null" {
			continue
		}

		receipt, err := parseReceipt(resp.Result)
		if err != nil {
			c.logger.Debug("failed to parse receipt", "txHash", txHashes[i], "error", err)
			continue
		}
		receipts[i] = receipt
	}

	return receipts, nil
}

// parseReceipt parses a TransactionReceipt from JSON.
func parseReceipt(data json.RawMessage) (*TransactionReceipt, error) {
	var rawReceipt struct {
		TxHash           common.Hash    `json:"transactionHash"`
		TransactionIndex hexutil.Uint64 `json:"transactionIndex"`
		Status           hexutil.Uint64 `json:"status"`
		GasUsed          hexutil.Uint64 `json:"gasUsed"`
		BlockNumber      hexutil.Uint64 `json:"blockNumber"`
		BlockHash        common.Hash    `json:"blockHash"`
	}
	if err := json.Unmarshal(data, &rawReceipt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}

	return &TransactionReceipt{
		TxHash:           rawReceipt.TxHash,
		TransactionIndex: uint64(rawReceipt.TransactionIndex),
		Status:           uint64(rawReceipt.Status),
		GasUsed:          uint64(rawReceipt.GasUsed),
		BlockNumber:      uint64(rawReceipt.BlockNumber),
		BlockHash:        rawReceipt.BlockHash,
	}, nil
}
