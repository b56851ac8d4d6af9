// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/gateway-fm/stps/internal/account"
	"github.com/gateway-fm/stps/internal/chain"
	"github.com/gateway-fm/stps/internal/execnode"
)

// Config holds the benchmark driver configuration.
type Config struct {
	RPCURL         string
	WSURL          string // WebSocket URL for newHeads; empty derives it from RPCURL
	ChainID        int64  // 0 = accept the node's chain id
	ExecutionLayer string // Execution layer: "geth", "reth", "op-reth", "gravity-reth", "cdk-erigon", "anvil"
	GasTipCap      int64  // EIP-1559 priority fee (tip) in wei
	GasFeeCap      int64  // EIP-1559 max fee per gas in wei (0 = auto from chain)

	// ExistentialDeposit is the minimum balance in wei and the amount of every transfer.
	ExistentialDeposit *big.Int

	ChunkSize       int
	SampleInterval  time.Duration
	ScanConcurrency int
	SignWorkers     int     // 0 = GOMAXPROCS
	MaxRate         float64 // submissions per second, 0 = unlimited

	ConnectAttempts int
	ConnectDelay    time.Duration
	PollInterval    time.Duration
	FinalityDepth   uint64 // overrides the execution layer's depth when non-zero

	Derivation   string // seed prefix for derived sender keys
	SenderIndex  int
	TotalSenders int

	ListenAddr   string // empty disables the HTTP server
	DatabasePath string // empty disables the run archive

	// Capabilities holds the resolved execution layer capabilities.
	// This is populated by Validate based on ExecutionLayer.
	Capabilities *execnode.ExecutionLayerCapabilities
}

// Defaults
const (
	DefaultRPCURL          = "http://localhost:8545"
	DefaultExecutionLayer  = "geth"
	DefaultGasTipCap       = 1000000000 // 1 Gwei
	DefaultGasFeeCap       = 0          // 0 = auto-calculate from chain gas price
	DefaultChunkSize       = 512
	DefaultSampleInterval  = time.Second
	DefaultScanConcurrency = 16
	DefaultConnectAttempts = chain.DefaultConnectAttempts
	DefaultConnectDelay    = chain.DefaultConnectDelay
	DefaultPollInterval    = chain.DefaultPollInterval
	DefaultTotalSenders    = 1
	DefaultDatabasePath    = "./data/stps.db"
	MaxChunkSize           = 65536
)

// Default returns a configuration with every field at its default.
func Default() *Config {
	return &Config{
		RPCURL:             DefaultRPCURL,
		ExecutionLayer:     DefaultExecutionLayer,
		GasTipCap:          DefaultGasTipCap,
		GasFeeCap:          DefaultGasFeeCap,
		ExistentialDeposit: new(big.Int).Set(chain.DefaultExistentialDeposit),
		ChunkSize:          DefaultChunkSize,
		SampleInterval:     DefaultSampleInterval,
		ScanConcurrency:    DefaultScanConcurrency,
		ConnectAttempts:    DefaultConnectAttempts,
		ConnectDelay:       DefaultConnectDelay,
		PollInterval:       DefaultPollInterval,
		Derivation:         account.DefaultSenderDerivation,
		TotalSenders:       DefaultTotalSenders,
	}
}

// LoadEnv applies STPS_* environment variables on top of c.
func (c *Config) LoadEnv() error {
	if v := os.Getenv("STPS_RPC_URL"); v != "" {
		c.RPCURL = v
	}
	if v := os.Getenv("STPS_WS_URL"); v != "" {
		c.WSURL = v
	}
	if v := os.Getenv("STPS_EXECUTION_LAYER"); v != "" {
		c.ExecutionLayer = v
	}
	if v := os.Getenv("STPS_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("STPS_DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("STPS_DERIVATION"); v != "" {
		c.Derivation = v
	}
	if v := os.Getenv("STPS_CHAIN_ID"); v != "" {
		id, err := parseInt64Env(v)
		if err != nil {
			return fmt.Errorf("STPS_CHAIN_ID: %w", err)
		}
		c.ChainID = id
	}
	if v := os.Getenv("STPS_GAS_TIP_CAP"); v != "" {
		tip, err := parseInt64Env(v)
		if err != nil {
			return fmt.Errorf("STPS_GAS_TIP_CAP: %w", err)
		}
		c.GasTipCap = tip
	}
	if v := os.Getenv("STPS_GAS_FEE_CAP"); v != "" {
		fee, err := parseInt64Env(v)
		if err != nil {
			return fmt.Errorf("STPS_GAS_FEE_CAP: %w", err)
		}
		c.GasFeeCap = fee
	}
	if v := os.Getenv("STPS_EXISTENTIAL_DEPOSIT"); v != "" {
		ed, err := ParseWei(v)
		if err != nil {
			return fmt.Errorf("STPS_EXISTENTIAL_DEPOSIT: %w", err)
		}
		c.ExistentialDeposit = ed
	}
	if v := os.Getenv("STPS_CHUNK_SIZE"); v != "" {
		n, err := parseIntEnv(v)
		if err != nil {
			return fmt.Errorf("STPS_CHUNK_SIZE: %w", err)
		}
		c.ChunkSize = n
	}
	if v := os.Getenv("STPS_MAX_RATE"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("STPS_MAX_RATE: %w", err)
		}
		c.MaxRate = r
	}
	return nil
}

// Validate validates the configuration and resolves the execution layer.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC URL is required")
	}
	if c.ChainID < 0 {
		return fmt.Errorf("chain ID cannot be negative")
	}
	if c.GasTipCap <= 0 {
		return fmt.Errorf("gas tip cap must be positive")
	}
	// GasFeeCap can be 0 (auto-calculate from chain) or positive
	if c.GasFeeCap < 0 {
		return fmt.Errorf("gas fee cap cannot be negative")
	}
	if c.ExistentialDeposit == nil || c.ExistentialDeposit.Sign() <= 0 {
		return fmt.Errorf("existential deposit must be positive")
	}
	if c.ChunkSize <= 0 || c.ChunkSize > MaxChunkSize {
		return fmt.Errorf("chunk size must be between 1 and %d", MaxChunkSize)
	}
	if c.MaxRate < 0 {
		return fmt.Errorf("max rate cannot be negative")
	}
	if c.SampleInterval <= 0 {
		return fmt.Errorf("sample interval must be positive")
	}
	if c.ConnectAttempts <= 0 {
		return fmt.Errorf("connect attempts must be positive")
	}
	if c.TotalSenders <= 0 {
		return fmt.Errorf("total senders must be positive")
	}
	if c.SenderIndex < 0 || c.SenderIndex >= c.TotalSenders {
		return fmt.Errorf("sender index %d out of range [0, %d)", c.SenderIndex, c.TotalSenders)
	}

	caps := execnode.DefaultRegistry().Get(c.ExecutionLayer)
	if caps == nil {
		return fmt.Errorf("unknown execution layer: %s (supported: %v)", c.ExecutionLayer, execnode.DefaultRegistry().Names())
	}
	if c.FinalityDepth > 0 {
		adjusted := *caps
		adjusted.FinalityDepth = c.FinalityDepth
		caps = &adjusted
	}
	c.Capabilities = caps
	return nil
}

// ChainConfig returns the chain client configuration. Validate must have been called.
func (c *Config) ChainConfig(logger *slog.Logger) chain.Config {
	cfg := chain.Config{
		RPCURL:             c.RPCURL,
		WSURL:              c.WSURL,
		ChainID:            c.ChainID,
		Capabilities:       c.Capabilities,
		GasTipCap:          big.NewInt(c.GasTipCap),
		ExistentialDeposit: c.ExistentialDeposit,
		ConnectAttempts:    c.ConnectAttempts,
		ConnectDelay:       c.ConnectDelay,
		PollInterval:       c.PollInterval,
		Logger:             logger,
	}
	if c.GasFeeCap > 0 {
		cfg.GasFeeCap = big.NewInt(c.GasFeeCap)
	}
	return cfg
}

// ShardTarget truncates num to a multiple of totalSenders so every sender
// sends the same number of transfers.
func ShardTarget(num uint64, totalSenders int) uint64 {
	if totalSenders <= 1 {
		return num
	}
	return (num / uint64(totalSenders)) * uint64(totalSenders)
}

// PerSender returns the number of transfers each of totalSenders sends.
func PerSender(num uint64, totalSenders int) uint64 {
	if totalSenders <= 1 {
		return num
	}
	return num / uint64(totalSenders)
}

// ParseWei parses a decimal or 0x-prefixed hex amount.
func ParseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 0)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// parseIntEnv parses a string environment variable as an integer.
func parseIntEnv(s string) (int, error) {
	return strconv.Atoi(s)
}

// parseInt64Env parses a string environment variable as an int64.
func parseInt64Env(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
