package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/gateway-fm/stps/internal/config"
)

var (
	NodeFlag = &cli.StringFlag{
		Name:    "node",
		Usage:   "JSON-RPC HTTP endpoint of the node under test",
		Value:   config.DefaultRPCURL,
		EnvVars: []string{"STPS_RPC_URL"},
	}
	WSFlag = &cli.StringFlag{
		Name:    "ws",
		Usage:   "WebSocket endpoint for head subscriptions (default: derived from --node)",
		EnvVars: []string{"STPS_WS_URL"},
	}
	TopologyFlag = &cli.StringFlag{
		Name:    "topology",
		Usage:   "YAML network topology; overrides --node with the endpoint of --node-name",
		EnvVars: []string{"STPS_TOPOLOGY"},
	}
	NodeNameFlag = &cli.StringFlag{
		Name:    "node-name",
		Usage:   "Node of --topology to drive (default: the topology's default node)",
		EnvVars: []string{"STPS_NODE_NAME"},
	}
	ExecutionLayerFlag = &cli.StringFlag{
		Name:    "execution-layer",
		Usage:   "Execution layer (geth, reth, op-reth, gravity-reth, cdk-erigon, anvil)",
		Value:   config.DefaultExecutionLayer,
		EnvVars: []string{"STPS_EXECUTION_LAYER"},
	}
	ChainIDFlag = &cli.Int64Flag{
		Name:    "chain-id",
		Usage:   "Expected chain id (0 = accept the node's)",
		EnvVars: []string{"STPS_CHAIN_ID"},
	}
	GasTipCapFlag = &cli.Int64Flag{
		Name:    "gas-tip-cap",
		Usage:   "EIP-1559 priority fee in wei",
		Value:   config.DefaultGasTipCap,
		EnvVars: []string{"STPS_GAS_TIP_CAP"},
	}
	GasFeeCapFlag = &cli.Int64Flag{
		Name:    "gas-fee-cap",
		Usage:   "EIP-1559 max fee per gas in wei (0 = twice the node's gas price)",
		Value:   config.DefaultGasFeeCap,
		EnvVars: []string{"STPS_GAS_FEE_CAP"},
	}
	ExistentialDepositFlag = &cli.StringFlag{
		Name:    "existential-deposit",
		Usage:   "Minimum account balance in wei, also the amount of every transfer",
		Value:   config.Default().ExistentialDeposit.String(),
		EnvVars: []string{"STPS_EXISTENTIAL_DEPOSIT"},
	}
	FinalityDepthFlag = &cli.Uint64Flag{
		Name:    "finality-depth",
		Usage:   "Blocks behind latest treated as final on nodes without a finalized tag (0 = execution layer default)",
		EnvVars: []string{"STPS_FINALITY_DEPTH"},
	}
	ConnectAttemptsFlag = &cli.IntFlag{
		Name:    "connect-attempts",
		Usage:   "Connection attempts before giving up",
		Value:   config.DefaultConnectAttempts,
		EnvVars: []string{"STPS_CONNECT_ATTEMPTS"},
	}
	ConnectDelayFlag = &cli.DurationFlag{
		Name:    "connect-delay",
		Usage:   "Delay between connection attempts",
		Value:   config.DefaultConnectDelay,
		EnvVars: []string{"STPS_CONNECT_DELAY"},
	}
	PollIntervalFlag = &cli.DurationFlag{
		Name:    "poll-interval",
		Usage:   "Head polling interval when no WebSocket endpoint is available",
		Value:   config.DefaultPollInterval,
		EnvVars: []string{"STPS_POLL_INTERVAL"},
	}
	ScanConcurrencyFlag = &cli.IntFlag{
		Name:    "scan-concurrency",
		Usage:   "Parallel block fetches while scanning history",
		Value:   config.DefaultScanConcurrency,
		EnvVars: []string{"STPS_SCAN_CONCURRENCY"},
	}
	DerivationFlag = &cli.StringFlag{
		Name:    "derivation",
		Usage:   "Blueprint of derived sender keys; the account index is appended",
		Value:   config.Default().Derivation,
		EnvVars: []string{"STPS_DERIVATION"},
	}
	SenderIndexFlag = &cli.IntFlag{
		Name:    "sender-index",
		Usage:   "Index of this sender in a sharded run",
		EnvVars: []string{"STPS_SENDER_INDEX"},
	}
	TotalSendersFlag = &cli.IntFlag{
		Name:    "total-senders",
		Usage:   "Number of senders sharing the run",
		Value:   config.DefaultTotalSenders,
		EnvVars: []string{"STPS_TOTAL_SENDERS"},
	}
	ListenFlag = &cli.StringFlag{
		Name:    "listen",
		Usage:   "Serve the status API and Prometheus metrics on this address (e.g. :13001); empty disables",
		EnvVars: []string{"STPS_LISTEN_ADDR"},
	}
	CORSFlag = &cli.StringFlag{
		Name:    "cors-allowed-origins",
		Usage:   "Comma-separated origins allowed by the status API (empty = all)",
		EnvVars: []string{"STPS_CORS_ALLOWED_ORIGINS"},
	}
	DatabaseFlag = &cli.StringFlag{
		Name:    "db",
		Usage:   "Archive runs to this SQLite file (e.g. " + config.DefaultDatabasePath + "); empty disables",
		EnvVars: []string{"STPS_DATABASE_PATH"},
	}
	LogLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level (debug, info, warn, error)",
		Value:   "info",
		EnvVars: []string{"LOG_LEVEL"},
	}
)

// Submission flags shared by send-balance-transfers and run.
var (
	ChunkSizeFlag = &cli.IntFlag{
		Name:    "chunk-size",
		Usage:   "Transactions in flight together; the next chunk waits for all acknowledgements",
		Value:   config.DefaultChunkSize,
		EnvVars: []string{"STPS_CHUNK_SIZE"},
	}
	SampleIntervalFlag = &cli.DurationFlag{
		Name:    "sample-interval",
		Usage:   "Progress sampling interval",
		Value:   config.DefaultSampleInterval,
		EnvVars: []string{"STPS_SAMPLE_INTERVAL"},
	}
	SignWorkersFlag = &cli.IntFlag{
		Name:    "sign-workers",
		Usage:   "Parallel signing workers (0 = GOMAXPROCS)",
		EnvVars: []string{"STPS_SIGN_WORKERS"},
	}
	MaxRateFlag = &cli.Float64Flag{
		Name:    "max-rate",
		Usage:   "Cap submissions per second (0 = as fast as the node acknowledges)",
		EnvVars: []string{"STPS_MAX_RATE"},
	}
	PrivateKeyFlag = &cli.StringFlag{
		Name:    "private-key",
		Usage:   "Hex private key of the sender (default: derived account --sender-index)",
		EnvVars: []string{"STPS_PRIVATE_KEY"},
	}
	DerivedSendersFlag = &cli.BoolFlag{
		Name:  "derived-senders",
		Usage: "Send every transfer from its own derived account instead of a single sender",
	}
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		NodeFlag, WSFlag, TopologyFlag, NodeNameFlag, ExecutionLayerFlag, ChainIDFlag,
		GasTipCapFlag, GasFeeCapFlag, ExistentialDepositFlag, FinalityDepthFlag,
		ConnectAttemptsFlag, ConnectDelayFlag, PollIntervalFlag, ScanConcurrencyFlag,
		DerivationFlag, SenderIndexFlag, TotalSendersFlag,
		ListenFlag, CORSFlag, DatabaseFlag, LogLevelFlag,
	}
}

func submitFlags() []cli.Flag {
	return []cli.Flag{ChunkSizeFlag, SampleIntervalFlag, SignWorkersFlag, MaxRateFlag, PrivateKeyFlag, DerivedSendersFlag}
}

// newLogger builds the JSON logger for --log-level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

// loadConfig builds and validates the configuration from flags. A topology
// file, when given, supplies the endpoint.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	cfg.RPCURL = c.String(NodeFlag.Name)
	cfg.WSURL = c.String(WSFlag.Name)
	cfg.ExecutionLayer = c.String(ExecutionLayerFlag.Name)
	cfg.ChainID = c.Int64(ChainIDFlag.Name)
	cfg.GasTipCap = c.Int64(GasTipCapFlag.Name)
	cfg.GasFeeCap = c.Int64(GasFeeCapFlag.Name)
	cfg.FinalityDepth = c.Uint64(FinalityDepthFlag.Name)
	cfg.ConnectAttempts = c.Int(ConnectAttemptsFlag.Name)
	cfg.ConnectDelay = c.Duration(ConnectDelayFlag.Name)
	cfg.PollInterval = c.Duration(PollIntervalFlag.Name)
	cfg.ScanConcurrency = c.Int(ScanConcurrencyFlag.Name)
	cfg.Derivation = c.String(DerivationFlag.Name)
	cfg.SenderIndex = c.Int(SenderIndexFlag.Name)
	cfg.TotalSenders = c.Int(TotalSendersFlag.Name)
	cfg.ListenAddr = c.String(ListenFlag.Name)
	cfg.DatabasePath = c.String(DatabaseFlag.Name)

	ed, err := config.ParseWei(c.String(ExistentialDepositFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", ExistentialDepositFlag.Name, err)
	}
	cfg.ExistentialDeposit = ed

	// Submission flags are only defined on the commands that submit.
	if hasFlag(c, ChunkSizeFlag.Name) {
		cfg.ChunkSize = c.Int(ChunkSizeFlag.Name)
		cfg.SampleInterval = c.Duration(SampleIntervalFlag.Name)
		cfg.SignWorkers = c.Int(SignWorkersFlag.Name)
		cfg.MaxRate = c.Float64(MaxRateFlag.Name)
	}

	if path := c.String(TopologyFlag.Name); path != "" {
		topo, err := config.LoadTopology(path)
		if err != nil {
			return nil, err
		}
		node, err := topo.Resolve(c.String(NodeNameFlag.Name))
		if err != nil {
			return nil, err
		}
		cfg.ApplyNode(node)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// hasFlag reports whether the running command defines the named flag.
func hasFlag(c *cli.Context, name string) bool {
	for _, f := range c.Command.Flags {
		for _, n := range f.Names() {
			if n == name {
				return true
			}
		}
	}
	return false
}

// targetArg parses the run-specific count passed as the first argument.
func targetArg(c *cli.Context) (uint64, error) {
	if c.NArg() != 1 {
		return 0, fmt.Errorf("%s expects exactly one argument <n>, got %d", c.Command.Name, c.NArg())
	}
	n, err := strconv.ParseUint(c.Args().First(), 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid count %q: must be a positive integer", c.Args().First())
	}
	return n, nil
}
