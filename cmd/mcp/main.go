// sTPS MCP server.
// Exposes the driver API and read-only chain tools over MCP stdio transport.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/gateway-fm/stps/internal/chain"
	"github.com/gateway-fm/stps/internal/config"
	mcptools "github.com/gateway-fm/stps/internal/mcp"
	"github.com/gateway-fm/stps/internal/metrics"
	"github.com/gateway-fm/stps/internal/scanner"
	"github.com/gateway-fm/stps/internal/verification"
)

func main() {
	apiURL := os.Getenv("STPS_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:13001"
	}

	// stdout carries the MCP protocol
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	s := server.NewMCPServer(
		"stps",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	mcptools.RegisterTools(s, mcptools.NewClient(apiURL))

	if os.Getenv("STPS_RPC_URL") != "" {
		tools, err := chainTools(logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "chain tools disabled: %v\n", err)
		} else {
			mcptools.RegisterChainTools(s, tools)
		}
	}

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

// chainTools connects to the node named by the STPS_* environment.
func chainTools(logger *slog.Logger) (mcptools.ChainTools, error) {
	cfg := config.Default()
	if err := cfg.LoadEnv(); err != nil {
		return mcptools.ChainTools{}, err
	}
	if err := cfg.Validate(); err != nil {
		return mcptools.ChainTools{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, err := chain.Connect(ctx, cfg.ChainConfig(logger))
	if err != nil {
		return mcptools.ChainTools{}, err
	}

	sc := scanner.New(scanner.Config{Chain: client, Concurrency: cfg.ScanConcurrency, Logger: logger})
	return mcptools.ChainTools{
		Scanner:      sc,
		Meter:        metrics.NewMeter(metrics.MeterConfig{Blocks: sc, Logger: logger}),
		Precondition: verification.NewPrecondition(client, logger),
	}, nil
}
