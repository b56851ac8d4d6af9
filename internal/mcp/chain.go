package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gateway-fm/stps/internal/scanner"
	"github.com/gateway-fm/stps/internal/verification"
	"github.com/gateway-fm/stps/pkg/types"
)

// maxToolRange bounds the block range a single chain tool call may scan.
const maxToolRange = 10_000

// RangeScanner counts transfers over a block range.
type RangeScanner interface {
	ScanRange(ctx context.Context, start, end uint64) (*scanner.Result, error)
}

// ThroughputMeter measures per-block TPS over a block range.
type ThroughputMeter interface {
	Compute(ctx context.Context, start, end uint64) ([]types.TPSSample, types.TPSSummary, error)
}

// AccountChecker asserts an account is ready to send.
type AccountChecker interface {
	CheckAccount(ctx context.Context, addr common.Address, multiple uint64) error
}

// ChainTools are the tools that read the chain directly.
type ChainTools struct {
	Scanner      RangeScanner
	Meter        ThroughputMeter
	Precondition AccountChecker
}

// RegisterChainTools registers the chain tools on the MCP server.
func RegisterChainTools(s *server.MCPServer, tools ChainTools) {
	s.AddTool(gomcp.NewTool("stps_transfer_count",
		gomcp.WithDescription("Count successful Transfer events in blocks start..end (inclusive) and list failed transactions."),
		gomcp.WithNumber("start", gomcp.Required(), gomcp.Description("First block")),
		gomcp.WithNumber("end", gomcp.Required(), gomcp.Description("Last block")),
	), transferCountHandler(tools.Scanner))

	s.AddTool(gomcp.NewTool("stps_tps",
		gomcp.WithDescription("Compute per-block transfers per second for blocks start+1..end from block timestamps."),
		gomcp.WithNumber("start", gomcp.Required(), gomcp.Description("Reference block, not measured itself")),
		gomcp.WithNumber("end", gomcp.Required(), gomcp.Description("Last measured block")),
	), tpsHandler(tools.Meter))

	s.AddTool(gomcp.NewTool("stps_check_account",
		gomcp.WithDescription("Check that an account has nonce 0 and at least 1.1 x existential deposit x multiple balance."),
		gomcp.WithString("address", gomcp.Required(), gomcp.Description("Account address (0x...)")),
		gomcp.WithNumber("multiple", gomcp.Description("Transfers the account must fund (default: 1)")),
	), checkAccountHandler(tools.Precondition))
}

// blockRange reads and validates the start and end arguments.
func blockRange(req gomcp.CallToolRequest) (start, end uint64, err error) {
	s := req.GetInt("start", -1)
	e := req.GetInt("end", -1)
	switch {
	case s < 0 || e < 0:
		return 0, 0, errors.New("start and end must be non-negative block numbers")
	case e < s:
		return 0, 0, fmt.Errorf("end %d is before start %d", e, s)
	case e-s > maxToolRange:
		return 0, 0, fmt.Errorf("range of %d blocks exceeds maximum %d", e-s, maxToolRange)
	}
	return uint64(s), uint64(e), nil
}

func transferCountHandler(sc RangeScanner) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		start, end, err := blockRange(req)
		if err != nil {
			return gomcp.NewToolResultError(err.Error()), nil
		}
		res, err := sc.ScanRange(ctx, start, end)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Scan failed: %v", err)), nil
		}

		lines := joinLines(
			section(fmt.Sprintf("Transfers in blocks %d..%d", res.Start, res.End)),
			kv("Blocks", formatNumber(res.Blocks)),
			kv("Transfers", formatNumber(res.Transfers)),
			kv("Failed", formatNumber(len(res.Failures))),
		)
		for i, f := range res.Failures {
			if i >= maxSeriesRows {
				lines += fmt.Sprintf("\n... and %d more", len(res.Failures)-maxSeriesRows)
				break
			}
			lines += fmt.Sprintf("\n  #%d %s %s", f.Block, f.Extrinsic, f.Failure.TxHash.Hex())
		}
		return gomcp.NewToolResultText(lines), nil
	}
}

func tpsHandler(m ThroughputMeter) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		start, end, err := blockRange(req)
		if err != nil {
			return gomcp.NewToolResultError(err.Error()), nil
		}
		samples, sum, err := m.Compute(ctx, start, end)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("TPS computation failed: %v", err)), nil
		}

		lines := joinLines(
			section("Throughput"),
			kv("Blocks", formatNumber(sum.Blocks)),
			kv("Transfers", formatNumber(sum.Transfers)),
			kv("Empty Blocks", formatNumber(sum.EmptyBlocks)),
			kv("Average TPS", formatTPS(sum.AverageTPS)),
			kv("Peak TPS", formatTPS(sum.PeakTPS)),
		)
		for i, s := range samples {
			if i >= maxSeriesRows {
				lines += fmt.Sprintf("\n... and %d more", len(samples)-maxSeriesRows)
				break
			}
			switch {
			case s.Empty:
				lines += fmt.Sprintf("\n  #%-10d empty", s.Block)
			case s.ZeroDuration:
				lines += fmt.Sprintf("\n  #%-10d %6d transfers  zero duration", s.Block, s.Transfers)
			default:
				lines += fmt.Sprintf("\n  #%-10d %6d transfers  %6dms  %s tps", s.Block, s.Transfers, s.DurationMs, formatTPS(s.TPS))
			}
		}
		return gomcp.NewToolResultText(lines), nil
	}
}

func checkAccountHandler(p AccountChecker) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		addr, err := req.RequireString("address")
		if err != nil || !common.IsHexAddress(addr) {
			return gomcp.NewToolResultError("address must be a 0x-prefixed hex address"), nil
		}
		multiple := req.GetInt("multiple", 1)
		if multiple <= 0 {
			return gomcp.NewToolResultError("multiple must be positive"), nil
		}

		err = p.CheckAccount(ctx, common.HexToAddress(addr), uint64(multiple))
		var violation *verification.PreconditionViolation
		switch {
		case errors.As(err, &violation):
			return gomcp.NewToolResultText(joinLines(
				section("Account NOT READY"),
				kv("Address", violation.Address.Hex()),
				kv("Reason", violation.Reason),
				kv("Observed", violation.Observed),
				kv("Required", violation.Required),
			)), nil
		case err != nil:
			return gomcp.NewToolResultError(fmt.Sprintf("Account check failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Account READY"),
			kv("Address", common.HexToAddress(addr).Hex()),
			kv("Multiple", formatNumber(multiple)),
		)), nil
	}
}
