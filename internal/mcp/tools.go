package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterTools registers the driver API tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	s.AddTool(gomcp.NewTool("stps_status",
		gomcp.WithDescription("Get the current benchmark run: phase, submission progress, submit metrics and TPS summary."),
	), statusHandler(client))

	s.AddTool(gomcp.NewTool("stps_health",
		gomcp.WithDescription("Quick health check for the driver. Checks chain RPC connectivity."),
	), healthHandler(client))

	s.AddTool(gomcp.NewTool("stps_runs",
		gomcp.WithDescription("List archived benchmark runs, newest first (paginated)."),
		gomcp.WithNumber("limit",
			gomcp.Description("Max results to return (default: 10, max: 100)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Results offset for pagination (default: 0)"),
		),
	), runsHandler(client))

	s.AddTool(gomcp.NewTool("stps_run_detail",
		gomcp.WithDescription("Get the archived result of a benchmark run by ID."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID"),
		),
	), runDetailHandler(client))

	s.AddTool(gomcp.NewTool("stps_run_tps",
		gomcp.WithDescription("Get the archived per-block TPS series of a benchmark run."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID"),
		),
	), runTPSHandler(client))
}

func statusHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/v1/status")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Driver unreachable: %v\n\nIs a run with --listen active?", err)), nil
		}
		return gomcp.NewToolResultText(formatStatus(raw)), nil
	}
}

func healthHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/ready")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Driver unhealthy: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(raw)), nil
	}
}

func runsHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		offset := req.GetInt("offset", 0)
		path := fmt.Sprintf("/v1/runs?limit=%d&offset=%d", limit, offset)

		raw, err := client.Get(ctx, path)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Run history failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRuns(raw)), nil
	}
}

func runDetailHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		raw, err := client.Get(ctx, "/v1/runs/"+url.PathEscape(id))
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Run detail failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRunDetail(raw)), nil
	}
}

func runTPSHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		raw, err := client.Get(ctx, "/v1/runs/"+url.PathEscape(id)+"/tps")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Run TPS series failed: %v", err)), nil
		}
		var series []map[string]any
		if err := json.Unmarshal(raw, &series); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Error parsing TPS series: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatSeries(series)), nil
	}
}

// Response formatting functions

func formatStatus(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing status: %v", err)
	}

	lines := joinLines(
		section("sTPS Run Status"),
		kv("Run", getStr(m, "runId")),
		kv("Status", getStr(m, "status")),
		kv("Target", formatNumber(getNum(m, "target"))),
	)
	if msg := getStr(m, "error"); msg != "" {
		lines += "\n" + kv("Error", msg)
	}

	if p, ok := m["progress"].(map[string]any); ok {
		lines += "\n\n" + joinLines(
			section("Submission Progress"),
			kv("Sent", fmt.Sprintf("%s / %s", formatNumber(getNum(p, "sent")), formatNumber(getNum(p, "total")))),
			kv("Progress", formatPct(getNum(p, "percent"))),
			kv("Submit TPS", formatTPS(getNum(p, "tps"))),
		)
	}

	if rm, ok := m["metrics"].(map[string]any); ok {
		lines += "\n\n" + formatRunMetrics(rm)
	}
	if sum, ok := m["summary"].(map[string]any); ok {
		lines += "\n\n" + formatSummary(sum)
	}

	return lines
}

func formatRunMetrics(m map[string]any) string {
	lines := joinLines(
		section("Submission"),
		kv("Submitted", formatNumber(getNum(m, "totalSubmitted"))),
		kv("Confirmed Events", formatNumber(getNum(m, "totalConfirmedEvents"))),
		kv("Chunks", formatNumber(getNum(m, "chunks"))),
		kv("Elapsed", fmt.Sprintf("%.1fs", getNum(m, "elapsedMs")/1000)),
		kv("Cumulative TPS", formatTPS(getNum(m, "cumulativeTps"))),
	)
	if lat, ok := m["ackLatency"].(map[string]any); ok {
		lines += "\n\n" + joinLines(
			section("Chunk Ack Latency"),
			kv("Min", formatMs(getNum(lat, "min"))),
			kv("P50", formatMs(getNum(lat, "p50"))),
			kv("P95", formatMs(getNum(lat, "p95"))),
			kv("P99", formatMs(getNum(lat, "p99"))),
			kv("Max", formatMs(getNum(lat, "max"))),
		)
	}
	return lines
}

func formatSummary(m map[string]any) string {
	return joinLines(
		section("Throughput"),
		kv("Blocks", fmt.Sprintf("%s..%s", formatNumber(getNum(m, "firstBlock")), formatNumber(getNum(m, "lastBlock")))),
		kv("Transfers", formatNumber(getNum(m, "transfers"))),
		kv("Empty Blocks", formatNumber(getNum(m, "emptyBlocks"))),
		kv("Average TPS", formatTPS(getNum(m, "averageTps"))),
		kv("Peak TPS", formatTPS(getNum(m, "peakTps"))),
	)
}

func formatHealth(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing health: %v", err)
	}

	state := "READY"
	if !getBool(m, "ready") {
		state = "NOT READY"
	}

	lines := section("Driver Health: " + state)

	if checks, ok := m["checks"].([]any); ok {
		for _, c := range checks {
			check, ok := c.(map[string]any)
			if !ok {
				continue
			}
			line := fmt.Sprintf("  %-15s %s (%dms)", getStr(check, "name"), getStr(check, "status"), int64(getNum(check, "latency_ms")))
			if errMsg := getStr(check, "error"); errMsg != "" {
				line += " - " + errMsg
			}
			lines += "\n" + line
		}
	}

	return lines
}

func formatRuns(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing run history: %v", err)
	}

	lines := joinLines(
		section("Run History"),
		kv("Total Runs", formatNumber(getNum(m, "total"))),
		"",
	)

	runs, ok := m["runs"].([]any)
	if !ok || len(runs) == 0 {
		lines += "\nNo runs found."
		return lines
	}

	for _, r := range runs {
		run, ok := r.(map[string]any)
		if !ok {
			continue
		}
		lines += "\n\n" + fmt.Sprintf("### %s\n", getStr(run, "id")) + joinLines(
			kv("Command", getStr(run, "command")),
			kv("Status", getStr(run, "status")),
			kv("Target", formatNumber(getNum(run, "target"))),
			kv("Verified", getBool(run, "verified")),
			kv("Started", formatTime(getStr(run, "startedAt"))),
		)
	}

	return lines
}

func formatRunDetail(raw json.RawMessage) string {
	var run map[string]any
	if err := json.Unmarshal(raw, &run); err != nil {
		return fmt.Sprintf("Error parsing run: %v", err)
	}

	lines := joinLines(
		section("Run: "+getStr(run, "id")),
		kv("Command", getStr(run, "command")),
		kv("Node", getStr(run, "node")),
		kv("Execution Layer", getStr(run, "executionLayer")),
		kv("Status", getStr(run, "status")),
		kv("Target", formatNumber(getNum(run, "target"))),
		kv("Chunk Size", formatNumber(getNum(run, "chunkSize"))),
		kv("Sender", fmt.Sprintf("%d of %d", int64(getNum(run, "senderIndex")), int64(getNum(run, "totalSenders")))),
		kv("Verified", getBool(run, "verified")),
		kv("Started", formatTime(getStr(run, "startedAt"))),
	)
	if msg := getStr(run, "errorMessage"); msg != "" {
		lines += "\n" + kv("Error", msg)
	}
	if rm, ok := run["metrics"].(map[string]any); ok {
		lines += "\n\n" + formatRunMetrics(rm)
	}
	if sum, ok := run["tps"].(map[string]any); ok {
		lines += "\n\n" + formatSummary(sum)
	}
	return lines
}

// maxSeriesRows caps the rows printed for a TPS series.
const maxSeriesRows = 50

func formatSeries(series []map[string]any) string {
	lines := joinLines(
		section("TPS Series"),
		kv("Blocks", formatNumber(len(series))),
	)
	if len(series) == 0 {
		return lines + "\nNo blocks recorded."
	}
	for i, s := range series {
		if i >= maxSeriesRows {
			lines += fmt.Sprintf("\n... and %d more", len(series)-maxSeriesRows)
			break
		}
		block := formatNumber(getNum(s, "block"))
		switch {
		case getBool(s, "empty"):
			lines += fmt.Sprintf("\n  #%-10s empty", block)
		case getBool(s, "zeroDuration"):
			lines += fmt.Sprintf("\n  #%-10s %6d transfers  zero duration", block, int64(getNum(s, "transfers")))
		default:
			lines += fmt.Sprintf("\n  #%-10s %6d transfers  %6dms  %s tps",
				block, int64(getNum(s, "transfers")), int64(getNum(s, "durationMs")), formatTPS(getNum(s, "tps")))
		}
	}
	return lines
}

func formatTime(s string) string {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return s
	}
	return t.Format("2006-01-02 15:04:05")
}
