package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/gateway-fm/stps/internal/chain"
	"github.com/gateway-fm/stps/internal/config"
	"github.com/gateway-fm/stps/internal/metrics"
	"github.com/gateway-fm/stps/internal/scanner"
	"github.com/gateway-fm/stps/internal/storage"
	"github.com/gateway-fm/stps/internal/transport"
	"github.com/gateway-fm/stps/pkg/types"
)

// runtime is everything a chain-facing command works with.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	client  *chain.Client
	scanner *scanner.Scanner
	meter   *metrics.Meter
	prom    *metrics.PrometheusMetrics
	state   *metrics.RunState
	// store is nil when the archive is disabled.
	store storage.Storage

	stopServer func()
}

// setup loads the configuration, connects to the node and starts the optional
// status server and run archive. Callers must Close the runtime.
func setup(c *cli.Context) (*runtime, error) {
	logger := newLogger(c.String(LogLevelFlag.Name))
	slog.SetDefault(logger)

	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	prom := metrics.NewPrometheusMetrics(reg)
	rt := &runtime{
		cfg:        cfg,
		logger:     logger,
		prom:       prom,
		state:      metrics.NewRunState(prom),
		stopServer: func() {},
	}

	if cfg.DatabasePath != "" {
		store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		rt.store = store
		logger.Info("initialized storage", "path", cfg.DatabasePath)
	}

	logger.Info("resolved execution layer capabilities",
		"layer", cfg.Capabilities.Name,
		"supportsFinalizedTag", cfg.Capabilities.SupportsFinalizedTag,
		"finalityDepth", cfg.Capabilities.FinalityDepth,
		"requiresLegacyTx", cfg.Capabilities.RequiresLegacyTx)

	client, err := chain.Connect(c.Context, cfg.ChainConfig(logger))
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.client = client
	rt.scanner = scanner.New(scanner.Config{Chain: client, Concurrency: cfg.ScanConcurrency, Logger: logger})
	rt.meter = metrics.NewMeter(metrics.MeterConfig{Blocks: rt.scanner, Prometheus: prom, Logger: logger})

	if cfg.ListenAddr != "" {
		rt.serve(c.Context, reg, c.String(CORSFlag.Name))
	}
	return rt, nil
}

// serve runs the status API until the runtime is closed.
func (rt *runtime) serve(ctx context.Context, reg *prometheus.Registry, corsOrigins string) {
	srv := transport.NewServer(transport.Config{
		Status:             rt.state,
		Runs:               rt.store,
		Health:             rpcHealth{rt.client},
		Gatherer:           reg,
		CORSAllowedOrigins: corsOrigins,
		Logger:             rt.logger,
	})
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.ListenAndServe(ctx, rt.cfg.ListenAddr); err != nil {
			rt.logger.Error("HTTP server failed", "error", err)
		}
	}()
	rt.stopServer = func() {
		cancel()
		<-done
		srv.Close()
	}
}

// Close stops the status server and closes the archive.
func (rt *runtime) Close() {
	rt.stopServer()
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn("failed to close storage", "error", err)
		}
	}
}

// beginRun starts tracking and archiving a run.
func (rt *runtime) beginRun(ctx context.Context, command string, target uint64) *storage.Run {
	run := storage.NewRun(command, rt.cfg.RPCURL, target)
	run.ExecutionLayer = rt.cfg.ExecutionLayer
	run.ChunkSize = rt.cfg.ChunkSize
	run.SenderIndex = rt.cfg.SenderIndex
	run.TotalSenders = rt.cfg.TotalSenders
	rt.state.Begin(run.ID, target)

	if rt.store != nil {
		if err := rt.store.CreateRun(ctx, run); err != nil {
			rt.logger.Warn("failed to archive run", "runId", run.ID, "error", err)
		}
	}
	rt.logger.Info("run started", "runId", run.ID, "command", command, "target", target)
	return run
}

// finishRun records the outcome of run and returns err unchanged.
func (rt *runtime) finishRun(ctx context.Context, run *storage.Run, series []types.TPSSample, err error) error {
	if err != nil {
		run.Fail(err)
		rt.state.Fail(err)
	} else {
		run.Status = storage.RunStatusCompleted
		rt.state.SetStatus(types.StatusCompleted)
	}

	if rt.store != nil {
		// Archive even when the command was interrupted.
		ctx = context.WithoutCancel(ctx)
		if len(series) > 0 {
			if serr := rt.store.BulkInsertTPSSeries(ctx, run.ID, series); serr != nil {
				rt.logger.Warn("failed to archive tps series", "runId", run.ID, "error", serr)
			}
		}
		if serr := rt.store.CompleteRun(ctx, run.ID, run); serr != nil {
			rt.logger.Warn("failed to archive run result", "runId", run.ID, "error", serr)
		}
	}
	rt.logger.Info("run finished", "runId", run.ID, "status", run.Status)
	return err
}

// rpcHealth backs the readiness check.
type rpcHealth struct {
	client *chain.Client
}

func (h rpcHealth) CheckRPC(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := h.client.CurrentBlock(ctx)
	return err
}

// interrupted reports whether err came from Ctrl-C.
func interrupted(err error) bool {
	return errors.Is(err, context.Canceled)
}
