package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/stps/internal/account"
	"github.com/gateway-fm/stps/internal/chain"
	"github.com/gateway-fm/stps/internal/config"
	"github.com/gateway-fm/stps/internal/finality"
	"github.com/gateway-fm/stps/internal/metrics"
	"github.com/gateway-fm/stps/internal/pipeline"
	"github.com/gateway-fm/stps/internal/ratelimit"
	"github.com/gateway-fm/stps/internal/sender"
	"github.com/gateway-fm/stps/internal/verification"
	"github.com/gateway-fm/stps/pkg/types"
)

// errDerivedSharded rejects derived-sender batches in sharded runs, where the
// derived account ranges of the shards would overlap.
var errDerivedSharded = errors.New("--derived-senders requires --total-senders 1")

type sendOptions struct {
	privateKey string
	// derived sends every transfer from its own derived account.
	derived bool
	// streaming counts finalized transfers while the batch is in flight.
	streaming bool
}

// senderAccount returns the single sender of this shard.
func (rt *runtime) senderAccount(privateKey string) (*account.Account, error) {
	if privateKey != "" {
		acc, err := account.NewAccountFromHex(strings.TrimPrefix(privateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		return acc, nil
	}
	return account.DeriveAccount(rt.cfg.Derivation, rt.cfg.SenderIndex)
}

func (rt *runtime) checkPreConditions(ctx context.Context, opts sendOptions, n uint64) error {
	rt.state.SetStatus(types.StatusChecking)
	pre := verification.NewPrecondition(rt.client, rt.logger)

	if opts.derived {
		if rt.cfg.TotalSenders > 1 {
			return errDerivedSharded
		}
		if err := pre.CheckSenders(ctx, rt.cfg.Derivation, int(n), 1); err != nil {
			return err
		}
	} else {
		acc, err := rt.senderAccount(opts.privateKey)
		if err != nil {
			return err
		}
		if err := pre.CheckAccount(ctx, acc.Address, config.PerSender(n, rt.cfg.TotalSenders)); err != nil {
			return err
		}
	}
	rt.logger.Info("pre-conditions satisfied")
	return nil
}

// send presigns this shard's share of n transfers, submits it and waits for it
// to finalize. A single sender waits on a trailing sentinel remark; derived
// senders wait until every sender's finalized nonce moved past its transfer.
// With opts.streaming the finalized transfer count is verified concurrently.
func (rt *runtime) send(ctx context.Context, opts sendOptions, n uint64) (types.RunMetrics, chain.TxStatus, error) {
	cfg := rt.cfg
	target := config.ShardTarget(n, cfg.TotalSenders)
	per := config.PerSender(n, cfg.TotalSenders)
	if target != n {
		rt.logger.Warn("target truncated to a multiple of the sender count", "requested", n, "target", target)
	}
	if per == 0 {
		return types.RunMetrics{}, chain.TxStatus{}, fmt.Errorf("%d transfers cannot be split across %d senders", n, cfg.TotalSenders)
	}
	if opts.derived && cfg.TotalSenders > 1 {
		return types.RunMetrics{}, chain.TxStatus{}, errDerivedSharded
	}

	receivers := account.GenerateReceivers(int(per), account.ReceiverShift(cfg.SenderIndex, int(per)))
	presigner := pipeline.New(pipeline.Config{Signer: rt.client, Workers: cfg.SignWorkers, Logger: rt.logger})

	rt.state.SetStatus(types.StatusSigning)
	var (
		txs  []*chain.SignedTransaction
		wait func(ctx context.Context) (chain.TxStatus, error)
	)
	if opts.derived {
		senders, err := account.DeriveAccounts(cfg.Derivation, int(per))
		if err != nil {
			return types.RunMetrics{}, chain.TxStatus{}, err
		}
		txs, err = presigner.PresignDerived(ctx, senders, receivers, cfg.ExistentialDeposit)
		if err != nil {
			return types.RunMetrics{}, chain.TxStatus{}, err
		}
		targets := make(map[common.Address]uint64, len(senders))
		for _, s := range senders {
			targets[s.Address] = s.PeekNonce()
		}
		waiter := finality.NewAccountWaiter(finality.AccountConfig{Chain: rt.client, Concurrency: cfg.ScanConcurrency, Logger: rt.logger})
		wait = func(ctx context.Context) (chain.TxStatus, error) {
			return waiter.WaitForAccounts(ctx, targets)
		}
	} else {
		sentinel, err := rt.senderAccount(opts.privateKey)
		if err != nil {
			return types.RunMetrics{}, chain.TxStatus{}, err
		}
		if err := sentinel.Resync(ctx, rt.client.RPC()); err != nil {
			return types.RunMetrics{}, chain.TxStatus{}, fmt.Errorf("read nonce of %s: %w", sentinel.Address.Hex(), err)
		}
		txs, err = presigner.Presign(ctx, sentinel, receivers, cfg.ExistentialDeposit, sentinel.PeekNonce())
		if err != nil {
			return types.RunMetrics{}, chain.TxStatus{}, err
		}
		sentinel.Advance(uint64(len(txs)))
		sentinelNonce := sentinel.NextNonce()
		waiter := finality.New(finality.Config{Chain: rt.client, Logger: rt.logger})
		wait = func(ctx context.Context) (chain.TxStatus, error) {
			return waiter.WaitForCompletion(ctx, sentinel, sentinelNonce)
		}
	}

	scfg := sender.Config{
		Chain:          rt.client,
		ChunkSize:      cfg.ChunkSize,
		SampleInterval: cfg.SampleInterval,
		Prometheus:     rt.prom,
		OnProgress:     rt.state.SetProgress,
		Logger:         rt.logger,
	}
	if cfg.MaxRate > 0 {
		scfg.Limiter = ratelimit.New(cfg.MaxRate)
	}
	submitter := sender.New(scfg)

	var (
		m         types.RunMetrics
		final     chain.TxStatus
		confirmed metrics.Counter
	)
	g, gctx := errgroup.WithContext(ctx)
	if opts.streaming {
		post := verification.NewPostcondition(rt.scanner, rt.logger)
		post.OnCount = func(_, count uint64) { confirmed.Store(count) }
		g.Go(func() error {
			return post.CheckStreaming(gctx, target)
		})
	}
	g.Go(func() error {
		rt.state.SetStatus(types.StatusSubmitting)
		var err error
		m, err = submitter.Submit(gctx, txs)
		rt.state.SetMetrics(m)
		if err != nil {
			return err
		}
		rt.state.SetStatus(types.StatusFinalizing)
		final, err = wait(gctx)
		return err
	})
	err := g.Wait()

	m.TotalConfirmedEvents = confirmed.Load()
	rt.state.SetMetrics(m)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return m, final, err
	}

	rt.logger.Info("transfers sent",
		"submitted", m.TotalSubmitted,
		"confirmed", m.TotalConfirmedEvents,
		"chunks", m.Chunks,
		"elapsedMs", m.ElapsedMs,
		"cumulativeTps", m.CumulativeTPS,
		"finalizedBlock", final.Block,
	)
	return m, final, nil
}

// verifyLanded requires target transfers on chain and returns how many were
// counted and the block the TPS window ends at. Other shards may still be in
// flight, so a sharded run follows finalized heads until the whole target has
// landed instead of scanning once.
func verifyLanded(ctx context.Context, post *verification.Postcondition, sharded bool, target, finalBlock uint64) (count, end uint64, err error) {
	end = finalBlock
	var last uint64
	post.OnCount = func(block, n uint64) { count, last = n, block }
	if sharded {
		err = post.CheckStreaming(ctx, target)
		end = max(end, last)
	} else {
		err = post.CheckFixed(ctx, target)
	}
	return count, end, err
}

// run is the whole benchmark: pre-conditions, send, post-conditions, TPS.
func (rt *runtime) run(ctx context.Context, opts sendOptions, n uint64) error {
	target := config.ShardTarget(n, rt.cfg.TotalSenders)
	run := rt.beginRun(ctx, "run", target)

	if err := rt.checkPreConditions(ctx, opts, n); err != nil {
		return rt.finishRun(ctx, run, nil, err)
	}

	startHead, err := rt.scanner.CurrentHead(ctx)
	if err != nil {
		return rt.finishRun(ctx, run, nil, fmt.Errorf("current head: %w", err))
	}

	m, final, err := rt.send(ctx, opts, n)
	run.Metrics = &m
	if err != nil {
		return rt.finishRun(ctx, run, nil, err)
	}

	rt.state.SetStatus(types.StatusVerifying)
	post := verification.NewPostcondition(rt.scanner, rt.logger)
	confirmed, end, err := verifyLanded(ctx, post, rt.cfg.TotalSenders > 1, target, final.Block)
	m.TotalConfirmedEvents = confirmed
	rt.state.SetMetrics(m)
	if err != nil {
		return rt.finishRun(ctx, run, nil, err)
	}
	run.Verified = true

	samples, sum, err := rt.meter.Compute(ctx, startHead, end)
	run.TPS = &sum
	rt.state.SetSummary(sum)
	if err == nil {
		logSummary(rt, sum)
	}
	return rt.finishRun(ctx, run, samples, err)
}
