package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/gateway-fm/stps/internal/account"
	"github.com/gateway-fm/stps/internal/verification"
	"github.com/gateway-fm/stps/pkg/types"
)

// FundAccountsJSONCommand writes the genesis alloc for derived senders.
func FundAccountsJSONCommand() *cli.Command {
	return &cli.Command{
		Name:      "fund-accounts-json",
		Usage:     "Write a genesis alloc funding n derived sender accounts",
		ArgsUsage: "<n>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Path to write the alloc JSON to",
				Value:   "./funded-accounts.json",
			},
			&cli.Uint64Flag{
				Name:  "multiple",
				Usage: "Transfers each account must be able to fund",
				Value: 1,
			},
		},
		Action: fundAccountsJSON,
	}
}

func fundAccountsJSON(c *cli.Context) error {
	logger := newLogger(c.String(LogLevelFlag.Name))
	n, err := targetArg(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	multiple := c.Uint64("multiple")
	if multiple == 0 {
		return fmt.Errorf("--multiple must be positive")
	}

	balance := verification.RequiredBalance(cfg.ExistentialDeposit, multiple)
	alloc, err := account.FundingAlloc(cfg.Derivation, int(n), balance)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(alloc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal alloc: %w", err)
	}
	output := c.String("output")
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	logger.Info("wrote funded accounts", "path", output, "accounts", n, "balance", balance)
	return nil
}

// CheckPreConditionsCommand asserts the senders are fresh and funded.
func CheckPreConditionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "check-pre-conditions",
		Usage:     "Check sender nonces and balances before n transfers are sent",
		ArgsUsage: "<n>",
		Flags:     []cli.Flag{PrivateKeyFlag, DerivedSendersFlag},
		Action: func(c *cli.Context) error {
			n, err := targetArg(c)
			if err != nil {
				return err
			}
			rt, err := setup(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			rt.logger.Info("checking sTPS pre-conditions (account nonces and balances)")
			return rt.checkPreConditions(c.Context, senderOptions(c), n)
		},
	}
}

// SendBalanceTransfersCommand presigns and submits the batch, then waits for
// it to finalize.
func SendBalanceTransfersCommand() *cli.Command {
	return &cli.Command{
		Name:      "send-balance-transfers",
		Usage:     "Presign n transfers, submit them in chunks and wait until they are finalized",
		ArgsUsage: "<n>",
		Flags: append(submitFlags(), &cli.BoolFlag{
			Name:  "streaming",
			Usage: "Count finalized transfers while sending and require exactly n",
		}),
		Action: func(c *cli.Context) error {
			n, err := targetArg(c)
			if err != nil {
				return err
			}
			rt, err := setup(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			run := rt.beginRun(c.Context, c.Command.Name, n)
			opts := senderOptions(c)
			opts.streaming = c.Bool("streaming")
			m, _, err := rt.send(c.Context, opts, n)
			run.Metrics = &m
			run.Verified = opts.streaming && err == nil
			return rt.finishRun(c.Context, run, nil, err)
		},
	}
}

// CheckPostConditionsCommand proves that exactly n transfers are on chain.
func CheckPostConditionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "check-post-conditions",
		Usage:     "Check that the chain holds exactly n successful transfers",
		ArgsUsage: "<n>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "streaming",
				Usage: "Follow finalized blocks until n transfers are seen instead of scanning once",
			},
		},
		Action: func(c *cli.Context) error {
			n, err := targetArg(c)
			if err != nil {
				return err
			}
			rt, err := setup(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			run := rt.beginRun(c.Context, c.Command.Name, n)
			rt.state.SetStatus(types.StatusVerifying)
			post := verification.NewPostcondition(rt.scanner, rt.logger)
			if c.Bool("streaming") {
				err = post.CheckStreaming(c.Context, n)
			} else {
				err = post.CheckFixed(c.Context, n)
			}
			run.Verified = err == nil
			if err == nil {
				rt.logger.Info("post-conditions satisfied", "transfers", n)
			}
			return rt.finishRun(c.Context, run, nil, err)
		},
	}
}

// CalculateTPSCommand measures throughput from block timestamps.
func CalculateTPSCommand() *cli.Command {
	return &cli.Command{
		Name:      "calculate-tps",
		Usage:     "Calculate transfers per second over a block range, or follow finalized blocks until n transfers",
		ArgsUsage: "<n>",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:  "start",
				Usage: "Reference block; measuring starts at the block after it (default: finalized head in follow mode)",
			},
			&cli.Uint64Flag{
				Name:  "end",
				Usage: "Last block to measure; unset follows finalized blocks",
			},
		},
		Action: func(c *cli.Context) error {
			n, err := targetArg(c)
			if err != nil {
				return err
			}
			rt, err := setup(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			run := rt.beginRun(c.Context, c.Command.Name, n)
			rt.state.SetStatus(types.StatusVerifying)

			var (
				samples []types.TPSSample
				sum     types.TPSSummary
			)
			start := c.Uint64("start")
			if c.IsSet("end") {
				end := c.Uint64("end")
				if end <= start {
					err = fmt.Errorf("--end %d must be after --start %d", end, start)
				} else {
					samples, sum, err = rt.meter.Compute(c.Context, start, end)
				}
			} else {
				if !c.IsSet("start") {
					if start, err = rt.client.FinalizedHead(c.Context); err != nil {
						return rt.finishRun(c.Context, run, nil, fmt.Errorf("finalized head: %w", err))
					}
				}
				rt.logger.Info("following finalized blocks", "start", start, "transfers", n)
				samples, sum, err = rt.meter.Follow(c.Context, start, n)
			}

			run.TPS = &sum
			rt.state.SetSummary(sum)
			if err == nil {
				logSummary(rt, sum)
			}
			return rt.finishRun(c.Context, run, samples, err)
		},
	}
}

// RunCommand performs a whole benchmark in one process.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Check pre-conditions, send n transfers, wait for finality, verify the count and measure TPS",
		ArgsUsage: "<n>",
		Flags:     submitFlags(),
		Action: func(c *cli.Context) error {
			n, err := targetArg(c)
			if err != nil {
				return err
			}
			rt, err := setup(c)
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.run(c.Context, senderOptions(c), n)
		},
	}
}

func logSummary(rt *runtime, sum types.TPSSummary) {
	rt.logger.Info("TPS summary",
		"firstBlock", sum.FirstBlock,
		"lastBlock", sum.LastBlock,
		"blocks", sum.Blocks,
		"emptyBlocks", sum.EmptyBlocks,
		"transfers", sum.Transfers,
		"averageTps", sum.AverageTPS,
		"peakTps", sum.PeakTPS,
	)
}

func senderOptions(c *cli.Context) sendOptions {
	return sendOptions{
		privateKey: c.String(PrivateKeyFlag.Name),
		derived:    c.Bool(DerivedSendersFlag.Name),
	}
}
