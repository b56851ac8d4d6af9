// stps drives a standardized-TPS benchmark against an EVM JSON-RPC chain.
//
// A run is split into commands so that several sender processes can share one
// network: fund-accounts-json prepares genesis balances, check-pre-conditions
// asserts a clean start, send-balance-transfers presigns and submits the batch,
// check-post-conditions proves every transfer landed and calculate-tps measures
// throughput from block timestamps. The run command does all of it in one go.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newApp().RunContext(ctx, os.Args)
	stop()
	if err != nil {
		if interrupted(err) {
			fmt.Fprintln(os.Stderr, "stps: interrupted")
		} else {
			fmt.Fprintf(os.Stderr, "stps: %v\n", err)
		}
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "stps"
	app.Usage = "standardized transfers-per-second benchmark for EVM chains"
	app.Version = Version
	if GitCommit != "" {
		app.Version += "-" + GitCommit
	}
	app.Flags = globalFlags()
	app.Commands = []*cli.Command{
		FundAccountsJSONCommand(),
		CheckPreConditionsCommand(),
		SendBalanceTransfersCommand(),
		CheckPostConditionsCommand(),
		CalculateTPSCommand(),
		RunCommand(),
	}
	return app
}
