package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/agnosticeng/panicsafe"
	"github.com/agnosticeng/slogcli"
	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:   "batchbench",
		Usage:  "batched-write and cursored-read database benchmarks",
		Flags:  slogcli.SlogFlags(),
		Before: slogcli.SlogBefore,
		Commands: []*cli.Command{
			matrixCommand(),
			writeCommand(),
			readCommand(),
			acquireCommand(),
			callCommand(),
			seedCommand(),
			capabilitiesCommand(),
		},
	}
}

func main() {
	var (
		app = newApp()
		err = panicsafe.Recover(func() error { return app.Run(os.Args) })
	)

	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		os.Exit(1)
	}
}
