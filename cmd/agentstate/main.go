package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentos-labs/agentstate/internal/cli"
	aserrors "github.com/agentos-labs/agentstate/pkg/agentstate/v1/errors"
)

const (
	ExitSuccess    = 0
	ExitFailure    = 1
	ExitUsageError = 2
	ExitSigIntBase = 128
	ExitSigInt     = ExitSigIntBase + int(syscall.SIGINT)
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := cli.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, cli.FormatError(err))
		return ExitUsageError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(cli.BuildInfo{Version: version, Commit: commit, BuildDate: buildDate})
	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(os.Stderr, cli.FormatError(exitErr.Err))
		}
		return exitErr.Code
	}
	fmt.Fprintln(os.Stderr, cli.FormatError(err))

	var configErr *aserrors.ConfigError
	var validationErr *aserrors.ValidationError
	switch {
	case errors.Is(err, context.Canceled):
		return ExitSigInt
	case errors.As(err, &configErr), errors.As(err, &validationErr):
		return ExitUsageError
	default:
		return ExitFailure
	}
}
