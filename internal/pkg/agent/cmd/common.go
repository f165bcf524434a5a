// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	// import logp flags
	_ "github.com/elastic/elastic-agent-libs/logp/configure"
	"github.com/elastic/elastic-agent-libs/service"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/basecmd"
	"github.com/elastic/ci-orchestrator/internal/pkg/cli"
	"github.com/elastic/ci-orchestrator/internal/pkg/pipeline"
)

// TroubleshootMessage follows the error printed on exit.
const TroubleshootMessage = "For help, run the command again with -d '*' to enable debug logging."

// ExitCodeError carries the exit code of a failed step to the process.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error {
	return e.Err
}

// ExitCode returns the process exit code for err. A failed step or generator
// exits with its own code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitCodeError
	if errors.As(err, &exit) && exit.Code != 0 {
		return exit.Code
	}
	if code, ok := pipeline.GeneratorExitCode(err); ok && code > 0 {
		return code
	}
	return 1
}

// NewCommand returns the default command of the orchestrator.
func NewCommand() *cobra.Command {
	return NewCommandWithArgs(os.Args, cli.NewIOStreams())
}

// NewCommandWithArgs returns a new orchestrator command with the flags and the subcommands.
func NewCommandWithArgs(args []string, streams *cli.IOStreams) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ci-orchestrator [subcommand]",
		Short:         "Runs CI steps with their hooks and secrets, and expands pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringSliceP("config", "c", nil, "Configuration files merged in order, default is the repository configuration when present")

	// logging flags
	cmd.PersistentFlags().AddGoFlag(flag.CommandLine.Lookup("v"))
	cmd.PersistentFlags().AddGoFlag(flag.CommandLine.Lookup("e"))
	cmd.PersistentFlags().AddGoFlag(flag.CommandLine.Lookup("d"))
	cmd.PersistentFlags().AddGoFlag(flag.CommandLine.Lookup("environment"))

	// sub-commands
	cmd.AddCommand(basecmd.NewDefaultCommandsWithArgs(args, streams)...)
	cmd.AddCommand(newRunCommandWithArgs(args, streams))
	cmd.AddCommand(newHookCommandWithArgs(args, streams))
	cmd.AddCommand(newExpandCommandWithArgs(args, streams))
	cmd.AddCommand(newServeInputsCommandWithArgs(args, streams))
	cmd.AddCommand(newInspectCommandWithArgs(args, streams))
	cmd.AddCommand(newSecretsCommandWithArgs(args, streams))

	return cmd
}

func configPaths(cmd *cobra.Command) []string {
	p, _ := cmd.Flags().GetStringSlice("config")
	return p
}

// signalContext is cancelled on SIGINT and SIGTERM, the CI agent sends
// them when a job is cancelled.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	service.HandleSignals(func() {}, cancel)
	return ctx, cancel
}
