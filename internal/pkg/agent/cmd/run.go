// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/agent/job"
	"github.com/elastic/ci-orchestrator/internal/pkg/buildcontext"
	"github.com/elastic/ci-orchestrator/internal/pkg/cli"
)

func newRunCommandWithArgs(_ []string, streams *cli.IOStreams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flags] [-- command...]",
		Short: "Run a build step with its hooks",
		Long: `Runs one build step: the pre-command hooks, the command with its bound
environment, the post-command and the pre-exit hooks.

The command defaults to BUILDKITE_COMMAND. Its output is written to the job log
with every resolved secret masked. The exit code of the command is the exit
code of the orchestrator.`,
		RunE: func(c *cobra.Command, args []string) error {
			dir, _ := c.Flags().GetString("dir")
			stepKey, _ := c.Flags().GetString("step")

			e, err := newEngine(streams.Err, configPaths(c)...)
			if err != nil {
				return err
			}
			defer e.close()

			bctx := e.buildContext()
			if len(args) > 0 {
				bctx = bctx.WithCommand(strings.Join(args, " "))
			}
			if stepKey != "" {
				bctx = bctx.WithStep(stepKey)
			}

			ctx, cancel := signalContext()
			defer cancel()
			return runStep(ctx, e, streams, bctx, dir)
		},
	}

	cmd.Flags().String("dir", "", "Working directory of the command")
	cmd.Flags().String("step", "", "Step key, default is BUILDKITE_STEP_KEY")

	return cmd
}

func runStep(ctx context.Context, e *engine, streams *cli.IOStreams, bctx buildcontext.Context, dir string) (err error) {
	if strings.TrimSpace(bctx.Command) == "" {
		return errors.New("no command to run, pass it after -- or set "+buildcontext.EnvCommand, errors.TypeConfig)
	}

	ctx, end := e.startTransaction(ctx, "run", bctx)
	defer func() { end(err) }()

	binder, closer, err := e.binder(ctx)
	if err != nil {
		return err
	}
	defer closer.Close()

	notifier, err := e.notifier(bctx)
	if err != nil {
		return err
	}

	runner := job.New(e.log, e.table, binder, e.retrier, e.masker,
		job.WithProcessRunner(e.runner),
		job.WithNotifier(notifier),
		job.WithOutput(streams.Out, streams.Err))
	res := runner.Run(ctx, job.Step{Context: bctx, Dir: dir})

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := notifier.Wait(waitCtx); err != nil {
		e.log.Warnw("Commit statuses still pending on exit", "error.message", err)
	}

	if !res.Failed() {
		return nil
	}
	streams.Errorf("%s", e.masker.Mask(res.Reason))
	code := res.ExitCode
	if code <= 0 {
		code = 1
	}
	return &ExitCodeError{Code: code, Err: res.Err}
}
