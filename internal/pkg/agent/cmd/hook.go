// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/hooks"
	"github.com/elastic/ci-orchestrator/internal/pkg/buildcontext"
	"github.com/elastic/ci-orchestrator/internal/pkg/cli"
)

func newHookCommandWithArgs(_ []string, streams *cli.IOStreams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook <event>[,<event>...]",
		Short: "List the hook actions that would fire for the current step",
		Long: `Lists the actions of the rules matching the current step, without running
them. Events are pre-command, post-command and pre-exit. Secret values are
never printed, only the handles they are read from.`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			command, _ := c.Flags().GetString("command")

			e, err := newEngine(streams.Err, configPaths(c)...)
			if err != nil {
				return err
			}
			defer e.close()

			bctx := e.buildContext()
			if command != "" {
				bctx = bctx.WithCommand(command)
			}
			return listHooks(context.Background(), e.table, streams.Out, cli.StringToSlice(args[0]), bctx)
		},
	}

	cmd.Flags().String("command", "", "Step command, default is BUILDKITE_COMMAND")

	return cmd
}

func listHooks(ctx context.Context, rules *hooks.Table, out io.Writer, events []string, bctx buildcontext.Context) error {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Event", "Rule", "Action", "Detail"})
	for _, name := range events {
		event, err := hooks.ParseEvent(name)
		if err != nil {
			return err
		}
		for _, a := range rules.Dispatch(ctx, event, bctx) {
			t.AppendRow(table.Row{event, a.Rule, a.Kind, a.Describe()})
		}
	}

	if rules.IsMetaCommand(bctx.Command) {
		fmt.Fprintln(out, "The command manages the pipeline, it gets no secret and no pre-command action.")
	}
	fmt.Fprintln(out, t.Render())
	return nil
}
