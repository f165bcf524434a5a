// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/agent/inputs"
	"github.com/elastic/ci-orchestrator/internal/pkg/cli"
	"github.com/elastic/ci-orchestrator/internal/pkg/pipeline"
	bkpipeline "github.com/elastic/ci-orchestrator/pkg/buildkite/pipeline"
)

const (
	formatYAML  = "yaml"
	formatTable = "table"

	defaultExpandCommand = "ci-orchestrator expand --upload"
)

type expandOpts struct {
	definition    string
	inputs        []string
	format        string
	upload        bool
	replace       bool
	expandCommand string
}

func newExpandCommandWithArgs(_ []string, streams *cli.IOStreams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Expand the pipeline of the build",
		Long: `Expands the base pipeline definition of the build with the steps of the
configured generator.

Input values are taken from --input flags. Without flags, builds started from
the web interface read the values submitted in the build meta-data. When none
were submitted yet the expanded pipeline is an input step followed by a step
running the expansion again.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			var opts expandOpts
			opts.definition, _ = c.Flags().GetString("definition")
			opts.inputs, _ = c.Flags().GetStringArray("input")
			opts.format, _ = c.Flags().GetString("format")
			opts.upload, _ = c.Flags().GetBool("upload")
			opts.replace, _ = c.Flags().GetBool("replace")
			opts.expandCommand, _ = c.Flags().GetString("expand-command")

			e, err := newEngine(streams.Err, configPaths(c)...)
			if err != nil {
				return err
			}
			defer e.close()

			ctx, cancel := signalContext()
			defer cancel()
			return expandPipeline(ctx, e, streams, opts)
		},
	}

	cmd.Flags().String("definition", "", "Base pipeline definition, default is generator.definition")
	cmd.Flags().StringArray("input", nil, "Input value as key=value, can be repeated")
	cmd.Flags().String("format", formatYAML, "Output format: yaml or table")
	cmd.Flags().Bool("upload", false, "Upload the expanded pipeline to the running build")
	cmd.Flags().Bool("replace", false, "Replace the remaining steps of the build on upload")
	cmd.Flags().String("expand-command", defaultExpandCommand, "Command expanding the pipeline once the inputs are submitted")

	return cmd
}

func expandPipeline(ctx context.Context, e *engine, streams *cli.IOStreams, opts expandOpts) (err error) {
	if opts.format != formatYAML && opts.format != formatTable {
		return errors.New(fmt.Sprintf("unknown format %q", opts.format), errors.TypeConfig)
	}

	bctx := e.buildContext()
	ctx, end := e.startTransaction(ctx, "expand", bctx)
	defer func() { end(err) }()

	exp, err := e.expander(opts.definition, bctx)
	if err != nil {
		return err
	}

	values, err := e.inputValues(ctx, exp, opts.inputs)
	if err != nil {
		return err
	}

	res, err := exp.Expand(ctx, values)
	if err != nil {
		return err
	}

	var doc *bkpipeline.Pipeline
	if res.State == pipeline.AwaitingInput {
		doc = bkpipeline.AwaitingInput(exp.Parameters(), opts.expandCommand, nil)
	} else {
		doc = bkpipeline.FromSteps(res.Env, res.Steps)
	}

	switch opts.format {
	case formatTable:
		writeExpansionTable(streams.Out, exp.Parameters(), res)
	default:
		data, err := doc.MarshalYAML()
		if err != nil {
			return err
		}
		if _, err := streams.Out.Write(data); err != nil {
			return err
		}
	}

	if !opts.upload {
		return nil
	}
	uploader := bkpipeline.Uploader{
		Attempts: e.cfg.Retry.MaxAttempts,
		Replace:  opts.replace,
		Runner:   e.runner,
		Retrier:  e.retrier,
		Output:   streams.Err,
	}
	return uploader.Upload(ctx, doc)
}

// inputValues parses the --input flags. Without flags the values submitted
// in the build meta-data are read, for builds started from the web interface.
func (e *engine) inputValues(ctx context.Context, exp *pipeline.Expander, flags []string) (pipeline.Inputs, error) {
	if len(flags) > 0 {
		kv, err := cli.ParseKeyValues(flags)
		if err != nil {
			return nil, errors.New(err, errors.TypeConfig)
		}
		return kv, nil
	}
	params := exp.Parameters()
	bctx := e.buildContext()
	if !bctx.IsUI() || len(params) == 0 {
		return nil, nil
	}
	src := inputs.NewMetaDataSource(e.log, e.runner, e.retrier, e.cfg.Inputs.Attempts)
	values, err := src.Inputs(ctx, params)
	if err != nil {
		return nil, err
	}
	if values == nil && bctx.InputsSubmitted {
		// blank optional fields set no meta-data, the defaults apply
		return pipeline.Inputs{}, nil
	}
	return values, nil
}

func writeExpansionTable(out io.Writer, params []pipeline.InputParameter, res *pipeline.Expansion) {
	t := table.NewWriter()
	if res.State == pipeline.AwaitingInput {
		t.AppendHeader(table.Row{"Input", "Prompt", "Options", "Default", "Required"})
		for _, p := range params {
			options := make([]string, 0, len(p.Options))
			for _, o := range p.Options {
				options = append(options, o.Value)
			}
			t.AppendRow(table.Row{p.Key, p.Prompt, strings.Join(options, ","), p.Default, p.Required})
		}
		fmt.Fprintf(out, "State: %s\n%s\n", res.State, t.Render())
		return
	}

	t.AppendHeader(table.Row{"Key", "Label", "Group", "Command", "Depends on"})
	for _, s := range res.Steps {
		t.AppendRow(table.Row{s.Key, s.DisplayLabel(), s.Group, s.Command, strings.Join(s.DependsOn, ",")})
	}
	t.AppendFooter(table.Row{"", "", "", "Steps", len(res.Steps)})
	fmt.Fprintf(out, "State: %s\n%s\n", res.State, t.Render())
}
