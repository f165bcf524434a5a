// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/inputs"
	"github.com/elastic/ci-orchestrator/internal/pkg/cli"
	"github.com/elastic/ci-orchestrator/internal/pkg/pipeline"
	bkpipeline "github.com/elastic/ci-orchestrator/pkg/buildkite/pipeline"
)

func newServeInputsCommandWithArgs(_ []string, streams *cli.IOStreams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-inputs",
		Short: "Serve the input parameters of the pipeline until they are submitted",
		Long: `Serves the input parameters of the base pipeline over HTTP. Once a valid
set of values is submitted the pipeline is expanded and, with --upload, uploaded
to the running build. The command exits after the expansion.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			definition, _ := c.Flags().GetString("definition")
			upload, _ := c.Flags().GetBool("upload")
			replace, _ := c.Flags().GetBool("replace")

			e, err := newEngine(streams.Err, configPaths(c)...)
			if err != nil {
				return err
			}
			defer e.close()

			listen := e.cfg.Inputs.Listen
			if c.Flags().Changed("host") {
				listen.Host, _ = c.Flags().GetString("host")
			}
			if c.Flags().Changed("port") {
				listen.Port, _ = c.Flags().GetInt("port")
			}

			ctx, cancel := signalContext()
			defer cancel()
			return serveInputs(ctx, e, streams, definition, listen, upload, replace)
		},
	}

	cmd.Flags().String("definition", "", "Base pipeline definition, default is generator.definition")
	cmd.Flags().String("host", "", "Listen host, default is inputs.listen.host")
	cmd.Flags().Int("port", 0, "Listen port, default is inputs.listen.port")
	cmd.Flags().Bool("upload", false, "Upload the expanded pipeline to the running build")
	cmd.Flags().Bool("replace", false, "Replace the remaining steps of the build on upload")

	return cmd
}

func serveInputs(ctx context.Context, e *engine, streams *cli.IOStreams, definition string, listen inputs.Config, upload, replace bool) error {
	exp, err := e.expander(definition, e.buildContext())
	if err != nil {
		return err
	}

	onExpanded := func(ctx context.Context, res *pipeline.Expansion) error {
		doc := bkpipeline.FromSteps(res.Env, res.Steps)
		if !upload {
			data, err := doc.MarshalYAML()
			if err != nil {
				return err
			}
			_, err = streams.Out.Write(data)
			return err
		}
		uploader := bkpipeline.Uploader{
			Attempts: e.cfg.Retry.MaxAttempts,
			Replace:  replace,
			Runner:   e.runner,
			Retrier:  e.retrier,
			Output:   streams.Err,
		}
		return uploader.Upload(ctx, doc)
	}

	srv := inputs.NewServer(e.log, exp, e.tracer, onExpanded)
	return srv.Serve(ctx, listen)
}
