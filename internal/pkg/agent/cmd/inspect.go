// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package cmd

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/configuration"
	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/cli"
	"github.com/elastic/ci-orchestrator/internal/pkg/redact"
)

func newInspectCommandWithArgs(_ []string, streams *cli.IOStreams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Shows the configuration of the orchestrator",
		Long: `Validates the configuration and prints it. Values of keys that look
sensitive, and of the keys listed in secret_paths, are redacted.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return inspectConfig(streams, configPaths(c)...)
		},
	}

	return cmd
}

func inspectConfig(streams *cli.IOStreams, paths ...string) error {
	cfg, err := configuration.Load(paths...)
	if err != nil {
		return err
	}
	if _, err := configuration.NewFromConfig(cfg); err != nil {
		return err
	}

	mapStr, err := cfg.ToMapStr()
	if err != nil {
		return errors.New(err, "could not read the configuration", errors.TypeConfig)
	}
	return printMapStringConfig(redact.RedactSecrets(mapStr, streams.Err), streams)
}

func printMapStringConfig(mapStr map[string]interface{}, streams *cli.IOStreams) error {
	data, err := yaml.Marshal(mapStr)
	if err != nil {
		return errors.New(err, "could not marshal to YAML")
	}

	_, err = streams.Out.Write(data)
	return err
}
