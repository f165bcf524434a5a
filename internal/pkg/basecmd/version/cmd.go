// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package version

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/cli"
	"github.com/elastic/ci-orchestrator/internal/pkg/release"
)

// Output is the output of the version command with --yaml.
type Output struct {
	Binary *release.VersionInfo `yaml:"binary"`
}

// NewCommandWithArgs returns a new version command.
func NewCommandWithArgs(streams *cli.IOStreams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Display the version of the orchestrator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outputYAML, _ := cmd.Flags().GetBool("yaml")

			info := release.Info()
			if outputYAML {
				out, err := yaml.Marshal(Output{Binary: &info})
				if err != nil {
					return errors.New(err, "failed to render the version")
				}
				_, err = streams.Out.Write(out)
				return err
			}
			fmt.Fprintf(streams.Out, "Binary: %s\n", info)
			return nil
		},
	}

	cmd.Flags().Bool("yaml", false, "Output information in YAML format")

	return cmd
}
