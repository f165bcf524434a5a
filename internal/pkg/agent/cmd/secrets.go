// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/configuration"
	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/cli"
	"github.com/elastic/ci-orchestrator/internal/pkg/secret"
	"github.com/elastic/ci-orchestrator/internal/pkg/secret/filestore"
)

func newSecretsCommandWithArgs(_ []string, streams *cli.IOStreams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the secrets of the file backend",
		Long: `Manages the encrypted vault read by the file backend, at secrets.file.path.
Handles are written as <path>#<field>.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "put <handle>",
			Short: "Store the value read from stdin under the handle",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				return putSecret(context.Background(), configPaths(c), args[0], streams)
			},
		},
		&cobra.Command{
			Use:   "rm <handle>",
			Short: "Remove the value stored under the handle",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				return removeSecret(context.Background(), configPaths(c), args[0], streams)
			},
		},
	)

	return cmd
}

func putSecret(ctx context.Context, paths []string, handle string, streams *cli.IOStreams) error {
	h, err := secret.ParseHandle(handle)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(streams.In)
	if err != nil {
		return errors.New(err, "failed to read the secret from stdin")
	}
	value := strings.TrimRight(string(data), "\r\n")
	if value == "" {
		return errors.New("empty secret value on stdin", errors.TypeConfig)
	}

	return withFileStore(ctx, paths, func(s *filestore.Store) error {
		if err := s.Put(ctx, h, value); err != nil {
			return errors.New(err, fmt.Sprintf("failed to store %s", h), errors.TypeFilesystem)
		}
		fmt.Fprintf(streams.Out, "Stored %s\n", h)
		return nil
	})
}

func removeSecret(ctx context.Context, paths []string, handle string, streams *cli.IOStreams) error {
	h, err := secret.ParseHandle(handle)
	if err != nil {
		return err
	}

	return withFileStore(ctx, paths, func(s *filestore.Store) error {
		if err := s.Delete(ctx, h); err != nil {
			return errors.New(err, fmt.Sprintf("failed to remove %s", h), errors.TypeFilesystem)
		}
		fmt.Fprintf(streams.Out, "Removed %s\n", h)
		return nil
	})
}

func withFileStore(ctx context.Context, paths []string, fn func(*filestore.Store) error) error {
	cfg, err := configuration.NewFromFile(paths...)
	if err != nil {
		return err
	}
	if cfg.Secrets.File.Path == "" {
		return errors.New("secrets.file.path is not set", errors.TypeConfig)
	}

	s, err := filestore.Open(ctx, cfg.Secrets.File, false)
	if err != nil {
		return errors.New(err, errors.TypeFilesystem, errors.M(errors.MetaKeyPath, cfg.Secrets.File.Path))
	}
	defer s.Close()
	return fn(s)
}
