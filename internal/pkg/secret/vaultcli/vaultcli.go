// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

// Package vaultcli reads secrets from HashiCorp Vault through the vault
// command line client installed on the CI agents.
package vaultcli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/elastic/ci-orchestrator/internal/pkg/secret"
	"github.com/elastic/ci-orchestrator/pkg/core/process"
)

// Config configures the vault client.
type Config struct {
	// Binary is the vault executable. Default is "vault" from the PATH.
	Binary string `config:"binary"`
	// Address overrides VAULT_ADDR when set.
	Address string `config:"address"`
	// Namespace overrides VAULT_NAMESPACE when set.
	Namespace string `config:"namespace"`
}

// DefaultConfig returns the default vault client configuration.
func DefaultConfig() Config {
	return Config{Binary: "vault"}
}

// Store looks secrets up with `vault kv get -field=<field> <path>`.
type Store struct {
	cfg     Config
	runner  process.Runner
	environ func() []string
}

// New creates a store. A nil runner executes the real vault client.
func New(cfg Config, runner process.Runner) *Store {
	if cfg.Binary == "" {
		cfg.Binary = DefaultConfig().Binary
	}
	if runner == nil {
		runner = process.ExecRunner{}
	}
	return &Store{cfg: cfg, runner: runner, environ: os.Environ}
}

// Lookup implements secret.Store. The call is never interrupted once
// started.
func (s *Store) Lookup(ctx context.Context, h secret.Handle) (string, error) {
	cmd := process.Command{
		Path: s.cfg.Binary,
		Args: []string{"kv", "get", "-field=" + h.Field, h.Path},
		Env:  s.env(),
	}

	out, err := s.runner.Run(context.WithoutCancel(ctx), cmd)
	if err != nil {
		return "", classify(h, out, err)
	}
	return strings.TrimSuffix(string(out.Stdout), "\n"), nil
}

func (s *Store) env() []string {
	if s.cfg.Address == "" && s.cfg.Namespace == "" {
		return nil
	}
	env := s.environ()
	if s.cfg.Address != "" {
		env = append(env, "VAULT_ADDR="+s.cfg.Address)
	}
	if s.cfg.Namespace != "" {
		env = append(env, "VAULT_NAMESPACE="+s.cfg.Namespace)
	}
	return env
}

// classify maps the diagnostics of the vault client to the secret errors.
// Vault prints the cause on stderr and exits with 2 for both missing and
// forbidden secrets.
func classify(h secret.Handle, out process.Output, err error) error {
	stderr := strings.ToLower(string(out.Stderr))
	switch {
	case strings.Contains(stderr, "permission denied"),
		strings.Contains(stderr, "code: 403"),
		strings.Contains(stderr, "missing client token"):
		return fmt.Errorf("%w: vault denied access to %s", secret.ErrAuthFailure, h)
	case strings.Contains(stderr, "no value found at"),
		strings.Contains(stderr, "not present in secret"),
		strings.Contains(stderr, "code: 404"):
		return fmt.Errorf("%w: %s", secret.ErrNotFound, h)
	}
	return fmt.Errorf("vault lookup of %s failed: %w", h, err)
}
