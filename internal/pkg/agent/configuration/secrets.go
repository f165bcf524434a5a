// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package configuration

import (
	"context"
	"fmt"
	"io"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/secret"
	"github.com/elastic/ci-orchestrator/internal/pkg/secret/filestore"
	"github.com/elastic/ci-orchestrator/internal/pkg/secret/kubernetes"
	"github.com/elastic/ci-orchestrator/internal/pkg/secret/vaultcli"
	"github.com/elastic/ci-orchestrator/pkg/core/process"
)

// Secret store backends.
const (
	BackendVault      = "vault"
	BackendFile       = "file"
	BackendKubernetes = "kubernetes"
)

// SecretsConfig selects and configures the secret store.
type SecretsConfig struct {
	Backend string `config:"backend" yaml:"backend" json:"backend"`
	// MaxAttempts is the lookup budget of one secret.
	MaxAttempts int `config:"max_attempts" yaml:"max_attempts" json:"max_attempts"`

	Vault      vaultcli.Config   `config:"vault" yaml:"vault" json:"vault"`
	File       filestore.Config  `config:"file" yaml:"file" json:"file"`
	Kubernetes kubernetes.Config `config:"kubernetes" yaml:"kubernetes" json:"kubernetes"`
}

// DefaultSecretsConfig reads secrets with the vault client.
func DefaultSecretsConfig() *SecretsConfig {
	return &SecretsConfig{
		Backend:     BackendVault,
		MaxAttempts: secret.DefaultMaxAttempts,
		Vault:       vaultcli.DefaultConfig(),
	}
}

// Validate checks the backend settings.
func (c *SecretsConfig) Validate() error {
	switch c.Backend {
	case BackendVault, BackendKubernetes:
	case BackendFile:
		if c.File.Path == "" {
			return errors.New("secrets.file.path is required by the file backend", errors.TypeConfig)
		}
	default:
		return errors.New(fmt.Sprintf("unknown secrets backend %q", c.Backend), errors.TypeConfig)
	}
	if c.MaxAttempts < 1 {
		return errors.New(fmt.Sprintf("secrets.max_attempts must be at least 1, got %d", c.MaxAttempts), errors.TypeConfig)
	}
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewStore opens the configured store. The closer releases it once the
// build step is done. runner executes the vault client, nil runs the real
// one.
func NewStore(ctx context.Context, cfg *SecretsConfig, runner process.Runner) (secret.Store, io.Closer, error) {
	switch cfg.Backend {
	case BackendVault:
		return vaultcli.New(cfg.Vault, runner), nopCloser{}, nil
	case BackendFile:
		s, err := filestore.Open(ctx, cfg.File, true)
		if err != nil {
			return nil, nil, errors.New(err, "failed to open the secret file", errors.TypeFilesystem, errors.M(errors.MetaKeyPath, cfg.File.Path))
		}
		return s, s, nil
	case BackendKubernetes:
		s, err := kubernetes.New(cfg.Kubernetes)
		if err != nil {
			return nil, nil, errors.New(err, "failed to connect to kubernetes", errors.TypeNetwork)
		}
		return s, nopCloser{}, nil
	}
	return nil, nil, errors.New(fmt.Sprintf("unknown secrets backend %q", cfg.Backend), errors.TypeConfig)
}
