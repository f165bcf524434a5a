// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

// Package filestore serves secrets from the encrypted vault on the local disk
// of the agent. Entries are keyed by "<path>#<field>".
package filestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/vault"
	"github.com/elastic/ci-orchestrator/internal/pkg/secret"
)

// Config configures the file vault.
type Config struct {
	Path string `config:"path"`
}

// Store is a secret.Store backed by the file vault.
type Store struct {
	vault *vault.Vault
}

// Open opens the vault at cfg.Path. The resolver only needs read access,
// writable vaults are opened by the commands managing secrets.
func Open(ctx context.Context, cfg Config, readonly bool) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("secrets.file.path is required by the file backend")
	}
	v, err := vault.New(ctx, vault.WithVaultPath(cfg.Path), vault.WithReadonly(readonly))
	if err != nil {
		return nil, fmt.Errorf("could not open vault %s: %w", cfg.Path, err)
	}
	return &Store{vault: v}, nil
}

// Lookup implements secret.Store.
func (s *Store) Lookup(ctx context.Context, h secret.Handle) (string, error) {
	b, err := s.vault.Get(ctx, h.String())
	if err != nil {
		if errors.Is(err, vault.ErrKeyNotFound) {
			return "", fmt.Errorf("%w: %s", secret.ErrNotFound, h)
		}
		return "", err
	}
	return string(b), nil
}

// Put stores value under h.
func (s *Store) Put(ctx context.Context, h secret.Handle, value string) error {
	return s.vault.Set(ctx, h.String(), []byte(value))
}

// Delete removes h from the vault.
func (s *Store) Delete(ctx context.Context, h secret.Handle) error {
	return s.vault.Remove(ctx, h.String())
}

// Close closes the vault.
func (s *Store) Close() error {
	return s.vault.Close()
}
