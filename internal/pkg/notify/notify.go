// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

// Package notify reports step outcomes as commit statuses.
package notify

import (
	"context"
	"fmt"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/remote"
)

// State is the state of a commit status.
type State string

const (
	StatePending State = "pending"
	StateSuccess State = "success"
	StateFailure State = "failure"
	StateError   State = "error"
)

// Status is one commit status.
type Status struct {
	Context     string
	State       State
	Description string
	TargetURL   string
	Commit      string
}

// Validate checks the status can be posted.
func (s Status) Validate() error {
	if s.Context == "" {
		return errors.New("commit status without context", errors.TypeConfig)
	}
	if s.Commit == "" {
		return errors.New(fmt.Sprintf("commit status %q without commit", s.Context), errors.TypeConfig)
	}
	switch s.State {
	case StatePending, StateSuccess, StateFailure, StateError:
	default:
		return errors.New(fmt.Sprintf("invalid commit status state %q", s.State), errors.TypeConfig)
	}
	return nil
}

// Notifier posts statuses.
type Notifier interface {
	Notify(ctx context.Context, status Status) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, status Status) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, status Status) error {
	return f(ctx, status)
}

// Nop drops every status.
var Nop Notifier = NotifierFunc(func(context.Context, Status) error { return nil })

// Config configures commit status notifications.
type Config struct {
	Enabled bool `config:"enabled"`
	// Repository is "owner/name". Default is derived from the build
	// repository URL.
	Repository string `config:"repository"`
	Token      string `config:"token"`
	Attempts   int    `config:"attempts"`

	GitHub remote.Config `config:"github"`
}

// DefaultConfig returns notifications disabled, with the public GitHub API.
func DefaultConfig() Config {
	return Config{
		Attempts: 3,
		GitHub:   remote.DefaultClientConfig(),
	}
}
