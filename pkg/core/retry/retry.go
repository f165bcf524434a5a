// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package retry

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/pkg/core/process"
)

// Operation is a unit of work retried by the Executor. attempt starts at 1.
type Operation func(attempt int) error

// Executor runs operations and external commands with bounded exponential
// backoff.
type Executor struct {
	config   Config
	runner   process.Runner
	diag     io.Writer
	newTimer func() backoff.Timer
}

// Option configures an Executor.
type Option func(*Executor)

// WithRunner sets the runner used by RunWithRetry.
func WithRunner(r process.Runner) Option {
	return func(e *Executor) {
		e.runner = r
	}
}

// WithDiagnostics sets the writer that receives one line per retry. On a CI
// agent this is the job log.
func WithDiagnostics(w io.Writer) Option {
	return func(e *Executor) {
		e.diag = w
	}
}

// WithTimer replaces the timer used to wait between attempts.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(e *Executor) {
		e.newTimer = newTimer
	}
}

// New creates an executor. A nil cfg uses DefaultConfig.
func New(cfg *Config, opts ...Option) *Executor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	e := &Executor{
		config: *cfg,
		runner: process.ExecRunner{},
		diag:   io.Discard,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the configuration of the executor.
func (e *Executor) Config() Config {
	return e.config
}

// WithDiagnostics returns a copy of the executor writing its retry lines to w.
func (e *Executor) WithDiagnostics(w io.Writer) *Executor {
	c := *e
	c.diag = w
	return &c
}

// RunWithRetry runs cmd until it exits with code zero or maxAttempts is
// exhausted, in which case the last failure is returned. A running command is
// never interrupted by ctx: cancellation is observed between attempts.
func (e *Executor) RunWithRetry(ctx context.Context, cmd process.Command, maxAttempts int) (process.Output, error) {
	var out process.Output
	err := e.Do(ctx, maxAttempts, func(int) error {
		var err error
		out, err = e.runner.Run(context.WithoutCancel(ctx), cmd)
		return err
	})
	return out, err
}

// Do calls op until it succeeds, returns a fatal error, or maxAttempts is
// exhausted. The wait after attempt n is Delay*2^(n-1) capped at MaxDelay.
func (e *Executor) Do(ctx context.Context, maxAttempts int, op Operation) error {
	if maxAttempts < 1 {
		return errors.New(fmt.Sprintf("invalid retry budget %d, at least one attempt is required", maxAttempts), errors.TypeConfig)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	attempt := 0
	var lastErr error
	operation := func() error {
		attempt++
		err := op(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if IsFatal(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		fmt.Fprintf(e.diag, "Retry %d/%d %s, retrying in %s.\n", attempt, maxAttempts, describe(err), wait)
	}

	if maxAttempts == 1 {
		// WithMaxRetries treats zero retries as unlimited.
		return op(1)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(e.backoff(), uint64(maxAttempts-1)), ctx)

	var err error
	if e.newTimer != nil {
		err = backoff.RetryNotifyWithTimer(operation, b, notify, e.newTimer())
	} else {
		err = backoff.RetryNotify(operation, b, notify)
	}
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return errors.Join(fmt.Errorf("retry aborted after attempt %d/%d: %w", attempt, maxAttempts, ctxErr), lastErr)
	}
	return err
}

func (e *Executor) backoff() *backoff.ExponentialBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.config.Delay
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = e.config.MaxDelay
	exp.MaxElapsedTime = 0
	exp.Reset()
	return exp
}

func describe(err error) string {
	if code, ok := process.ExitCode(err); ok {
		return fmt.Sprintf("exited %d", code)
	}
	return fmt.Sprintf("failed (%s)", errors.TypeOf(err))
}
