// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

// Package job runs a single build step surrounded by its hooks.
//
// The life cycle of a step is strictly sequential:
//
//	pre-command -> bind environment -> command -> post-command -> pre-exit
//
// The command never starts before its environment is bound. A failure of
// the pre-command phase skips the command and the post-command hooks, the
// pre-exit hooks always run.
package job

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"go.elastic.co/apm/v2"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/environment"
	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/agent/hooks"
	"github.com/elastic/ci-orchestrator/internal/pkg/buildcontext"
	"github.com/elastic/ci-orchestrator/internal/pkg/notify"
	"github.com/elastic/ci-orchestrator/internal/pkg/redact"
	"github.com/elastic/ci-orchestrator/pkg/core/logger"
	"github.com/elastic/ci-orchestrator/pkg/core/process"
	"github.com/elastic/ci-orchestrator/pkg/core/retry"
)

// EnvExitStatus is set for post-command and pre-exit scripts.
const EnvExitStatus = "BUILDKITE_COMMAND_EXIT_STATUS"

// DefaultShell runs commands and hook scripts.
var DefaultShell = []string{"/bin/bash", "-e", "-c"}

// Dispatcher selects the actions of an event.
type Dispatcher interface {
	Dispatch(ctx context.Context, event hooks.Event, bctx buildcontext.Context) []hooks.Action
}

// Binder computes the environment of a step.
type Binder interface {
	Bind(ctx context.Context, base environment.Map, bctx buildcontext.Context) (environment.Map, error)
}

// Step is one step to run. The command is bctx.Command.
type Step struct {
	Context buildcontext.Context
	// Env is the base environment. A nil Env is the environment of the
	// process.
	Env environment.Map
	Dir string
}

// Result is the outcome of a step.
type Result struct {
	StepKey  string
	ExitCode int
	Duration time.Duration
	// Skipped is set when the command did not run.
	Skipped bool
	// Actions lists the descriptions of the actions that ran, per event.
	Actions map[hooks.Event][]string
	Err     error
	// Reason is a human readable description of Err.
	Reason string
}

// Failed reports whether the step failed.
func (r Result) Failed() bool {
	return r.Err != nil || r.ExitCode != 0
}

// Runner runs steps.
type Runner struct {
	log        *logger.Logger
	dispatcher Dispatcher
	binder     Binder
	retrier    *retry.Executor
	masker     *redact.Masker

	runner   process.Runner
	notifier notify.Notifier
	shell    []string
	stdout   io.Writer
	stderr   io.Writer
}

// Option configures a Runner.
type Option func(*Runner)

// WithProcessRunner sets the runner of the step command.
func WithProcessRunner(r process.Runner) Option {
	return func(j *Runner) {
		j.runner = r
	}
}

// WithNotifier sets the notifier of notify actions.
func WithNotifier(n notify.Notifier) Option {
	return func(j *Runner) {
		j.notifier = n
	}
}

// WithShell sets the shell running commands and scripts.
func WithShell(shell ...string) Option {
	return func(j *Runner) {
		j.shell = append([]string(nil), shell...)
	}
}

// WithOutput sets the writers receiving the output of the step. Everything
// written is masked.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(j *Runner) {
		j.stdout = stdout
		j.stderr = stderr
	}
}

// New creates a runner. masker must be the masker the secret resolver
// registers values with.
func New(log *logger.Logger, dispatcher Dispatcher, binder Binder, retrier *retry.Executor, masker *redact.Masker, opts ...Option) *Runner {
	j := &Runner{
		log:        log,
		dispatcher: dispatcher,
		binder:     binder,
		retrier:    retrier,
		masker:     masker,
		runner:     process.ExecRunner{},
		notifier:   notify.Nop,
		shell:      DefaultShell,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// progress is the state of one running step.
type progress struct {
	step    Step
	bctx    buildcontext.Context
	env     environment.Map
	stdout  io.WriteCloser
	stderr  io.WriteCloser
	result  Result
	ran     bool
	retrier *retry.Executor
}

// Run runs step and its hooks. Run never panics on a step failure, the
// failure is described by the Result.
func (j *Runner) Run(ctx context.Context, step Step) Result {
	bctx := step.Context

	base := step.Env
	if base == nil {
		base = environment.FromEnviron(os.Environ())
	}

	s := &progress{
		step:   step,
		bctx:   bctx,
		env:    base,
		stdout: j.masker.Writer(j.stdout),
		stderr: j.masker.Writer(j.stderr),
		result: Result{StepKey: bctx.StepKey, Actions: map[hooks.Event][]string{}},
	}
	defer func() {
		_ = s.stdout.Close()
		_ = s.stderr.Close()
	}()
	s.retrier = j.retrier.WithDiagnostics(s.stderr)

	j.log.Infow("Running step", bctx.LogFields()...)
	started := time.Now()

	if err := j.preCommand(ctx, s); err != nil {
		s.result.Err = err
		s.result.Skipped = true
	} else {
		j.command(ctx, s)
		j.runHooks(ctx, s, hooks.PostCommand)
	}
	j.runHooks(ctx, s, hooks.PreExit)

	s.result.Duration = time.Since(started)
	s.result.Reason = errors.Reason(s.result.Err)
	if s.result.Err != nil {
		j.log.Errorw("Step failed", append(bctx.LogFields(), "error.message", s.result.Reason)...)
		if tx := apm.TransactionFromContext(ctx); tx != nil {
			tx.Result = "failure"
		}
	} else {
		j.log.Infow(fmt.Sprintf("Step finished with exit code %d", s.result.ExitCode), bctx.LogFields()...)
	}
	return s.result
}

func (j *Runner) preCommand(ctx context.Context, s *progress) error {
	actions := j.dispatcher.Dispatch(ctx, hooks.PreCommand, s.bctx)

	span, spanCtx := apm.StartSpan(ctx, "bind environment", "app.job")
	env, err := j.binder.Bind(spanCtx, s.env, s.bctx)
	span.End()
	if err != nil {
		return errors.New(err, "failed to bind the step environment", errors.M(errors.MetaKeyStep, s.bctx.StepKey))
	}
	s.env = env

	for _, a := range actions {
		s.record(hooks.PreCommand, a)
		if err := j.apply(ctx, s, a, notify.StatePending); err != nil {
			return err
		}
	}
	return nil
}

func (j *Runner) command(ctx context.Context, s *progress) {
	span, ctx := apm.StartSpan(ctx, "command", "app.job")
	defer span.End()

	cmd := j.shellCommand(s.bctx.Command, s)
	out, err := j.runner.Run(ctx, cmd)
	s.ran = true
	s.result.ExitCode = out.ExitCode
	if err != nil {
		if _, ok := process.ExitCode(err); !ok {
			s.result.ExitCode = -1
		}
		s.result.Err = errors.New(err, "step command failed",
			errors.M(errors.MetaKeyStep, s.bctx.StepKey),
			errors.M(errors.MetaKeyExitCode, s.result.ExitCode))
	}
}

// runHooks runs the post-command or pre-exit actions. Their failures are
// recorded on the result without hiding an earlier failure.
func (j *Runner) runHooks(ctx context.Context, s *progress, event hooks.Event) {
	st := notify.StateSuccess
	switch {
	case !s.ran:
		st = notify.StateError
	case s.result.Failed():
		st = notify.StateFailure
	}
	for _, a := range j.dispatcher.Dispatch(ctx, event, s.bctx) {
		s.record(event, a)
		if err := j.apply(ctx, s, a, st); err != nil && s.result.Err == nil {
			s.result.Err = err
		}
	}
}

func (j *Runner) apply(ctx context.Context, s *progress, a hooks.Action, st notify.State) error {
	switch a.Kind {
	case hooks.ActionBindEnv, hooks.ActionExport:
		// Applied by the binder.
		return nil
	case hooks.ActionScript:
		cmd := j.shellCommand(a.Script, s)
		if s.ran {
			env := environment.Merge(s.env, environment.Map{EnvExitStatus: strconv.Itoa(s.result.ExitCode)})
			cmd.Env = env.Environ()
		}
		if _, err := s.retrier.RunWithRetry(ctx, cmd, a.Attempts); err != nil {
			return errors.New(err, fmt.Sprintf("hook %q failed", a.Rule), errors.M(errors.MetaKeyStep, s.bctx.StepKey))
		}
		return nil
	case hooks.ActionNotify:
		_ = j.notifier.Notify(ctx, notify.Status{
			Context:     a.Context,
			State:       st,
			Description: describe(s, st),
			TargetURL:   s.bctx.BuildURL,
			Commit:      s.bctx.Commit,
		})
		return nil
	}
	return errors.New(fmt.Sprintf("unknown action %q", a.Kind), errors.TypeConfig)
}

func (j *Runner) shellCommand(script string, s *progress) process.Command {
	args := append(append([]string(nil), j.shell[1:]...), script)
	return process.Command{
		Path:   j.shell[0],
		Args:   args,
		Env:    s.env.Environ(),
		Dir:    s.step.Dir,
		Stdout: s.stdout,
		Stderr: s.stderr,
	}
}

func (s *progress) record(event hooks.Event, a hooks.Action) {
	s.result.Actions[event] = append(s.result.Actions[event], string(a.Kind)+" "+a.Rule)
}

func describe(s *progress, st notify.State) string {
	switch st {
	case notify.StatePending:
		return fmt.Sprintf("Step %s is running", s.bctx.StepKey)
	case notify.StateSuccess:
		return fmt.Sprintf("Step %s passed", s.bctx.StepKey)
	case notify.StateFailure:
		return fmt.Sprintf("Step %s failed with exit code %d", s.bctx.StepKey, s.result.ExitCode)
	}
	return fmt.Sprintf("Step %s did not run", s.bctx.StepKey)
}
