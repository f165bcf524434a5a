// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package cmd

import (
	"context"
	"io"
	"os"
	"time"

	"go.elastic.co/apm/v2"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/configuration"
	"github.com/elastic/ci-orchestrator/internal/pkg/agent/environment"
	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/agent/hooks"
	"github.com/elastic/ci-orchestrator/internal/pkg/buildcontext"
	"github.com/elastic/ci-orchestrator/internal/pkg/notify"
	"github.com/elastic/ci-orchestrator/internal/pkg/pipeline"
	"github.com/elastic/ci-orchestrator/internal/pkg/redact"
	"github.com/elastic/ci-orchestrator/internal/pkg/release"
	"github.com/elastic/ci-orchestrator/internal/pkg/secret"
	"github.com/elastic/ci-orchestrator/pkg/core/logger"
	"github.com/elastic/ci-orchestrator/pkg/core/process"
	"github.com/elastic/ci-orchestrator/pkg/core/retry"
)

const (
	serviceName   = "ci-orchestrator"
	notifyTimeout = 30 * time.Second
)

// engine holds the components shared by the commands, built once from the
// configuration.
type engine struct {
	cfg     *configuration.Configuration
	log     *logger.Logger
	tracer  *apm.Tracer
	runner  process.Runner
	retrier *retry.Executor
	masker  *redact.Masker
	table   *hooks.Table
	lookup  buildcontext.LookupFunc
}

func newEngine(diagnostics io.Writer, configPaths ...string) (*engine, error) {
	cfg, err := configuration.NewFromFile(configPaths...)
	if err != nil {
		return nil, err
	}

	log, err := logger.NewFromConfig("", cfg.Logging)
	if err != nil {
		return nil, errors.New(err, "failed to initialize logging", errors.TypeConfig)
	}

	tracer, err := initTracer(serviceName, release.Version(), cfg.APM)
	if err != nil {
		return nil, errors.New(err, "failed to initialize the APM tracer", errors.TypeConfig)
	}

	table, err := hooks.NewTable(log, cfg.Hooks)
	if err != nil {
		return nil, err
	}

	runner := process.ExecRunner{}
	return &engine{
		cfg:     cfg,
		log:     log,
		tracer:  tracer,
		runner:  runner,
		retrier: retry.New(cfg.Retry, retry.WithRunner(runner), retry.WithDiagnostics(diagnostics)),
		masker:  redact.NewMasker(),
		table:   table,
	}, nil
}

// buildContext reads the build metadata of the running job.
func (e *engine) buildContext() buildcontext.Context {
	return buildcontext.FromEnv(e.lookup)
}

// binder opens the secret store and returns the binder of the step
// environment. The closer releases the store.
func (e *engine) binder(ctx context.Context) (*environment.Binder, io.Closer, error) {
	store, closer, err := configuration.NewStore(ctx, e.cfg.Secrets, e.runner)
	if err != nil {
		return nil, nil, err
	}
	resolver := secret.NewResolver(e.log, store, e.table,
		secret.WithRetrier(e.retrier),
		secret.WithMaxAttempts(e.cfg.Secrets.MaxAttempts),
		secret.WithMasker(e.masker))

	overrides, err := e.cfg.Overrides()
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	// the rule table exports come last, they are the most specific
	overrides = append(overrides, e.table)
	return environment.NewBinder(e.log, resolver, e.table, overrides...), closer, nil
}

// notifier returns the commit status notifier. Statuses are posted in the
// background, Wait flushes them.
func (e *engine) notifier(bctx buildcontext.Context) (*notify.Async, error) {
	var next notify.Notifier = notify.Nop
	if e.cfg.Notify.Enabled {
		gh, err := notify.NewGitHubFromConfig(e.log, *e.cfg.Notify, e.retrier, bctx.Repo)
		if err != nil {
			return nil, err
		}
		next = gh
	}
	return notify.NewAsync(e.log, next, notifyTimeout), nil
}

// expander loads the base definition and returns the expander of the build.
func (e *engine) expander(definition string, bctx buildcontext.Context) (*pipeline.Expander, error) {
	if definition == "" {
		definition = e.cfg.Generator.Definition
	}
	base, err := pipeline.LoadDefinition(definition)
	if err != nil {
		return nil, err
	}

	gen, err := configuration.NewGenerator(e.log, e.cfg.Generator, e.retrier, environment.FromEnviron(os.Environ()))
	if err != nil {
		return nil, err
	}
	return pipeline.NewExpander(e.log, gen, base, bctx)
}

func (e *engine) close() {
	if e.tracer != nil {
		e.tracer.Flush(nil)
		e.tracer.Close()
	}
}

// startTransaction starts the APM transaction of a command when tracing is
// enabled.
func (e *engine) startTransaction(ctx context.Context, name string, bctx buildcontext.Context) (context.Context, func(error)) {
	if e.tracer == nil {
		return ctx, func(error) {}
	}
	tx := e.tracer.StartTransaction(name, "ci")
	tx.Context.SetLabel("pipeline", bctx.PipelineSlug)
	tx.Context.SetLabel("step", bctx.StepKey)
	ctx = apm.ContextWithTransaction(ctx, tx)
	return ctx, func(err error) {
		if err != nil {
			if tx.Result == "" {
				tx.Result = "failure"
			}
			apm.CaptureError(ctx, err).Send()
		} else if tx.Result == "" {
			tx.Result = "success"
		}
		tx.End()
	}
}
