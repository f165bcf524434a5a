// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

// Package generator holds the pipeline generators: an external executable
// and the built-in per-project generator.
package generator

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/environment"
	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/buildcontext"
	"github.com/elastic/ci-orchestrator/internal/pkg/pipeline"
	"github.com/elastic/ci-orchestrator/pkg/core/logger"
	"github.com/elastic/ci-orchestrator/pkg/core/process"
	"github.com/elastic/ci-orchestrator/pkg/core/retry"
)

// InputEnvPrefix prefixes the variables holding the resolved inputs.
const InputEnvPrefix = "CI_INPUT_"

// ExecConfig configures an external generator.
type ExecConfig struct {
	Path     string   `config:"path"`
	Args     []string `config:"args"`
	Dir      string   `config:"dir"`
	Attempts int      `config:"attempts"`
}

// Check checks the configuration of a selected exec generator.
func (c ExecConfig) Check() error {
	if c.Path == "" {
		return errors.New("generator path is required", errors.TypeConfig)
	}
	if c.Attempts < 0 {
		return errors.New(fmt.Sprintf("invalid generator attempts %d", c.Attempts), errors.TypeConfig)
	}
	return nil
}

// Exec runs an executable that writes a pipeline fragment on stdout.
type Exec struct {
	log     *logger.Logger
	cfg     ExecConfig
	retrier *retry.Executor
	base    environment.Map
}

// NewExec creates an external generator. base is the environment the
// generator inherits, a nil base inherits nothing but the inputs and the
// build metadata.
func NewExec(log *logger.Logger, cfg ExecConfig, retrier *retry.Executor, base environment.Map) (*Exec, error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	if retrier == nil {
		retrier = retry.New(nil)
	}
	return &Exec{log: log, cfg: cfg, retrier: retrier, base: base}, nil
}

// Generate implements pipeline.Generator. A non-zero exit is a generator
// error carrying the exit code and stderr.
func (g *Exec) Generate(ctx context.Context, req pipeline.Request) (pipeline.Fragment, error) {
	cmd := process.Command{
		Path: g.cfg.Path,
		Args: g.cfg.Args,
		Dir:  g.cfg.Dir,
		Env:  Environment(g.base, req).Environ(),
	}

	g.log.Infow("Running generator", "command", cmd.String(), "inputs", len(req.Inputs))
	out, err := g.retrier.RunWithRetry(ctx, cmd, g.cfg.Attempts)
	if err != nil {
		code, ok := process.ExitCode(err)
		if !ok {
			code = -1
		}
		return pipeline.Fragment{}, pipeline.NewGeneratorError(err, code, diagnostic(out))
	}

	frag, err := pipeline.ParseFragment(out.Stdout)
	if err != nil {
		return pipeline.Fragment{}, pipeline.NewGeneratorError(fmt.Errorf("invalid pipeline fragment: %w", err), 0, string(out.Stdout))
	}
	return frag, nil
}

// Environment returns the environment of a generator run: base, the build
// metadata and one CI_INPUT_<KEY> variable per resolved input.
func Environment(base environment.Map, req pipeline.Request) environment.Map {
	env := base.Clone()
	b := req.Build
	for k, v := range map[string]string{
		buildcontext.EnvPipelineSlug: b.PipelineSlug,
		buildcontext.EnvSource:       b.BuildSource,
		buildcontext.EnvBranch:       b.Branch,
		buildcontext.EnvCommit:       b.Commit,
		buildcontext.EnvBuildID:      b.BuildID,
	} {
		if v != "" {
			env[k] = v
		}
	}
	for k, v := range req.Inputs {
		env[InputEnvName(k)] = v
	}
	return env
}

// InputEnvName maps an input key to its variable, "version-qualifier"
// becomes CI_INPUT_VERSION_QUALIFIER.
func InputEnvName(key string) string {
	return InputEnvPrefix + strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, key)
}

func diagnostic(out process.Output) string {
	if len(out.Stderr) > 0 {
		return string(out.Stderr)
	}
	return string(out.Stdout)
}
