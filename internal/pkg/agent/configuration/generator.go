// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package configuration

import (
	"context"
	"fmt"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/environment"
	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/pipeline"
	"github.com/elastic/ci-orchestrator/internal/pkg/pipeline/generator"
	"github.com/elastic/ci-orchestrator/pkg/core/logger"
	"github.com/elastic/ci-orchestrator/pkg/core/retry"
)

// Generator types.
const (
	GeneratorNone     = "none"
	GeneratorExec     = "exec"
	GeneratorProjects = "projects"
)

// GeneratorConfig configures the pipeline expansion.
type GeneratorConfig struct {
	// Definition is the base pipeline definition.
	Definition string `config:"definition" yaml:"definition" json:"definition"`
	// Type selects the generator, none only expands the base definition.
	Type     string                   `config:"type" yaml:"type" json:"type"`
	Exec     generator.ExecConfig     `config:"exec" yaml:"exec" json:"exec"`
	Projects generator.ProjectsConfig `config:"projects" yaml:"projects" json:"projects"`
}

// DefaultGeneratorConfig expands .buildkite/pipeline.definition.yml with no
// generator.
func DefaultGeneratorConfig() *GeneratorConfig {
	return &GeneratorConfig{
		Definition: ".buildkite/pipeline.definition.yml",
		Type:       GeneratorNone,
	}
}

// Validate checks the generator type and its settings.
func (c *GeneratorConfig) Validate() error {
	switch c.Type {
	case GeneratorNone, GeneratorProjects:
		return nil
	case GeneratorExec:
		return c.Exec.Check()
	}
	return errors.New(fmt.Sprintf("unknown generator type %q", c.Type), errors.TypeConfig)
}

var noSteps = pipeline.GeneratorFunc(func(_ context.Context, _ pipeline.Request) (pipeline.Fragment, error) {
	return pipeline.Fragment{}, nil
})

// NewGenerator creates the configured generator. base is the environment an
// external generator inherits.
func NewGenerator(log *logger.Logger, cfg *GeneratorConfig, retrier *retry.Executor, base environment.Map) (pipeline.Generator, error) {
	switch cfg.Type {
	case GeneratorNone:
		return noSteps, nil
	case GeneratorExec:
		return generator.NewExec(log, cfg.Exec, retrier, base)
	case GeneratorProjects:
		return generator.NewProjects(log, cfg.Projects, retrier), nil
	}
	return nil, errors.New(fmt.Sprintf("unknown generator type %q", cfg.Type), errors.TypeConfig)
}
