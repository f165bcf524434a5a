// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

// Package environment computes the environment of a build step.
//
// The environment is built fresh for every step by merging, from the lowest
// to the highest precedence:
//   - the base environment inherited from the agent process,
//   - the static overrides of the pipeline,
//   - the secrets bound to the step.
//
// Merging only adds or overrides variables, nothing is ever removed.
package environment

import (
	"context"
	"fmt"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/buildcontext"
	"github.com/elastic/ci-orchestrator/internal/pkg/secret"
	"github.com/elastic/ci-orchestrator/pkg/core/logger"
)

// Binding binds the value of a secret to a variable.
type Binding struct {
	Name   string        `config:"name"`
	Handle secret.Handle `config:"secret"`
}

// BindingSource lists the secrets bound to a step, in precedence order.
type BindingSource interface {
	SecretBindings(bctx buildcontext.Context) []Binding
}

// Resolver resolves a secret handle for a step.
type Resolver interface {
	Resolve(ctx context.Context, bctx buildcontext.Context, h secret.Handle) (secret.Value, error)
}

// Binder computes step environments.
type Binder struct {
	log       *logger.Logger
	resolver  Resolver
	bindings  BindingSource
	overrides []OverrideSource
}

// NewBinder creates a binder. bindings may be nil when no secret is bound.
func NewBinder(log *logger.Logger, resolver Resolver, bindings BindingSource, overrides ...OverrideSource) *Binder {
	return &Binder{
		log:       log,
		resolver:  resolver,
		bindings:  bindings,
		overrides: overrides,
	}
}

// Bind returns the environment of the step described by bctx. base is never
// modified. When a single override or secret fails the whole bind fails and
// no environment is returned.
func (b *Binder) Bind(ctx context.Context, base Map, bctx buildcontext.Context) (Map, error) {
	env := base.Clone()

	for _, src := range b.overrides {
		m, err := src.Overrides(ctx, bctx)
		if err != nil {
			return nil, errors.New(err, "failed to load pipeline overrides", errors.M(errors.MetaKeyPipeline, bctx.PipelineSlug))
		}
		env = Merge(env, m)
	}

	if b.bindings == nil {
		return env, nil
	}

	bindings := b.bindings.SecretBindings(bctx)
	bound := make([]string, 0, len(bindings))
	for _, binding := range bindings {
		if binding.Name == "" {
			return nil, errors.New(fmt.Sprintf("secret %s is bound to an empty variable name", binding.Handle), errors.TypeConfig)
		}
		v, err := b.resolver.Resolve(ctx, bctx, binding.Handle)
		if err != nil {
			return nil, errors.New(err, fmt.Sprintf("failed to bind %s", binding.Name),
				errors.M(errors.MetaKeyPipeline, bctx.PipelineSlug),
				errors.M(errors.MetaKeyStep, bctx.StepKey))
		}
		env[binding.Name] = v.Reveal()
		bound = append(bound, binding.Name)
	}

	if len(bound) > 0 {
		b.log.Infow("Bound secrets to step environment", append(bctx.LogFields(), "env.names", bound)...)
	}
	return env, nil
}
