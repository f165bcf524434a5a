// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package hooks

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/buildcontext"
)

// Predicate is a pure function of the build context.
type Predicate interface {
	Match(bctx buildcontext.Context) bool
}

// PredicateFunc adapts a function to a Predicate.
type PredicateFunc func(bctx buildcontext.Context) bool

func (f PredicateFunc) Match(bctx buildcontext.Context) bool {
	return f(bctx)
}

type patterns []glob.Glob

func compilePatterns(field string, in []string) (patterns, error) {
	out := make(patterns, 0, len(in))
	for _, p := range in {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, errors.New(err, fmt.Sprintf("invalid %s pattern %q", field, p), errors.TypeConfig)
		}
		out = append(out, g)
	}
	return out, nil
}

func (p patterns) match(s string) bool {
	if len(p) == 0 {
		return true
	}
	for _, g := range p {
		if g.Match(s) {
			return true
		}
	}
	return false
}

type globPredicate struct {
	pipelines patterns
	steps     patterns
	sources   patterns
	branches  patterns
}

// CompilePredicate compiles the patterns of cfg.
func CompilePredicate(cfg PredicateConfig) (Predicate, error) {
	var p globPredicate
	var err error
	if p.pipelines, err = compilePatterns("pipeline", cfg.Pipelines); err != nil {
		return nil, err
	}
	if p.steps, err = compilePatterns("step", cfg.Steps); err != nil {
		return nil, err
	}
	if p.sources, err = compilePatterns("source", cfg.Sources); err != nil {
		return nil, err
	}
	if p.branches, err = compilePatterns("branch", cfg.Branches); err != nil {
		return nil, err
	}
	return p, nil
}

func (p globPredicate) Match(bctx buildcontext.Context) bool {
	return p.pipelines.match(bctx.PipelineSlug) &&
		p.steps.match(bctx.StepKey) &&
		p.sources.match(bctx.BuildSource) &&
		p.branches.match(bctx.Branch)
}
