// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package environment

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/buildcontext"
)

// OverrideSource provides the pipeline scoped static variables of a step.
type OverrideSource interface {
	Overrides(ctx context.Context, bctx buildcontext.Context) (Map, error)
}

// OverrideSourceFunc adapts a function to an OverrideSource.
type OverrideSourceFunc func(ctx context.Context, bctx buildcontext.Context) (Map, error)

func (f OverrideSourceFunc) Overrides(ctx context.Context, bctx buildcontext.Context) (Map, error) {
	return f(ctx, bctx)
}

// PipelineEnv is the static environment of the pipelines matching Slug, a
// glob pattern.
type PipelineEnv struct {
	Slug string            `config:"slug"`
	Env  map[string]string `config:"env"`
}

type compiledPipelineEnv struct {
	slug glob.Glob
	env  Map
}

// StaticOverrides serves the pipeline environments of the configuration. All
// entries matching the pipeline apply, in declaration order.
type StaticOverrides struct {
	entries []compiledPipelineEnv
}

// NewStaticOverrides compiles the slug patterns of entries.
func NewStaticOverrides(entries []PipelineEnv) (*StaticOverrides, error) {
	s := &StaticOverrides{}
	for _, e := range entries {
		pattern := e.Slug
		if pattern == "" {
			pattern = "*"
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, errors.New(err, fmt.Sprintf("invalid pipeline pattern %q", e.Slug), errors.TypeConfig)
		}
		s.entries = append(s.entries, compiledPipelineEnv{slug: g, env: Map(e.Env).Clone()})
	}
	return s, nil
}

// Overrides implements OverrideSource.
func (s *StaticOverrides) Overrides(_ context.Context, bctx buildcontext.Context) (Map, error) {
	out := Map{}
	for _, e := range s.entries {
		if e.slug.Match(bctx.PipelineSlug) {
			out = Merge(out, e.env)
		}
	}
	return out, nil
}

// FileOverrides reads "<Dir>/<pipeline slug>.yml", a flat YAML mapping of
// variable names to values. A missing file is an empty environment.
type FileOverrides struct {
	Dir string
}

// Overrides implements OverrideSource.
func (f FileOverrides) Overrides(_ context.Context, bctx buildcontext.Context) (Map, error) {
	slug := bctx.PipelineSlug
	if slug == "" {
		return Map{}, nil
	}
	if strings.ContainsAny(slug, `/\`) || strings.Contains(slug, "..") {
		return nil, errors.New(fmt.Sprintf("invalid pipeline slug %q", slug), errors.TypeConfig)
	}

	path := filepath.Join(f.Dir, slug+".yml")
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Map{}, nil
		}
		return nil, errors.New(err, "failed to read pipeline environment", errors.TypeFilesystem, errors.M(errors.MetaKeyPath, path))
	}

	var m map[string]string
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, errors.New(err, "invalid pipeline environment file", errors.TypeConfig, errors.M(errors.MetaKeyPath, path))
	}
	return Map(m), nil
}
