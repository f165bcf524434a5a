// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/buildcontext"
	"github.com/elastic/ci-orchestrator/pkg/core/logger/loggertest"
)

var (
	uiBuild      = buildcontext.Context{PipelineSlug: "elastic-agent-package", BuildSource: buildcontext.SourceUI, Branch: "main"}
	webhookBuild = buildcontext.Context{PipelineSlug: "elastic-agent-package", BuildSource: "webhook", Branch: "main"}
)

func baseDefinition() Definition {
	return Definition{
		Env: map[string]string{"ASDF_MAGE_VERSION": "1.15.0"},
		Inputs: []InputParameter{
			{
				Key:    "platforms",
				Prompt: "Platforms to package",
				Options: []Option{
					{Label: "Linux", Value: "linux"},
					{Label: "All", Value: "all"},
				},
				Default: "linux",
			},
			{Key: "version_qualifier", Prompt: "Version qualifier"},
		},
		Steps: []StepSpec{
			{Key: "check", Label: "Check", Command: "make check-ci"},
			{Key: "package", Label: "Package", Command: "mage package", DependsOn: []string{"check"}},
		},
	}
}

func fragmentGenerator(calls *int, frag Fragment) Generator {
	return GeneratorFunc(func(_ context.Context, req Request) (Fragment, error) {
		*calls++
		return frag, nil
	})
}

func TestExpandUIWithoutSubmissionAwaitsInput(t *testing.T) {
	log, _ := loggertest.New("pipeline")
	calls := 0
	exp, err := Expand(context.Background(), log, fragmentGenerator(&calls, Fragment{}), baseDefinition(), nil, uiBuild)
	require.NoError(t, err)

	assert.Equal(t, AwaitingInput, exp.State)
	assert.Empty(t, exp.Steps)
	assert.Zero(t, calls, "generator must not run before inputs are submitted")
}

func TestExpandSubmitTransitionsToExpanded(t *testing.T) {
	log, _ := loggertest.New("pipeline")
	var got Request
	gen := GeneratorFunc(func(_ context.Context, req Request) (Fragment, error) {
		got = req
		return Fragment{
			Env: map[string]string{"PLATFORMS": req.Inputs["platforms"]},
			Steps: []StepSpec{
				{Key: "package-all", Command: "mage package:all", DependsOn: []string{"check"}},
			},
		}, nil
	})

	e, err := NewExpander(log, gen, baseDefinition(), uiBuild)
	require.NoError(t, err)

	exp, err := e.Expand(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, AwaitingInput, exp.State)

	exp, err = e.Submit(context.Background(), Inputs{"platforms": "all"})
	require.NoError(t, err)

	assert.Equal(t, Expanded, exp.State)
	assert.Equal(t, Expanded, e.State())
	assert.Equal(t, map[string]string{"platforms": "all"}, got.Inputs)
	assert.Equal(t, uiBuild, got.Build)
	assert.Equal(t, []string{"check", "package", "package-all"}, Definition{Steps: exp.Steps}.StepKeys())
	assert.Equal(t, map[string]string{"ASDF_MAGE_VERSION": "1.15.0", "PLATFORMS": "all"}, exp.Env)

	_, err = e.Submit(context.Background(), Inputs{})
	assert.True(t, errors.IsType(err, errors.TypeConfig), "expanded is terminal")
	assert.ErrorIs(t, err, ErrState)
}

func TestExpandNonUIUsesDefaults(t *testing.T) {
	log, _ := loggertest.New("pipeline")
	calls := 0
	exp, err := Expand(context.Background(), log, fragmentGenerator(&calls, Fragment{}), baseDefinition(), nil, webhookBuild)
	require.NoError(t, err)

	assert.Equal(t, Expanded, exp.State)
	assert.Equal(t, 1, calls)
	assert.Equal(t, map[string]string{"platforms": "linux"}, exp.Inputs)
	assert.Len(t, exp.Steps, 2)
}

func TestExpandGeneratorFailure(t *testing.T) {
	log, obs := loggertest.New("pipeline")
	gen := GeneratorFunc(func(context.Context, Request) (Fragment, error) {
		return Fragment{}, NewGeneratorError(nil, 3, "error: unknown project \"x-pack/foo\"\n")
	})

	exp, err := Expand(context.Background(), log, gen, baseDefinition(), nil, webhookBuild)
	require.Error(t, err)

	assert.Equal(t, Failed, exp.State)
	assert.Empty(t, exp.Steps, "no partial pipeline is scheduled")
	code, ok := GeneratorExitCode(err)
	require.True(t, ok)
	assert.Equal(t, 3, code)
	assert.True(t, errors.IsType(err, errors.TypeApplication))
	assert.Contains(t, errors.Reason(err), "exit_code=3")
	assert.Contains(t, errors.Reason(err), "error: unknown project \"x-pack/foo\"\n")
	assert.Equal(t, 1, obs.FilterMessage("Pipeline expansion failed").Len())
}

func TestExpandUntypedGeneratorErrorIsGeneratorError(t *testing.T) {
	log, _ := loggertest.New("pipeline")
	gen := GeneratorFunc(func(context.Context, Request) (Fragment, error) {
		return Fragment{}, assert.AnError
	})

	_, err := Expand(context.Background(), log, gen, baseDefinition(), nil, webhookBuild)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerator)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestExpandInvalidGeneratedSteps(t *testing.T) {
	log, _ := loggertest.New("pipeline")
	calls := 0
	gen := fragmentGenerator(&calls, Fragment{Steps: []StepSpec{{Key: "check", Command: "true"}}})

	exp, err := Expand(context.Background(), log, gen, baseDefinition(), nil, webhookBuild)
	require.Error(t, err)
	assert.Equal(t, Failed, exp.State)
	assert.Empty(t, exp.Steps)
	assert.True(t, errors.IsType(err, errors.TypeConfig))
}

func TestExpandInputValidation(t *testing.T) {
	required := baseDefinition()
	required.Inputs = append(required.Inputs, InputParameter{Key: "release", Required: true})

	testCases := map[string]struct {
		def    Definition
		inputs Inputs
	}{
		"value not among options": {def: baseDefinition(), inputs: Inputs{"platforms": "windows"}},
		"unknown parameter":       {def: baseDefinition(), inputs: Inputs{"arch": "arm64"}},
		"missing required value":  {def: required, inputs: Inputs{}},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			log, _ := loggertest.New("pipeline")
			exp, err := Expand(context.Background(), log, nil, tc.def, tc.inputs, webhookBuild)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.TypeConfig))
			assert.Equal(t, Failed, exp.State)
			assert.Empty(t, exp.Steps)
		})
	}
}

func TestExpandInvalidBaseDefinition(t *testing.T) {
	log, _ := loggertest.New("pipeline")
	def := baseDefinition()
	def.Steps = append(def.Steps, StepSpec{Key: "package", Command: "true"})

	exp, err := Expand(context.Background(), log, nil, def, nil, webhookBuild)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.TypeConfig))
	assert.Equal(t, Failed, exp.State)
}

func TestExpandSelectsStepsOnInputs(t *testing.T) {
	log, _ := loggertest.New("pipeline")
	def := baseDefinition()
	def.Steps = append(def.Steps,
		StepSpec{Key: "package-windows", Command: "mage package:windows", When: map[string]string{"platforms": "all"}},
		StepSpec{Key: "publish", Command: "mage publish", DependsOn: []string{"package", "package-windows"}},
	)

	exp, err := Expand(context.Background(), log, nil, def, Inputs{"platforms": "linux"}, webhookBuild)
	require.NoError(t, err)
	assert.Equal(t, []string{"check", "package", "publish"}, Definition{Steps: exp.Steps}.StepKeys())
	assert.Equal(t, []string{"package"}, exp.Steps[2].DependsOn)

	exp, err = Expand(context.Background(), log, nil, def, Inputs{"platforms": "all"}, webhookBuild)
	require.NoError(t, err)
	assert.Equal(t, []string{"check", "package", "package-windows", "publish"}, Definition{Steps: exp.Steps}.StepKeys())
}

func TestExpandDoesNotModifyBase(t *testing.T) {
	log, _ := loggertest.New("pipeline")
	def := baseDefinition()
	gen := GeneratorFunc(func(context.Context, Request) (Fragment, error) {
		return Fragment{Env: map[string]string{"ASDF_MAGE_VERSION": "1.16.0"}}, nil
	})

	exp, err := Expand(context.Background(), log, gen, def, Inputs{}, webhookBuild)
	require.NoError(t, err)
	assert.Equal(t, "1.16.0", exp.Env["ASDF_MAGE_VERSION"])
	assert.Equal(t, "1.15.0", def.Env["ASDF_MAGE_VERSION"])

	exp.Steps[0].Command = "rm -rf /"
	assert.Equal(t, baseDefinition(), def)
}

func TestConcurrentSubmit(t *testing.T) {
	log, _ := loggertest.New("pipeline")
	calls := 0
	e, err := NewExpander(log, fragmentGenerator(&calls, Fragment{}), baseDefinition(), uiBuild)
	require.NoError(t, err)
	_, err = e.Expand(context.Background(), nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Submit(context.Background(), Inputs{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, calls)
}
