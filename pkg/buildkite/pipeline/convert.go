// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package pipeline

import (
	"github.com/elastic/ci-orchestrator/internal/pkg/buildcontext"
	plan "github.com/elastic/ci-orchestrator/internal/pkg/pipeline"
)

// FromSteps renders an expanded step list. Steps sharing a group key are
// rendered as one group placed where its first step appears.
func FromSteps(env map[string]string, steps []plan.StepSpec) *Pipeline {
	p := New().EnvMap(env)
	groups := make(map[string]*GroupStep)
	for _, s := range steps {
		cmd := commandStep(s)
		if s.GroupKey == "" {
			p.Add(cmd)
			continue
		}
		g, ok := groups[s.GroupKey]
		if !ok {
			label := s.Group
			if label == "" {
				label = s.GroupKey
			}
			g = GroupWithKey(label, s.GroupKey)
			groups[s.GroupKey] = g
			p.Add(g)
		}
		AddGroupStep(g, cmd)
	}
	return p
}

func commandStep(s plan.StepSpec) *CommandStep {
	step := CommandWithKey(s.DisplayLabel(), s.Key, s.Command)
	SetAgent(step, Agent(s.Agents))
	SetEnv(step, s.Env)
	SetIf(step, s.If)
	SetBranches(step, s.Branches)
	if len(s.DependsOn) > 0 {
		SetDependsOn(step, s.DependsOn...)
	}
	for _, c := range s.Notify {
		SetNotify(step, c)
	}
	return step
}

// InputStepFor renders the input parameters as an input step. Parameters
// with options become select fields, the others text fields.
func InputStepFor(prompt, key string, params []plan.InputParameter) *InputStep {
	input := Input(prompt)
	input.Key = key
	for _, p := range params {
		label := p.Prompt
		if label == "" {
			label = p.Key
		}
		if len(p.Options) == 0 {
			AddInputField(input, label, p.Key, p.Default, "", p.Required)
			continue
		}
		options := make([]SelectOption, 0, len(p.Options))
		for _, o := range p.Options {
			options = append(options, SelectOption{Label: o.Label, Value: o.Value})
		}
		AddSelectField(input, label, p.Key, p.Default, "", p.Required, options...)
	}
	return input
}

// AwaitingInput renders the pipeline uploaded while a build waits for its
// inputs: the input step followed by the step that expands the pipeline
// once they are submitted.
func AwaitingInput(params []plan.InputParameter, expandCommand string, agent Agent) *Pipeline {
	const inputKey = "inputs"
	expand := CommandWithKey(":pipeline: Expand pipeline", "expand", expandCommand)
	SetAgent(expand, agent)
	SetDependsOn(expand, inputKey)
	AddEnv(expand, buildcontext.EnvInputsSubmitted, "true")
	return New().
		Add(InputStepFor("Build parameters", inputKey, params)).
		Add(expand)
}
