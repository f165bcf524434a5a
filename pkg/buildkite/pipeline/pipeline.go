// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package pipeline

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

// SchemaComment is the first line of every rendered pipeline.
const SchemaComment = "# yaml-language-server: $schema=https://raw.githubusercontent.com/buildkite/pipeline-schema/main/schema.json\n"

// Pipeline is a Buildkite pipeline document.
type Pipeline struct {
	env   map[string]string
	steps []interface{}
}

type document struct {
	Env   map[string]string `yaml:"env,omitempty"`
	Steps []interface{}     `yaml:"steps"`
}

// New creates a new pipeline.
func New() *Pipeline {
	return &Pipeline{}
}

// Env adds an environment variable to the pipeline.
func (p *Pipeline) Env(key, value string) *Pipeline {
	if p.env == nil {
		p.env = make(map[string]string)
	}
	p.env[key] = value
	return p
}

// EnvMap adds multiple environment variables to the pipeline.
func (p *Pipeline) EnvMap(env map[string]string) *Pipeline {
	for k, v := range env {
		p.Env(k, v)
	}
	return p
}

// Add adds a step to the pipeline. It accepts CommandStep, GroupStep,
// InputStep or WaitStep.
func (p *Pipeline) Add(step interface{}) *Pipeline {
	switch s := step.(type) {
	case *CommandStep, *GroupStep, *InputStep, *WaitStep:
		p.steps = append(p.steps, s)
	default:
		panic(fmt.Sprintf("unsupported step type: %T", step))
	}
	return p
}

// Wait adds a wait step to the pipeline.
func (p *Pipeline) Wait() *Pipeline {
	return p.Add(&WaitStep{})
}

// Len returns the number of top level steps.
func (p *Pipeline) Len() int {
	return len(p.steps)
}

// MarshalYAML marshals the pipeline to YAML bytes with the schema comment.
func (p *Pipeline) MarshalYAML() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(SchemaComment)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	steps := p.steps
	if steps == nil {
		steps = []interface{}{}
	}
	if err := enc.Encode(document{Env: p.env, Steps: steps}); err != nil {
		return nil, fmt.Errorf("marshaling pipeline to YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("marshaling pipeline to YAML: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteYAML writes the pipeline to a file.
func (p *Pipeline) WriteYAML(path string) error {
	data, err := p.MarshalYAML()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Ptr is a helper to convert a value to a pointer.
func Ptr[T any](v T) *T {
	return &v
}

// CompareResult contains the result of comparing two pipelines.
type CompareResult struct {
	Equal     bool
	Diff      string
	Generated string
	Expected  string
}

// CompareWithFile compares a generated pipeline with an existing YAML file.
func CompareWithFile(p *Pipeline, path string) (*CompareResult, error) {
	generated, err := p.MarshalYAML()
	if err != nil {
		return nil, fmt.Errorf("marshaling generated pipeline: %w", err)
	}

	expected, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading expected file %s: %w", path, err)
	}

	return Compare(generated, expected), nil
}

// Compare compares two YAML representations of pipelines line by line,
// ignoring leading and trailing whitespace.
func Compare(generated, expected []byte) *CompareResult {
	result := &CompareResult{
		Generated: string(generated),
		Expected:  string(expected),
	}

	genLines := strings.Split(strings.TrimSpace(string(generated)), "\n")
	expLines := strings.Split(strings.TrimSpace(string(expected)), "\n")
	result.Diff = cmp.Diff(expLines, genLines)
	result.Equal = result.Diff == ""
	return result
}
