// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
)

// Option is one selectable value of an input parameter.
type Option struct {
	Label string `yaml:"label"`
	Value string `yaml:"value"`
}

// InputParameter is a field presented to the person starting a build from
// the web interface.
type InputParameter struct {
	Key      string   `yaml:"key"`
	Prompt   string   `yaml:"prompt,omitempty"`
	Options  []Option `yaml:"options,omitempty"`
	Default  string   `yaml:"default,omitempty"`
	Required bool     `yaml:"required,omitempty"`
}

func (p InputParameter) allows(value string) bool {
	if len(p.Options) == 0 {
		return true
	}
	return slices.ContainsFunc(p.Options, func(o Option) bool { return o.Value == value })
}

// StepSpec is one schedulable unit of work. Values are copied, never
// modified in place.
type StepSpec struct {
	Key     string `yaml:"key"`
	Label   string `yaml:"label,omitempty"`
	Command string `yaml:"command"`

	// If and Branches are passed through to the scheduler.
	If       string `yaml:"if,omitempty"`
	Branches string `yaml:"branches,omitempty"`

	// When restricts the step to builds whose resolved inputs hold the
	// given values.
	When map[string]string `yaml:"when,omitempty"`

	DependsOn []string          `yaml:"depends_on,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	Agents    map[string]string `yaml:"agents,omitempty"`

	// Notify lists the GitHub commit status contexts updated by the step.
	Notify []string `yaml:"notify,omitempty"`

	Group    string `yaml:"group,omitempty"`
	GroupKey string `yaml:"group_key,omitempty"`
}

// DisplayLabel returns the label, or the key when no label is set.
func (s StepSpec) DisplayLabel() string {
	if s.Label != "" {
		return s.Label
	}
	return s.Key
}

func (s StepSpec) selected(inputs map[string]string) bool {
	for k, v := range s.When {
		if inputs[k] != v {
			return false
		}
	}
	return true
}

// Definition is an ordered list of steps with the pipeline level
// environment and the inputs the steps may depend on.
type Definition struct {
	Env    map[string]string `yaml:"env,omitempty"`
	Inputs []InputParameter  `yaml:"inputs,omitempty"`
	Steps  []StepSpec        `yaml:"steps"`
}

// Fragment is the output of a generator: steps and environment appended to
// the base definition.
type Fragment struct {
	Env   map[string]string `yaml:"env,omitempty"`
	Steps []StepSpec        `yaml:"steps"`
}

// Validate checks the definition is well formed. Any problem is a
// configuration error.
func (d Definition) Validate() error {
	keys := make(map[string]struct{}, len(d.Steps))
	for i, s := range d.Steps {
		if s.Key == "" {
			return configError(fmt.Sprintf("step %d has no key", i))
		}
		if s.Command == "" {
			return configError(fmt.Sprintf("step %q has no command", s.Key), errors.M(errors.MetaKeyStep, s.Key))
		}
		if _, ok := keys[s.Key]; ok {
			return configError(fmt.Sprintf("duplicate step key %q", s.Key), errors.M(errors.MetaKeyStep, s.Key))
		}
		keys[s.Key] = struct{}{}
	}
	for _, s := range d.Steps {
		for _, dep := range s.DependsOn {
			if _, ok := keys[dep]; !ok {
				return configError(fmt.Sprintf("step %q depends on unknown step %q", s.Key, dep), errors.M(errors.MetaKeyStep, s.Key))
			}
		}
	}
	if cycle := d.dependencyCycle(); cycle != nil {
		return configError(fmt.Sprintf("dependency cycle %s", strings.Join(cycle, " -> ")), errors.M(errors.MetaKeyStep, cycle[0]))
	}

	params := make(map[string]struct{}, len(d.Inputs))
	for i, p := range d.Inputs {
		if p.Key == "" {
			return configError(fmt.Sprintf("input %d has no key", i))
		}
		if _, ok := params[p.Key]; ok {
			return configError(fmt.Sprintf("duplicate input key %q", p.Key))
		}
		params[p.Key] = struct{}{}
		if p.Default != "" && !p.allows(p.Default) {
			return configError(fmt.Sprintf("default %q of input %q is not one of its options", p.Default, p.Key))
		}
	}
	return nil
}

// dependencyCycle returns the first depends_on cycle found, starting and
// ending on the same key, or nil. Dependencies must all be known steps.
func (d Definition) dependencyCycle() []string {
	deps := make(map[string][]string, len(d.Steps))
	for _, s := range d.Steps {
		deps[s.Key] = s.DependsOn
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(d.Steps))
	var path []string

	var visit func(key string) []string
	visit = func(key string) []string {
		switch state[key] {
		case done:
			return nil
		case visiting:
			for i, k := range path {
				if k == key {
					return append(append([]string(nil), path[i:]...), key)
				}
			}
		}
		state[key] = visiting
		path = append(path, key)
		for _, dep := range deps[key] {
			if cycle := visit(dep); cycle != nil {
				return cycle
			}
		}
		path = path[:len(path)-1]
		state[key] = done
		return nil
	}

	for _, s := range d.Steps {
		if cycle := visit(s.Key); cycle != nil {
			return cycle
		}
	}
	return nil
}

// StepKeys returns the keys of the steps in order.
func (d Definition) StepKeys() []string {
	keys := make([]string, 0, len(d.Steps))
	for _, s := range d.Steps {
		keys = append(keys, s.Key)
	}
	return keys
}

func (d Definition) clone() Definition {
	c := Definition{
		Env:    cloneMap(d.Env),
		Inputs: slices.Clone(d.Inputs),
		Steps:  make([]StepSpec, 0, len(d.Steps)),
	}
	for _, s := range d.Steps {
		c.Steps = append(c.Steps, s.clone())
	}
	return c
}

func (s StepSpec) clone() StepSpec {
	s.When = cloneMap(s.When)
	s.DependsOn = slices.Clone(s.DependsOn)
	s.Env = cloneMap(s.Env)
	s.Agents = cloneMap(s.Agents)
	s.Notify = slices.Clone(s.Notify)
	return s
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// LoadDefinition reads a base pipeline definition from a YAML file.
func LoadDefinition(path string) (Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return Definition{}, errors.New(err, "failed to open pipeline definition", errors.TypeFilesystem, errors.M(errors.MetaKeyPath, path))
	}
	defer f.Close()

	def, err := ReadDefinition(f)
	if err != nil {
		return Definition{}, errors.New(err, errors.M(errors.MetaKeyPath, path))
	}
	return def, nil
}

// ReadDefinition decodes a YAML pipeline definition. Unknown fields are
// rejected.
func ReadDefinition(r io.Reader) (Definition, error) {
	var def Definition
	if err := decodeStrict(r, &def); err != nil {
		return Definition{}, configError("invalid pipeline definition", err)
	}
	return def, nil
}

// ParseFragment decodes the YAML fragment written by a generator.
func ParseFragment(b []byte) (Fragment, error) {
	var frag Fragment
	if len(bytes.TrimSpace(b)) == 0 {
		return frag, nil
	}
	if err := decodeStrict(bytes.NewReader(b), &frag); err != nil {
		return Fragment{}, err
	}
	return frag, nil
}

func decodeStrict(r io.Reader, out interface{}) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Encode renders the definition in the format read by ReadDefinition.
func (d Definition) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
