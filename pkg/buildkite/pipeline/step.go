// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package pipeline

// Agent is the agent selector of a command step.
type Agent map[string]string

// Agent providers.
const (
	ProviderGCP  = "gcp"
	ProviderAWS  = "aws"
	ProviderOrka = "orka"
)

// GCPAgent selects a GCP agent booted from image.
func GCPAgent(image string) Agent {
	return Agent{"provider": ProviderGCP, "image": image}
}

// AWSAgent selects an AWS agent booted from the newest image starting with
// imagePrefix.
func AWSAgent(imagePrefix, instanceType string) Agent {
	a := Agent{"provider": ProviderAWS, "imagePrefix": imagePrefix}
	if instanceType != "" {
		a["instanceType"] = instanceType
	}
	return a
}

// OrkaAgent selects a macOS agent.
func OrkaAgent(imagePrefix string) Agent {
	return Agent{"provider": ProviderOrka, "imagePrefix": imagePrefix}
}

// GithubCommitStatus is the github_commit_status notification.
type GithubCommitStatus struct {
	Context string `yaml:"context"`
}

// Notify is one notification of a step.
type Notify struct {
	GithubCommitStatus *GithubCommitStatus `yaml:"github_commit_status,omitempty"`
}

// CommandStep runs a command on an agent.
type CommandStep struct {
	Label     string            `yaml:"label,omitempty"`
	Key       string            `yaml:"key,omitempty"`
	Command   string            `yaml:"command"`
	If        string            `yaml:"if,omitempty"`
	Branches  string            `yaml:"branches,omitempty"`
	DependsOn []string          `yaml:"depends_on,omitempty"`
	Agents    Agent             `yaml:"agents,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	Notify    []Notify          `yaml:"notify,omitempty"`
}

// GroupStep groups command steps under one label.
type GroupStep struct {
	Group     string         `yaml:"group"`
	Key       string         `yaml:"key,omitempty"`
	DependsOn []string       `yaml:"depends_on,omitempty"`
	Notify    []Notify       `yaml:"notify,omitempty"`
	Steps     []*CommandStep `yaml:"steps"`
}

// SelectOption is an option of a select field.
type SelectOption struct {
	Label string `yaml:"label"`
	Value string `yaml:"value"`
}

// Field is a text or select field of an input step.
type Field struct {
	Text     string         `yaml:"text,omitempty"`
	Select   string         `yaml:"select,omitempty"`
	Key      string         `yaml:"key"`
	Hint     string         `yaml:"hint,omitempty"`
	Default  string         `yaml:"default,omitempty"`
	Required *bool          `yaml:"required,omitempty"`
	Options  []SelectOption `yaml:"options,omitempty"`
}

// InputStep asks the person running the build for values. They are stored as
// build meta-data under the field keys.
type InputStep struct {
	Input  string  `yaml:"input"`
	Key    string  `yaml:"key,omitempty"`
	If     string  `yaml:"if,omitempty"`
	Fields []Field `yaml:"fields,omitempty"`
}

// WaitStep waits for the previous steps to finish.
type WaitStep struct {
	If string
}

// MarshalYAML renders an unconditional wait as the "wait" shorthand.
func (w WaitStep) MarshalYAML() (interface{}, error) {
	if w.If == "" {
		return "wait", nil
	}
	return map[string]interface{}{"wait": nil, "if": w.If}, nil
}

// Command creates a new command step with the given label and command.
func Command(label, command string) *CommandStep {
	return &CommandStep{Label: label, Command: command}
}

// CommandWithKey creates a new command step with label, key, and command.
func CommandWithKey(label, key, command string) *CommandStep {
	return &CommandStep{Label: label, Key: key, Command: command}
}

// GroupWithKey creates a new group step with label and key.
func GroupWithKey(label, key string) *GroupStep {
	return &GroupStep{Group: label, Key: key}
}

// Input creates a new input step with the given prompt.
func Input(prompt string) *InputStep {
	return &InputStep{Input: prompt}
}

// SetAgent sets the agent configuration on a command step.
func SetAgent(step *CommandStep, agent Agent) *CommandStep {
	if len(agent) == 0 {
		step.Agents = nil
		return step
	}
	step.Agents = make(Agent, len(agent))
	for k, v := range agent {
		step.Agents[k] = v
	}
	return step
}

// SetEnv sets environment variables on a command step.
func SetEnv(step *CommandStep, env map[string]string) *CommandStep {
	if len(env) == 0 {
		step.Env = nil
		return step
	}
	step.Env = make(map[string]string, len(env))
	for k, v := range env {
		step.Env[k] = v
	}
	return step
}

// AddEnv adds a single environment variable to a command step.
func AddEnv(step *CommandStep, key, value string) *CommandStep {
	if step.Env == nil {
		step.Env = make(map[string]string)
	}
	step.Env[key] = value
	return step
}

// SetIf sets a conditional expression on a command step.
func SetIf(step *CommandStep, condition string) *CommandStep {
	step.If = condition
	return step
}

// SetBranches sets branch filter on a command step.
func SetBranches(step *CommandStep, branches string) *CommandStep {
	step.Branches = branches
	return step
}

// SetDependsOn sets step dependencies on a command step.
func SetDependsOn(step *CommandStep, keys ...string) *CommandStep {
	step.DependsOn = append([]string(nil), keys...)
	return step
}

// SetNotify adds a GitHub commit status notification on a command step.
func SetNotify(step *CommandStep, context string) *CommandStep {
	step.Notify = append(step.Notify, Notify{GithubCommitStatus: &GithubCommitStatus{Context: context}})
	return step
}

// AddGroupStep adds a command step to a group.
func AddGroupStep(group *GroupStep, step *CommandStep) *GroupStep {
	group.Steps = append(group.Steps, step)
	return group
}

// SetGroupDependsOn sets dependencies on a group step.
func SetGroupDependsOn(group *GroupStep, keys ...string) *GroupStep {
	group.DependsOn = append([]string(nil), keys...)
	return group
}

// AddInputField adds a text field to an input step.
func AddInputField(input *InputStep, label, key, defaultVal, hint string, required bool) *InputStep {
	input.Fields = append(input.Fields, Field{
		Text:     label,
		Key:      key,
		Default:  defaultVal,
		Hint:     hint,
		Required: Ptr(required),
	})
	return input
}

// AddSelectField adds a select field to an input step.
func AddSelectField(input *InputStep, label, key, defaultVal, hint string, required bool, options ...SelectOption) *InputStep {
	input.Fields = append(input.Fields, Field{
		Select:   label,
		Key:      key,
		Default:  defaultVal,
		Hint:     hint,
		Required: Ptr(required),
		Options:  append([]SelectOption(nil), options...),
	})
	return input
}

// SetInputIf sets a conditional expression on an input step.
func SetInputIf(input *InputStep, condition string) *InputStep {
	input.If = condition
	return input
}

// WaitIf creates a conditional wait step.
func WaitIf(condition string) *WaitStep {
	return &WaitStep{If: condition}
}
