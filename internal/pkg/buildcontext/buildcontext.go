// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

// Package buildcontext holds the read-only build metadata exposed by the CI
// agent. It is read once at the edge of the program and passed explicitly to
// every component afterwards.
package buildcontext

import (
	"os"
	"strings"
)

// Environment variables read by FromEnv.
const (
	EnvPipelineSlug          = "BUILDKITE_PIPELINE_SLUG"
	EnvStepKey               = "BUILDKITE_STEP_KEY"
	EnvSource                = "BUILDKITE_SOURCE"
	EnvBranch                = "BUILDKITE_BRANCH"
	EnvCommit                = "BUILDKITE_COMMIT"
	EnvCommand               = "BUILDKITE_COMMAND"
	EnvBuildID               = "BUILDKITE_BUILD_ID"
	EnvBuildURL              = "BUILDKITE_BUILD_URL"
	EnvRepo                  = "BUILDKITE_REPO"
	EnvPullRequest           = "BUILDKITE_PULL_REQUEST"
	EnvPullRequestBaseBranch = "BUILDKITE_PULL_REQUEST_BASE_BRANCH"
	EnvPRTriggerComment      = "GITHUB_PR_TRIGGER_COMMENT"
	EnvPRLabels              = "GITHUB_PR_LABELS"

	// EnvInputsSubmitted is set on the expand step that follows the input
	// step, once the parameters were submitted.
	EnvInputsSubmitted = "CI_INPUTS_SUBMITTED"
)

// SourceUI is the build source of builds started from the web interface.
const SourceUI = "ui"

// LookupFunc resolves a single variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// PullRequest describes the pull request a build runs for.
type PullRequest struct {
	Number         string
	BaseBranch     string
	TriggerComment string
	Labels         []string
}

// HasLabel reports whether the pull request carries label.
func (p *PullRequest) HasLabel(label string) bool {
	if p == nil {
		return false
	}
	for _, l := range p.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Context is the immutable metadata of the running build.
type Context struct {
	PipelineSlug string
	StepKey      string
	BuildSource  string
	Branch       string
	Commit       string
	Command      string
	BuildID      string
	BuildURL     string
	Repo         string

	// PullRequest is nil when the build does not run for a pull request.
	PullRequest *PullRequest

	// InputsSubmitted reports the input step of the build was submitted,
	// even when every field was left blank.
	InputsSubmitted bool
}

// FromEnv reads the build context through lookup. A nil lookup reads the
// process environment.
func FromEnv(lookup LookupFunc) Context {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	c := Context{
		PipelineSlug: get(EnvPipelineSlug),
		StepKey:      get(EnvStepKey),
		BuildSource:  get(EnvSource),
		Branch:       get(EnvBranch),
		Commit:       get(EnvCommit),
		Command:      get(EnvCommand),
		BuildID:      get(EnvBuildID),
		BuildURL:     get(EnvBuildURL),
		Repo:         get(EnvRepo),
	}

	c.InputsSubmitted = get(EnvInputsSubmitted) == "true"

	// Unset is not a pull request: outside the agent there is no base branch
	// to diff against.
	if pr := get(EnvPullRequest); pr != "" && pr != "false" {
		c.PullRequest = &PullRequest{
			Number:         pr,
			BaseBranch:     get(EnvPullRequestBaseBranch),
			TriggerComment: get(EnvPRTriggerComment),
			Labels:         strings.Fields(get(EnvPRLabels)),
		}
	}
	return c
}

// IsPullRequest reports whether the build runs for a pull request.
func (c Context) IsPullRequest() bool {
	return c.PullRequest != nil
}

// IsUI reports whether the build was started from the web interface.
func (c Context) IsUI() bool {
	return c.BuildSource == SourceUI
}

// WithStep returns a copy of c for the step key.
func (c Context) WithStep(stepKey string) Context {
	c.StepKey = stepKey
	return c
}

// WithCommand returns a copy of c for the command.
func (c Context) WithCommand(command string) Context {
	c.Command = command
	return c
}

// LogFields returns key/value pairs identifying the build for a structured
// logger. The command is omitted, it may embed credentials.
func (c Context) LogFields() []interface{} {
	return []interface{}{
		"pipeline.slug", c.PipelineSlug,
		"step.key", c.StepKey,
		"build.source", c.BuildSource,
		"build.branch", c.Branch,
	}
}
