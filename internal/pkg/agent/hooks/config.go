// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package hooks

import (
	"github.com/elastic/ci-orchestrator/internal/pkg/agent/environment"
)

// DefaultMetaCommands are the pipeline management commands that never
// receive the pre-command actions, and therefore never any job secret.
var DefaultMetaCommands = []string{
	"buildkite-agent pipeline upload*",
	"*pipeline upload*",
}

// Config is the hook rule table as written in the configuration.
type Config struct {
	// MetaCommands are glob patterns matched against the step command. A
	// configured list replaces the default one.
	MetaCommands []string     `config:"meta_commands,replace"`
	Rules        []RuleConfig `config:"rules"`
}

// DefaultConfig returns a table with no rule and the default meta commands.
func DefaultConfig() Config {
	return Config{
		MetaCommands: append([]string(nil), DefaultMetaCommands...),
	}
}

// PredicateConfig restricts a rule to some steps. Every field is a list of
// glob patterns, an empty list matches everything. A rule applies when every
// non-empty list has a matching pattern.
type PredicateConfig struct {
	Pipelines []string `config:"pipelines"`
	Steps     []string `config:"steps"`
	Sources   []string `config:"sources"`
	Branches  []string `config:"branches"`
}

// RuleConfig is a single (predicate, action) pair.
type RuleConfig struct {
	Name string `config:"name"`
	// Events the rule fires on. Default is pre-command.
	Events []string        `config:"events"`
	When   PredicateConfig `config:"when"`
	Action ActionKind      `config:"action"`

	// Secrets are bound by bind-env actions.
	Secrets []environment.Binding `config:"secrets"`
	// Env is exported by export actions.
	Env map[string]string `config:"env"`
	// Script is run by script actions.
	Script string `config:"script"`
	// Attempts is the retry budget of a script. Default is 1.
	Attempts int `config:"attempts"`
	// Context is the commit status context of notify actions.
	Context string `config:"context"`
}
