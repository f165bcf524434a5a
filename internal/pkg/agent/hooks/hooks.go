// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

// Package hooks selects the actions run around a build step.
//
// A Table is an ordered list of (predicate, action) rules. Dispatch returns
// the actions of every rule whose predicate matches, in table order: rules
// cascade, they do not exclude each other. Predicates only read the build
// context.
//
// The table is also the authorization boundary of the secret resolver: a
// step may only resolve the secrets declared by the bind-env rules that
// match it.
package hooks

import (
	"context"
	"fmt"
	"strings"

	"github.com/gobwas/glob"
	"go.elastic.co/apm/v2"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/environment"
	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/buildcontext"
	"github.com/elastic/ci-orchestrator/internal/pkg/secret"
	"github.com/elastic/ci-orchestrator/pkg/core/logger"
)

// Event is a point of the step life cycle.
type Event string

const (
	PreCommand  Event = "pre-command"
	PostCommand Event = "post-command"
	PreExit     Event = "pre-exit"
)

// Events lists the events in the order they happen.
var Events = []Event{PreCommand, PostCommand, PreExit}

// ParseEvent parses the name of an event.
func ParseEvent(s string) (Event, error) {
	for _, e := range Events {
		if string(e) == s {
			return e, nil
		}
	}
	return "", errors.New(fmt.Sprintf("unknown hook event %q, expected one of pre-command, post-command, pre-exit", s), errors.TypeConfig)
}

// ActionKind is the kind of work an action does.
type ActionKind string

const (
	// ActionBindEnv binds secrets to the step environment.
	ActionBindEnv ActionKind = "bind-env"
	// ActionExport adds static variables to the step environment.
	ActionExport ActionKind = "export"
	// ActionScript runs a shell script.
	ActionScript ActionKind = "script"
	// ActionNotify posts a commit status.
	ActionNotify ActionKind = "notify"
)

// Action is the work selected by a rule. Only the fields of its kind are set.
type Action struct {
	Rule string
	Kind ActionKind

	Bindings []environment.Binding
	Env      environment.Map
	Script   string
	Attempts int
	Context  string
}

// Describe returns a single line describing the action. Secret values are
// never part of an action.
func (a Action) Describe() string {
	switch a.Kind {
	case ActionBindEnv:
		names := make([]string, 0, len(a.Bindings))
		for _, b := range a.Bindings {
			names = append(names, b.Name+"="+b.Handle.String())
		}
		return strings.Join(names, " ")
	case ActionExport:
		return strings.Join(a.Env.Names(), " ")
	case ActionScript:
		return a.Script
	case ActionNotify:
		return a.Context
	}
	return ""
}

type rule struct {
	name      string
	events    map[Event]bool
	predicate Predicate
	action    Action
}

func (r rule) fires(event Event, bctx buildcontext.Context) bool {
	return r.events[event] && r.predicate.Match(bctx)
}

// Table is a compiled rule table. It is safe for concurrent use.
type Table struct {
	log   *logger.Logger
	rules []rule
	meta  []glob.Glob
}

// NewTable compiles cfg.
func NewTable(log *logger.Logger, cfg Config) (*Table, error) {
	t := &Table{log: log}

	for _, p := range cfg.MetaCommands {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, errors.New(err, fmt.Sprintf("invalid meta command pattern %q", p), errors.TypeConfig)
		}
		t.meta = append(t.meta, g)
	}

	for i, rc := range cfg.Rules {
		r, err := compileRule(i, rc)
		if err != nil {
			return nil, err
		}
		t.rules = append(t.rules, r)
	}
	return t, nil
}

func compileRule(idx int, rc RuleConfig) (rule, error) {
	name := rc.Name
	if name == "" {
		name = fmt.Sprintf("rule-%d", idx)
	}
	fail := func(msg string, args ...interface{}) (rule, error) {
		return rule{}, errors.New(fmt.Sprintf("hook rule %q: ", name)+fmt.Sprintf(msg, args...), errors.TypeConfig)
	}

	r := rule{name: name, events: map[Event]bool{}}
	events := rc.Events
	if len(events) == 0 {
		events = []string{string(PreCommand)}
	}
	for _, e := range events {
		ev, err := ParseEvent(e)
		if err != nil {
			return rule{}, errors.New(err, fmt.Sprintf("hook rule %q", name))
		}
		r.events[ev] = true
	}

	pred, err := CompilePredicate(rc.When)
	if err != nil {
		return rule{}, errors.New(err, fmt.Sprintf("hook rule %q", name))
	}
	r.predicate = pred

	a := Action{Rule: name, Kind: rc.Action}
	switch rc.Action {
	case ActionBindEnv, ActionExport:
		if len(r.events) != 1 || !r.events[PreCommand] {
			return fail("%s actions only run on pre-command", rc.Action)
		}
		if rc.Action == ActionBindEnv {
			if len(rc.Secrets) == 0 {
				return fail("bind-env requires secrets")
			}
			for _, b := range rc.Secrets {
				if b.Name == "" {
					return fail("secret %s has no variable name", b.Handle)
				}
				if err := b.Handle.Validate(); err != nil {
					return rule{}, errors.New(err, fmt.Sprintf("hook rule %q", name))
				}
			}
			a.Bindings = append(a.Bindings, rc.Secrets...)
		} else {
			if len(rc.Env) == 0 {
				return fail("export requires env")
			}
			a.Env = environment.Map(rc.Env).Clone()
		}
	case ActionScript:
		if strings.TrimSpace(rc.Script) == "" {
			return fail("script requires a script")
		}
		a.Script = rc.Script
		a.Attempts = rc.Attempts
		if a.Attempts < 1 {
			a.Attempts = 1
		}
	case ActionNotify:
		if rc.Context == "" {
			return fail("notify requires a context")
		}
		a.Context = rc.Context
	default:
		return fail("unknown action %q, expected one of bind-env, export, script, notify", rc.Action)
	}
	r.action = a
	return r, nil
}

// IsMetaCommand reports whether command manages the pipeline itself, such as
// a pipeline upload.
func (t *Table) IsMetaCommand(command string) bool {
	command = strings.TrimSpace(command)
	if command == "" {
		return false
	}
	for _, g := range t.meta {
		if g.Match(command) {
			return true
		}
	}
	return false
}

// Dispatch returns the actions of every rule matching event and bctx, in
// table order. Pre-command dispatch of a meta command returns no action.
func (t *Table) Dispatch(ctx context.Context, event Event, bctx buildcontext.Context) []Action {
	span, _ := apm.StartSpan(ctx, "dispatch "+string(event), "app.hooks")
	defer span.End()

	if event == PreCommand && t.IsMetaCommand(bctx.Command) {
		t.log.Debugw("Skipping pre-command actions of meta command", bctx.LogFields()...)
		return nil
	}

	var actions []Action
	for _, r := range t.rules {
		if r.fires(event, bctx) {
			actions = append(actions, r.action)
		}
	}
	if !span.Dropped() {
		span.Context.SetLabel("hook.event", string(event))
		span.Context.SetLabel("hook.actions", len(actions))
	}
	t.log.Debugw(fmt.Sprintf("Dispatched %d %s actions", len(actions), event), bctx.LogFields()...)
	return actions
}

// SecretBindings implements environment.BindingSource: the bindings of every
// matching bind-env rule, in table order.
func (t *Table) SecretBindings(bctx buildcontext.Context) []environment.Binding {
	var out []environment.Binding
	for _, a := range t.preCommand(bctx, ActionBindEnv) {
		out = append(out, a.Bindings...)
	}
	return out
}

// Overrides implements environment.OverrideSource: the variables of every
// matching export rule, later rules win.
func (t *Table) Overrides(_ context.Context, bctx buildcontext.Context) (environment.Map, error) {
	out := environment.Map{}
	for _, a := range t.preCommand(bctx, ActionExport) {
		out = environment.Merge(out, a.Env)
	}
	return out, nil
}

// Authorize implements secret.Authorizer. A handle is granted when a
// matching bind-env rule declares it.
func (t *Table) Authorize(bctx buildcontext.Context, h secret.Handle) bool {
	for _, a := range t.preCommand(bctx, ActionBindEnv) {
		for _, b := range a.Bindings {
			if b.Handle == h {
				return true
			}
		}
	}
	return false
}

func (t *Table) preCommand(bctx buildcontext.Context, kind ActionKind) []Action {
	if t.IsMetaCommand(bctx.Command) {
		return nil
	}
	var out []Action
	for _, r := range t.rules {
		if r.action.Kind == kind && r.fires(PreCommand, bctx) {
			out = append(out, r.action)
		}
	}
	return out
}
