// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/buildcontext"
	"github.com/elastic/ci-orchestrator/pkg/core/logger"
)

// State is the expansion state of a build.
type State int

const (
	// Pending is the state before Expand is called.
	Pending State = iota
	// AwaitingInput waits for a person to submit the input parameters.
	AwaitingInput
	// Loading runs the generator with the resolved inputs.
	Loading
	// Expanded holds the final step list. Terminal.
	Expanded
	// Failed is reached on any error. Terminal.
	Failed
)

func (s State) String() string {
	switch s {
	case AwaitingInput:
		return "awaiting_input"
	case Loading:
		return "loading"
	case Expanded:
		return "expanded"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Inputs are the values submitted for the input parameters. A nil map means
// nothing was submitted, an empty map accepts every default.
type Inputs map[string]string

// Request is passed to a generator.
type Request struct {
	Inputs map[string]string
	Build  buildcontext.Context
}

// Generator produces the steps appended to the base definition.
type Generator interface {
	Generate(ctx context.Context, req Request) (Fragment, error)
}

// GeneratorFunc adapts a function to a Generator.
type GeneratorFunc func(ctx context.Context, req Request) (Fragment, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (Fragment, error) {
	return f(ctx, req)
}

// Expansion is a snapshot of the expander.
type Expansion struct {
	State  State
	Inputs map[string]string
	Env    map[string]string
	Steps  []StepSpec
	Err    error
}

// Expander turns a base definition into the final step list of one build.
// It is safe for concurrent use.
type Expander struct {
	log       *logger.Logger
	generator Generator
	base      Definition
	bctx      buildcontext.Context

	mu     sync.Mutex
	state  State
	result Expansion
}

// NewExpander validates base and returns an expander for the build. A nil
// generator appends no steps.
func NewExpander(log *logger.Logger, gen Generator, base Definition, bctx buildcontext.Context) (*Expander, error) {
	if err := base.Validate(); err != nil {
		return nil, err
	}
	return &Expander{
		log:       log,
		generator: gen,
		base:      base.clone(),
		bctx:      bctx,
	}, nil
}

// Expand is NewExpander followed by Expander.Expand.
func Expand(ctx context.Context, log *logger.Logger, gen Generator, base Definition, inputs Inputs, bctx buildcontext.Context) (*Expansion, error) {
	e, err := NewExpander(log, gen, base, bctx)
	if err != nil {
		return &Expansion{State: Failed, Err: err}, err
	}
	return e.Expand(ctx, inputs)
}

// Parameters returns the input parameters of the base definition.
func (e *Expander) Parameters() []InputParameter {
	return append([]InputParameter(nil), e.base.Inputs...)
}

// State returns the current state.
func (e *Expander) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Expansion returns a snapshot of the current state.
func (e *Expander) Expansion() *Expansion {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot()
}

// Expand starts the expansion. Builds started from the web interface that
// declare inputs stay in AwaitingInput until inputs are submitted, either
// here or through Submit. Other builds use inputs, or the defaults when it
// is nil.
func (e *Expander) Expand(ctx context.Context, inputs Inputs) (*Expansion, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Pending {
		return e.snapshot(), errors.New(ErrState, fmt.Sprintf("expansion already started, state is %s", e.state))
	}
	if inputs == nil && e.bctx.IsUI() && len(e.base.Inputs) > 0 {
		e.state = AwaitingInput
		e.log.Infow("Waiting for input parameters", append(e.bctx.LogFields(), "inputs", len(e.base.Inputs))...)
		return e.snapshot(), nil
	}
	return e.load(ctx, inputs)
}

// Submit provides the input values of a build in AwaitingInput and runs
// the expansion.
func (e *Expander) Submit(ctx context.Context, values Inputs) (*Expansion, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != AwaitingInput {
		return e.snapshot(), errors.New(ErrState, fmt.Sprintf("inputs cannot be submitted, state is %s", e.state))
	}
	if values == nil {
		values = Inputs{}
	}
	return e.load(ctx, values)
}

func (e *Expander) load(ctx context.Context, submitted Inputs) (*Expansion, error) {
	e.state = Loading

	resolved, err := resolveInputs(e.base.Inputs, submitted)
	if err != nil {
		return e.fail(err)
	}
	e.result.Inputs = resolved

	def := e.base.clone()
	if e.generator != nil {
		e.log.Infow("Running pipeline generator", e.bctx.LogFields()...)
		frag, err := e.generator.Generate(ctx, Request{Inputs: resolved, Build: e.bctx})
		if err != nil {
			if !errors.Is(err, ErrGenerator) {
				err = NewGeneratorError(err, -1, "")
			}
			return e.fail(err)
		}
		if len(frag.Env) > 0 && def.Env == nil {
			def.Env = make(map[string]string, len(frag.Env))
		}
		for k, v := range frag.Env {
			def.Env[k] = v
		}
		for _, s := range frag.Steps {
			def.Steps = append(def.Steps, s.clone())
		}
	}

	if err := def.Validate(); err != nil {
		return e.fail(errors.New(err, "invalid expanded pipeline"))
	}
	def.Steps = selectSteps(def.Steps, resolved)

	e.state = Expanded
	e.result.Env = def.Env
	e.result.Steps = def.Steps
	e.log.Infow("Pipeline expanded", append(e.bctx.LogFields(), "steps", len(def.Steps))...)
	return e.snapshot(), nil
}

func (e *Expander) fail(err error) (*Expansion, error) {
	e.state = Failed
	e.result.Err = err
	e.result.Steps = nil
	e.log.Errorw("Pipeline expansion failed", append(e.bctx.LogFields(), "error.message", err.Error())...)
	return e.snapshot(), err
}

func (e *Expander) snapshot() *Expansion {
	s := &Expansion{
		State:  e.state,
		Inputs: cloneMap(e.result.Inputs),
		Env:    cloneMap(e.result.Env),
		Err:    e.result.Err,
	}
	if len(e.result.Steps) > 0 {
		s.Steps = make([]StepSpec, 0, len(e.result.Steps))
		for _, st := range e.result.Steps {
			s.Steps = append(s.Steps, st.clone())
		}
	}
	return s
}

// selectSteps drops the steps whose When clause does not match and the
// dependencies on them.
func selectSteps(steps []StepSpec, inputs map[string]string) []StepSpec {
	dropped := make(map[string]struct{})
	selected := steps[:0]
	for _, s := range steps {
		if s.selected(inputs) {
			selected = append(selected, s)
		} else {
			dropped[s.Key] = struct{}{}
		}
	}
	if len(dropped) == 0 {
		return selected
	}
	for i := range selected {
		deps := selected[i].DependsOn[:0]
		for _, d := range selected[i].DependsOn {
			if _, ok := dropped[d]; !ok {
				deps = append(deps, d)
			}
		}
		selected[i].DependsOn = deps
	}
	return selected
}

func resolveInputs(params []InputParameter, submitted Inputs) (map[string]string, error) {
	known := make(map[string]struct{}, len(params))
	for _, p := range params {
		known[p.Key] = struct{}{}
	}
	unknown := make([]string, 0)
	for k := range submitted {
		if _, ok := known[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, configError(fmt.Sprintf("unknown input parameters %v", unknown))
	}

	resolved := make(map[string]string, len(params))
	for _, p := range params {
		v := submitted[p.Key]
		if v == "" {
			v = p.Default
		}
		if v == "" {
			if p.Required {
				return nil, configError(fmt.Sprintf("input %q is required", p.Key))
			}
			continue
		}
		if !p.allows(v) {
			return nil, configError(fmt.Sprintf("value %q of input %q is not one of its options", v, p.Key))
		}
		resolved[p.Key] = v
	}
	return resolved, nil
}
