// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

// Package inputs collects the input parameters of a build, either from the
// build meta-data written by a Buildkite input step or through an HTTP
// submission endpoint.
package inputs

import (
	"context"
	"fmt"
	"strings"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/pipeline"
	"github.com/elastic/ci-orchestrator/pkg/core/logger"
	"github.com/elastic/ci-orchestrator/pkg/core/process"
	"github.com/elastic/ci-orchestrator/pkg/core/retry"
)

// exitNotExists is the exit code of "meta-data exists" for a missing key.
const exitNotExists = 100

var errNotSet = errors.New("meta-data key not set")

// MetaDataSource reads submitted values from the build meta-data.
type MetaDataSource struct {
	log *logger.Logger
	// Binary is the agent executable, "buildkite-agent" by default.
	Binary   string
	Attempts int

	runner  process.Runner
	retrier *retry.Executor
}

// NewMetaDataSource creates a source running the agent with runner.
func NewMetaDataSource(log *logger.Logger, runner process.Runner, retrier *retry.Executor, attempts int) *MetaDataSource {
	if runner == nil {
		runner = process.ExecRunner{}
	}
	if attempts < 1 {
		attempts = 1
	}
	return &MetaDataSource{
		log:      log,
		Binary:   "buildkite-agent",
		Attempts: attempts,
		runner:   runner,
		retrier:  retrier,
	}
}

// Get returns the value stored under key. The second value is false when
// the key was never set.
func (m *MetaDataSource) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := m.retrier.Do(ctx, m.Attempts, func(int) error {
		if _, err := m.run(ctx, "exists", key); err != nil {
			if code, ok := process.ExitCode(err); ok && code == exitNotExists {
				return retry.ErrorMakeFatal(errNotSet)
			}
			return err
		}
		out, err := m.run(ctx, "get", key)
		if err != nil {
			return err
		}
		value = strings.TrimRight(string(out.Stdout), "\r\n")
		return nil
	})
	if errors.Is(err, errNotSet) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.New(err, fmt.Sprintf("failed to read meta-data %q", key), errors.TypeNetwork)
	}
	return value, true, nil
}

// Inputs reads the value of every parameter. It returns nil when none was
// submitted, the build then still waits for its inputs.
func (m *MetaDataSource) Inputs(ctx context.Context, params []pipeline.InputParameter) (pipeline.Inputs, error) {
	var out pipeline.Inputs
	for _, p := range params {
		v, ok, err := m.Get(ctx, p.Key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if out == nil {
			out = pipeline.Inputs{}
		}
		out[p.Key] = v
	}
	m.log.Debugw(fmt.Sprintf("Read %d of %d input parameters from meta-data", len(out), len(params)))
	return out, nil
}

func (m *MetaDataSource) run(ctx context.Context, args ...string) (process.Output, error) {
	return m.runner.Run(context.WithoutCancel(ctx), process.Command{
		Path: m.Binary,
		Args: append([]string{"meta-data"}, args...),
	})
}
