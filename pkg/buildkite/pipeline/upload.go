// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"

	bkpipeline "github.com/buildkite/go-pipeline"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/pkg/core/process"
	"github.com/elastic/ci-orchestrator/pkg/core/retry"
)

// DefaultUploadAttempts is the number of upload attempts.
const DefaultUploadAttempts = 3

// Validate parses data as a Buildkite pipeline.
func Validate(data []byte) error {
	if _, err := bkpipeline.Parse(bytes.NewReader(data)); err != nil {
		return errors.New(err, "invalid buildkite pipeline", errors.TypeConfig)
	}
	return nil
}

// Uploader uploads pipelines to the running build.
type Uploader struct {
	// Binary is the agent executable, "buildkite-agent" by default.
	Binary   string
	Attempts int
	// Replace replaces the remaining steps of the build instead of
	// appending to them.
	Replace bool

	Runner  process.Runner
	Retrier *retry.Executor
	// Output receives the output of the agent.
	Output io.Writer
}

// Upload validates p and uploads it. The agent reads the document from
// stdin, every attempt gets a fresh copy.
func (u Uploader) Upload(ctx context.Context, p *Pipeline) error {
	data, err := p.MarshalYAML()
	if err != nil {
		return err
	}
	if err := Validate(data); err != nil {
		return err
	}

	binary := u.Binary
	if binary == "" {
		binary = "buildkite-agent"
	}
	args := []string{"pipeline", "upload"}
	if u.Replace {
		args = append(args, "--replace")
	}
	attempts := u.Attempts
	if attempts == 0 {
		attempts = DefaultUploadAttempts
	}
	runner := u.Runner
	if runner == nil {
		runner = process.ExecRunner{}
	}
	retrier := u.Retrier
	if retrier == nil {
		retrier = retry.New(nil)
	}

	err = retrier.Do(ctx, attempts, func(int) error {
		_, err := runner.Run(context.WithoutCancel(ctx), process.Command{
			Path:   binary,
			Args:   args,
			Stdin:  bytes.NewReader(data),
			Stdout: u.Output,
			Stderr: u.Output,
		})
		return err
	})
	if err != nil {
		return errors.New(err, fmt.Sprintf("failed to upload pipeline with %d steps", p.Len()), errors.TypeNetwork)
	}
	return nil
}
