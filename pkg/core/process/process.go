// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// Command describes an external command run to completion.
type Command struct {
	Path string
	Args []string
	// Env is the complete environment of the command. A nil Env inherits the
	// environment of the orchestrator process.
	Env []string
	Dir string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// String returns the command line, without the environment.
func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Output is the result of a finished command. Stdout and Stderr hold a copy
// of everything the command wrote, in addition to what was streamed to the
// writers of the Command.
type Output struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// ExitError is returned when a command ran and exited with a non-zero code.
type ExitError struct {
	Command string
	Output  Output
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%q exited with code %d", e.Command, e.Output.ExitCode)
}

// StartError is returned when a command could not be started at all, for
// instance because the executable does not exist. It never heals by retrying.
type StartError struct {
	Command string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start %q: %v", e.Command, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// ExitCode extracts the exit code carried by err. The second value is false
// when err is not an ExitError.
func ExitCode(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Output.ExitCode, true
	}
	return 0, false
}

// Runner runs commands to completion.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, cmd Command) (Output, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, cmd Command) (Output, error) {
	return f(ctx, cmd)
}

// ExecRunner runs commands as child processes.
type ExecRunner struct{}

// Run starts the command and waits for it. Cancelling ctx kills the child.
func (ExecRunner) Run(ctx context.Context, c Command) (Output, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Env = c.Env
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	setSysProcAttr(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = tee(&stdout, c.Stdout)
	cmd.Stderr = tee(&stderr, c.Stderr)

	started := time.Now()
	err := cmd.Run()
	out := Output{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(started),
	}

	if err == nil {
		return out, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, &ExitError{Command: c.String(), Output: out}
	}

	out.ExitCode = -1
	return out, &StartError{Command: c.String(), Err: err}
}

func tee(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}
