// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// IOStreams encapsulate the interaction with the OS pipes: STDIN, STDOUT and STDERR.
// On a CI agent STDOUT and STDERR are the job log.
type IOStreams struct {
	// In represents the STDIN of the CLI.
	In io.Reader

	// Out represents the STDOUT of the CLI.
	Out io.Writer

	// Err represents the STDERR of the CLI.
	Err io.Writer
}

// NewIOStreams returns an IOStreams with the OS defaults pipes.
func NewIOStreams() *IOStreams {
	return &IOStreams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}

// NewTestingIOStreams returns a IOStream and the raw bytes buffers so we can interact with them.
func NewTestingIOStreams() (*IOStreams, *bytes.Buffer, *bytes.Buffer, *bytes.Buffer) {
	in := &bytes.Buffer{}
	out := &bytes.Buffer{}
	err := &bytes.Buffer{}
	return &IOStreams{In: in, Out: out, Err: err}, in, out, err
}

// Errorf writes a line prefixed with "Error: " to the error stream.
func (s *IOStreams) Errorf(format string, args ...interface{}) {
	fmt.Fprintf(s.Err, "Error: "+format+"\n", args...)
}
