// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/cmd"
	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
)

// Setups and runs the orchestrator.
func main() {
	command := cmd.NewCommand()
	err := command.Execute()
	if err != nil {
		var exit *cmd.ExitCodeError
		// a failed step already reported its own error
		if !errors.As(err, &exit) {
			fmt.Fprintf(os.Stderr, "Error: %s\n%s\n", strings.TrimSpace(errors.Reason(err)), cmd.TroubleshootMessage)
		}
	}
	os.Exit(cmd.ExitCode(err))
}
