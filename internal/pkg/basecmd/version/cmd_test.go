// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package version

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"

	"github.com/elastic/ci-orchestrator/internal/pkg/cli"
	"github.com/elastic/ci-orchestrator/internal/pkg/release"
)

func TestCmdBinary(t *testing.T) {
	streams, _, out, _ := cli.NewTestingIOStreams()
	cmd := NewCommandWithArgs(streams)
	cmd.SetArgs([]string{})
	err := cmd.Execute()
	require.NoError(t, err)
	version, err := io.ReadAll(out)

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(version), "Binary: "+release.Version()))
}

func TestCmdBinaryYAML(t *testing.T) {
	streams, _, out, _ := cli.NewTestingIOStreams()
	cmd := NewCommandWithArgs(streams)
	cmd.SetArgs([]string{"--yaml"})
	err := cmd.Execute()
	require.NoError(t, err)
	version, err := io.ReadAll(out)

	require.NoError(t, err)

	var output Output
	err = yaml.Unmarshal(version, &output)
	require.NoError(t, err)

	require.NotNil(t, output.Binary)
	assert.Equal(t, release.Info(), *output.Binary)
}
