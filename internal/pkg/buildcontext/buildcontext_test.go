// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package buildcontext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want Context
	}{
		{
			name: "branch build",
			env: map[string]string{
				EnvPipelineSlug: "beats-xpack-packetbeat",
				EnvStepKey:      "extended-win-10-system-tests",
				EnvSource:       "webhook",
				EnvBranch:       "main",
				EnvCommit:       "abc123",
				EnvPullRequest:  "false",
			},
			want: Context{
				PipelineSlug: "beats-xpack-packetbeat",
				StepKey:      "extended-win-10-system-tests",
				BuildSource:  "webhook",
				Branch:       "main",
				Commit:       "abc123",
			},
		},
		{
			name: "pull request",
			env: map[string]string{
				EnvPipelineSlug:          "beats",
				EnvSource:                "webhook",
				EnvPullRequest:           "1234",
				EnvPullRequestBaseBranch: "main",
				EnvPRTriggerComment:      "buildkite test filebeat",
				EnvPRLabels:              "filebeat-unitTest  backport-skip",
			},
			want: Context{
				PipelineSlug: "beats",
				BuildSource:  "webhook",
				PullRequest: &PullRequest{
					Number:         "1234",
					BaseBranch:     "main",
					TriggerComment: "buildkite test filebeat",
					Labels:         []string{"filebeat-unitTest", "backport-skip"},
				},
			},
		},
		{
			name: "pull request variable unset",
			env: map[string]string{
				EnvPipelineSlug:          "beats",
				EnvBranch:                "feature",
				EnvPullRequestBaseBranch: "main",
				EnvPRLabels:              "filebeat-unitTest",
			},
			want: Context{PipelineSlug: "beats", Branch: "feature"},
		},
		{
			name: "empty environment",
			env:  map[string]string{},
			want: Context{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FromEnv(mapLookup(tc.env)))
		})
	}
}

func TestContextHelpers(t *testing.T) {
	c := FromEnv(mapLookup(map[string]string{
		EnvSource:      SourceUI,
		EnvPullRequest: "7",
		EnvPRLabels:    "filebeat-unitTest",
	}))

	assert.True(t, c.IsUI())
	require.True(t, c.IsPullRequest())
	assert.True(t, c.PullRequest.HasLabel("filebeat-unitTest"))
	assert.False(t, c.PullRequest.HasLabel("filebeat"))

	step := c.WithStep("unit").WithCommand("make test")
	assert.Equal(t, "unit", step.StepKey)
	assert.Equal(t, "make test", step.Command)
	assert.Empty(t, c.StepKey, "original is not modified")

	assert.False(t, FromEnv(mapLookup(map[string]string{EnvBranch: "main"})).IsPullRequest())

	var none *PullRequest
	assert.False(t, none.HasLabel("x"))
}
