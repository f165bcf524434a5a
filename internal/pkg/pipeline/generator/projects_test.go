// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package generator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/buildcontext"
	"github.com/elastic/ci-orchestrator/internal/pkg/pipeline"
	"github.com/elastic/ci-orchestrator/pkg/core/logger/loggertest"
	"github.com/elastic/ci-orchestrator/pkg/core/process"
	"github.com/elastic/ci-orchestrator/pkg/core/retry"
)

const rootFile = `
projects:
  - "x-pack/filebeat"
  - "auditbeat"
  - "heartbeat"
`

const filebeatFile = `
when:
  changeset:
    - "x-pack/filebeat/**"
stages:
  mandatory:
    unitTest:
      command: "mage build unitTest"
      platform: "family/platform-ingest-beats-ubuntu-2204"
    goIntegTest:
      command: "mage goIntegTest"
      platform: "family/platform-ingest-beats-ubuntu-2204"
  extended:
    macos:
      command: "mage build unitTest"
      platform: "generic-13-ventura-x64"
      provider: "orka"
    arm:
      command: "mage build unitTest"
      platform: "platform-ingest-beats-ubuntu-2204-aarch64"
      provider: "aws"
`

const auditbeatFile = `
when:
  changeset:
    - "auditbeat/**"
stages:
  mandatory:
    unitTest:
      command: "mage build unitTest"
      platform: "family/platform-ingest-beats-ubuntu-2204"
  extended: {}
`

func writeProjects(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		".buildkite/buildkite.yml":      rootFile,
		"x-pack/filebeat/buildkite.yml": filebeatFile,
		"auditbeat/buildkite.yml":       auditbeatFile,
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return root
}

func gitDiff(calls *[]process.Command, files ...string) *retry.Executor {
	return retry.New(nil, retry.WithRunner(process.RunnerFunc(
		func(_ context.Context, cmd process.Command) (process.Output, error) {
			*calls = append(*calls, cmd)
			return process.Output{Stdout: []byte(strings.Join(files, "\n") + "\n")}, nil
		})))
}

func labels(steps []pipeline.StepSpec) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.Label)
	}
	return out
}

func TestProjectsGenerateOrdering(t *testing.T) {
	log, _ := loggertest.New("generator")
	var calls []process.Command
	gen := NewProjects(log, ProjectsConfig{Root: writeProjects(t)}, gitDiff(&calls))

	frag, err := gen.Generate(context.Background(), pipeline.Request{Build: buildcontext.Context{Branch: "main"}})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"auditbeat unitTest",
		"x-pack/filebeat goIntegTest",
		"x-pack/filebeat unitTest",
		"x-pack/filebeat arm",
		"x-pack/filebeat macos",
	}, labels(frag.Steps))
	assert.Empty(t, calls, "the changeset is only computed for pull requests")

	unit := frag.Steps[2]
	assert.Equal(t, pipeline.StepSpec{
		Key:      "x-pack-filebeat-mandatory-unitTest",
		Label:    "x-pack/filebeat unitTest",
		Command:  "mage build unitTest",
		Agents:   map[string]string{"provider": "gcp", "image": "family/platform-ingest-beats-ubuntu-2204"},
		Notify:   []string{"x-pack/filebeat: unitTest"},
		Group:    "x-pack/filebeat mandatory",
		GroupKey: "x-pack-filebeat-mandatory",
	}, unit)

	assert.Equal(t, map[string]string{
		"provider":     "aws",
		"imagePrefix":  "platform-ingest-beats-ubuntu-2204-aarch64",
		"instanceType": "t4g.large",
	}, frag.Steps[3].Agents)
	assert.Equal(t, map[string]string{"provider": "orka", "imagePrefix": "generic-13-ventura-x64"}, frag.Steps[4].Agents)
}

func TestProjectsPullRequestFiltering(t *testing.T) {
	pr := func(comment string, labels ...string) buildcontext.Context {
		return buildcontext.Context{
			Branch: "feature",
			PullRequest: &buildcontext.PullRequest{
				Number:         "42",
				BaseBranch:     "main",
				TriggerComment: comment,
				Labels:         labels,
			},
		}
	}

	testCases := map[string]struct {
		bctx    buildcontext.Context
		changed []string
		want    []string
	}{
		"changeset selects mandatory group": {
			bctx:    pr(""),
			changed: []string{"x-pack/filebeat/input/aws/input.go"},
			want:    []string{"x-pack/filebeat goIntegTest", "x-pack/filebeat unitTest"},
		},
		"nothing changed": {
			bctx:    pr(""),
			changed: []string{"README.md"},
			want:    []string{},
		},
		"comment selects project": {
			bctx:    pr("buildkite test auditbeat"),
			changed: []string{"README.md"},
			want:    []string{"auditbeat unitTest"},
		},
		"comment selects one step": {
			bctx:    pr("buildkite test x-pack/filebeat unitTest"),
			changed: []string{"README.md"},
			want:    []string{"x-pack/filebeat unitTest"},
		},
		"comment selects extended group": {
			bctx:    pr("buildkite test x-pack/filebeat extended"),
			changed: []string{"README.md"},
			want:    []string{},
		},
		"comment selects extended step": {
			bctx:    pr("buildkite test x-pack/filebeat extended buildkite test x-pack/filebeat macos"),
			changed: []string{"README.md"},
			want:    []string{"x-pack/filebeat macos"},
		},
		"label selects step in changed project": {
			bctx:    pr("buildkite test heartbeat", "x-pack/filebeat-goIntegTest"),
			changed: []string{"x-pack/filebeat/main.go"},
			want:    []string{"x-pack/filebeat goIntegTest"},
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			log, _ := loggertest.New("generator")
			var calls []process.Command
			gen := NewProjects(log, ProjectsConfig{Root: writeProjects(t)}, gitDiff(&calls, tc.changed...))

			frag, err := gen.Generate(context.Background(), pipeline.Request{Build: tc.bctx})
			require.NoError(t, err)
			assert.Equal(t, tc.want, labels(frag.Steps))

			require.Len(t, calls, 1, "the changeset is computed once")
			assert.Equal(t, "git diff --name-only main...HEAD", calls[0].String())
		})
	}
}

func TestProjectsErrors(t *testing.T) {
	log, _ := loggertest.New("generator")

	t.Run("missing root file", func(t *testing.T) {
		gen := NewProjects(log, ProjectsConfig{Root: t.TempDir()}, nil)
		_, err := gen.Generate(context.Background(), pipeline.Request{})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.TypeFilesystem))
	})

	t.Run("unknown provider", func(t *testing.T) {
		root := writeProjects(t)
		require.NoError(t, os.WriteFile(filepath.Join(root, "auditbeat", "buildkite.yml"), []byte(`
stages:
  mandatory:
    unitTest:
      command: "mage unitTest"
      provider: "azure"
`), 0o600))
		gen := NewProjects(log, ProjectsConfig{Root: root}, nil)
		_, err := gen.Generate(context.Background(), pipeline.Request{})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.TypeConfig))
	})

	t.Run("pull request without base branch", func(t *testing.T) {
		gen := NewProjects(log, ProjectsConfig{Root: writeProjects(t)}, nil)
		_, err := gen.Generate(context.Background(), pipeline.Request{Build: buildcontext.Context{PullRequest: &buildcontext.PullRequest{Number: "1"}}})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.TypeConfig))
	})
}
