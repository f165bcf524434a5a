// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package hooks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/environment"
	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/buildcontext"
	"github.com/elastic/ci-orchestrator/internal/pkg/config"
	"github.com/elastic/ci-orchestrator/internal/pkg/secret"
	"github.com/elastic/ci-orchestrator/pkg/core/logger/loggertest"
)

const rulesYAML = `
hooks:
  rules:
    - name: github-token
      action: bind-env
      secrets:
        - name: GITHUB_TOKEN
          secret: kv/ci-shared/platform-ingest/github_token#token
    - name: packetbeat-gcs
      when:
        pipelines: ["beats-xpack-packetbeat"]
        steps: ["extended-win-*"]
      action: bind-env
      secrets:
        - name: PRIVATE_CI_GCS_CREDENTIALS_SECRET
          secret: kv/ci-shared/platform-ingest/gcp-platform-ingest-ci-service-account#data
    - name: beats-env
      when:
        pipelines: ["beats-*"]
      action: export
      env:
        GO_VERSION: "1.22"
        MODULE: packetbeat
    - name: docker-login
      when:
        pipelines: ["beats-*"]
        sources: ["webhook", "trigger_job"]
      action: script
      script: docker login -u "${DOCKER_USER}" --password-stdin
      attempts: 3
    - name: status
      events: [post-command]
      action: notify
      context: buildkite/step
    - name: cleanup
      events: [post-command, pre-exit]
      when:
        branches: ["main", "8.*"]
      action: script
      script: rm -rf build/
`

var (
	ghHandle  = secret.Handle{Path: "kv/ci-shared/platform-ingest/github_token", Field: "token"}
	gcsHandle = secret.Handle{Path: "kv/ci-shared/platform-ingest/gcp-platform-ingest-ci-service-account", Field: "data"}

	packetbeat = buildcontext.Context{
		PipelineSlug: "beats-xpack-packetbeat",
		StepKey:      "extended-win-10-system-tests",
		BuildSource:  "webhook",
		Branch:       "main",
		Command:      ".buildkite/scripts/win_unit_tests.ps1",
	}
)

func loadTable(t *testing.T) *Table {
	t.Helper()
	cfg, err := config.NewConfigFrom(rulesYAML)
	require.NoError(t, err)

	var c struct {
		Hooks Config `config:"hooks"`
	}
	c.Hooks = DefaultConfig()
	require.NoError(t, cfg.UnpackTo(&c))

	log, _ := loggertest.New("hooks")
	table, err := NewTable(log, c.Hooks)
	require.NoError(t, err)
	return table
}

func kinds(actions []Action) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Rule)
	}
	return out
}

func TestDispatchAllMatchingRulesFireInOrder(t *testing.T) {
	table := loadTable(t)
	ctx := context.Background()

	assert.Equal(t,
		[]string{"github-token", "packetbeat-gcs", "beats-env", "docker-login"},
		kinds(table.Dispatch(ctx, PreCommand, packetbeat)))
	assert.Equal(t,
		[]string{"status", "cleanup"},
		kinds(table.Dispatch(ctx, PostCommand, packetbeat)))
	assert.Equal(t,
		[]string{"cleanup"},
		kinds(table.Dispatch(ctx, PreExit, packetbeat)))

	other := buildcontext.Context{PipelineSlug: "elastic-agent", StepKey: "unit", BuildSource: "ui", Branch: "feature"}
	assert.Equal(t, []string{"github-token"}, kinds(table.Dispatch(ctx, PreCommand, other)))
	assert.Equal(t, []string{"status"}, kinds(table.Dispatch(ctx, PostCommand, other)))
	assert.Empty(t, table.Dispatch(ctx, PreExit, other))
}

func TestDispatchActionsContent(t *testing.T) {
	table := loadTable(t)
	actions := table.Dispatch(context.Background(), PreCommand, packetbeat)
	require.Len(t, actions, 4)

	assert.Equal(t, ActionBindEnv, actions[1].Kind)
	assert.Equal(t, []environment.Binding{{Name: "PRIVATE_CI_GCS_CREDENTIALS_SECRET", Handle: gcsHandle}}, actions[1].Bindings)

	assert.Equal(t, ActionExport, actions[2].Kind)
	assert.Equal(t, "1.22", actions[2].Env["GO_VERSION"])

	assert.Equal(t, ActionScript, actions[3].Kind)
	assert.Equal(t, 3, actions[3].Attempts)
	assert.Equal(t, `docker login -u "${DOCKER_USER}" --password-stdin`, actions[3].Script, "scripts are not expanded")
	assert.Equal(t, "GO_VERSION MODULE", actions[2].Describe())
}

func TestMetaCommandBypass(t *testing.T) {
	table := loadTable(t)
	ctx := context.Background()

	for _, command := range []string{
		"buildkite-agent pipeline upload",
		"buildkite-agent pipeline upload .buildkite/pipeline.yml",
		".buildkite/scripts/generate.sh | buildkite-agent pipeline upload",
		"  buildkite-agent pipeline upload  ",
	} {
		t.Run(command, func(t *testing.T) {
			bctx := packetbeat.WithCommand(command)
			assert.Empty(t, table.Dispatch(ctx, PreCommand, bctx))
			assert.Empty(t, table.SecretBindings(bctx))
			assert.False(t, table.Authorize(bctx, ghHandle))
			overrides, err := table.Overrides(ctx, bctx)
			require.NoError(t, err)
			assert.Empty(t, overrides)

			// only pre-command is bypassed
			assert.NotEmpty(t, table.Dispatch(ctx, PostCommand, bctx))
		})
	}
}

func TestSecretBindings(t *testing.T) {
	table := loadTable(t)

	assert.Equal(t, []environment.Binding{
		{Name: "GITHUB_TOKEN", Handle: ghHandle},
		{Name: "PRIVATE_CI_GCS_CREDENTIALS_SECRET", Handle: gcsHandle},
	}, table.SecretBindings(packetbeat))

	linux := packetbeat.WithStep("mandatory-linux-unit-tests")
	assert.Equal(t, []environment.Binding{{Name: "GITHUB_TOKEN", Handle: ghHandle}}, table.SecretBindings(linux))
}

func TestAuthorize(t *testing.T) {
	table := loadTable(t)

	assert.True(t, table.Authorize(packetbeat, gcsHandle))
	assert.True(t, table.Authorize(packetbeat, ghHandle))

	assert.False(t, table.Authorize(packetbeat.WithStep("mandatory-linux-unit-tests"), gcsHandle))
	other := packetbeat
	other.PipelineSlug = "beats-xpack-filebeat"
	assert.False(t, table.Authorize(other, gcsHandle))
	assert.False(t, table.Authorize(packetbeat, secret.Handle{Path: "kv/other", Field: "x"}))
}

func TestOverrides(t *testing.T) {
	table := loadTable(t)

	env, err := table.Overrides(context.Background(), packetbeat)
	require.NoError(t, err)
	assert.Equal(t, environment.Map{"GO_VERSION": "1.22", "MODULE": "packetbeat"}, env)
}

func TestParseEvent(t *testing.T) {
	for _, e := range Events {
		got, err := ParseEvent(string(e))
		require.NoError(t, err)
		assert.Equal(t, e, got)
	}
	_, err := ParseEvent("post-checkout")
	assert.True(t, errors.IsType(err, errors.TypeConfig))
}

func TestInvalidRules(t *testing.T) {
	tests := map[string]RuleConfig{
		"unknown action":         {Action: "shell"},
		"bind-env without names": {Action: ActionBindEnv, Secrets: []environment.Binding{{Handle: ghHandle}}},
		"bind-env on pre-exit":   {Action: ActionBindEnv, Events: []string{"pre-exit"}, Secrets: []environment.Binding{{Name: "A", Handle: ghHandle}}},
		"empty bind-env":         {Action: ActionBindEnv},
		"empty export":           {Action: ActionExport},
		"empty script":           {Action: ActionScript, Script: "  "},
		"notify without context": {Action: ActionNotify},
		"unknown event":          {Action: ActionNotify, Context: "c", Events: []string{"post-checkout"}},
		"invalid pattern":        {Action: ActionNotify, Context: "c", When: PredicateConfig{Pipelines: []string{"beats-["}}},
	}

	log, _ := loggertest.New("hooks")
	for name, rc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewTable(log, Config{Rules: []RuleConfig{rc}})
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.TypeConfig), err.Error())
		})
	}

	_, err := NewTable(log, Config{MetaCommands: []string{"[unclosed"}})
	assert.True(t, errors.IsType(err, errors.TypeConfig))
}

func TestPredicateIsPure(t *testing.T) {
	p, err := CompilePredicate(PredicateConfig{
		Pipelines: []string{"beats-*"},
		Sources:   []string{"ui"},
	})
	require.NoError(t, err)

	ui := buildcontext.Context{PipelineSlug: "beats", BuildSource: "ui"}
	for i := 0; i < 3; i++ {
		assert.False(t, p.Match(ui), "beats does not match beats-*")
		ui.PipelineSlug = "beats-xpack-packetbeat"
		assert.True(t, p.Match(ui))
		ui.PipelineSlug = "beats"
	}
	assert.False(t, p.Match(buildcontext.Context{PipelineSlug: "beats-x", BuildSource: "webhook"}))
}
