// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package loggertest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContains(t *testing.T) {
	log, obs := New("loggertest")

	log.Infow("resolved secret", "path", "kv/ci-shared/token", "env", "API_TOKEN")

	assert.True(t, Contains(obs, "resolved"))
	assert.True(t, Contains(obs, "API_TOKEN"))
	assert.False(t, Contains(obs, "hunter2"))
}

func TestPrintObservedLogs(t *testing.T) {
	log, obs := New("loggertest")
	log.Infow("hello", "k", "v")

	var printed []string
	PrintObservedLogs(obs, func(a ...any) {
		printed = append(printed, a[0].(string))
	})

	assert.Equal(t, []string{"[info] hello k=v"}, printed)
	assert.Empty(t, obs.All())
}
