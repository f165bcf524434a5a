// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package remote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/ci-orchestrator/internal/pkg/config"
)

func TestUnpackConfig(t *testing.T) {
	cfg := config.MustNewConfigFrom(map[string]interface{}{
		"protocol": "http",
		"hosts":    []string{"github-proxy.internal:8080", "api.github.com"},
		"timeout":  "5s",
	})

	c := DefaultClientConfig()
	require.NoError(t, cfg.UnpackTo(&c))
	assert.Equal(t, ProtocolHTTP, c.Protocol)
	assert.Equal(t, []string{"github-proxy.internal:8080", "api.github.com"}, c.GetHosts())
	assert.Equal(t, 5*time.Second, c.Transport.Timeout)
}

func TestUnpackInvalidProtocol(t *testing.T) {
	cfg := config.MustNewConfigFrom(map[string]interface{}{"protocol": "ftp"})
	c := DefaultClientConfig()
	assert.Error(t, cfg.UnpackTo(&c))
}

func TestDefaultHost(t *testing.T) {
	c := DefaultClientConfig()
	assert.Equal(t, []string{"api.github.com"}, c.GetHosts())
	assert.Equal(t, ProtocolHTTPS, c.Protocol)
}
