// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package secret_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/buildcontext"
	"github.com/elastic/ci-orchestrator/internal/pkg/redact"
	"github.com/elastic/ci-orchestrator/internal/pkg/secret"
	"github.com/elastic/ci-orchestrator/internal/pkg/secret/secrettest"
	"github.com/elastic/ci-orchestrator/pkg/core/logger/loggertest"
	"github.com/elastic/ci-orchestrator/pkg/core/retry"
)

var (
	gcsHandle = secret.Handle{Path: "kv/ci-shared/platform-ingest/gcp-platform-ingest-ci-service-account", Field: "data"}
	packetbeatCtx = buildcontext.Context{
		PipelineSlug: "beats-xpack-packetbeat",
		StepKey:      "extended-win-10-system-tests",
		BuildSource:  "webhook",
	}
)

const gcsValue = "gcs-credentials-json"

func fastRetrier() *retry.Executor {
	return retry.New(&retry.Config{MaxAttempts: 5, Delay: time.Millisecond, MaxDelay: time.Millisecond})
}

func allowPacketbeat() secret.Authorizer {
	return secret.AuthorizerFunc(func(bctx buildcontext.Context, h secret.Handle) bool {
		return bctx.PipelineSlug == "beats-xpack-packetbeat" && h == gcsHandle
	})
}

func TestResolve(t *testing.T) {
	log, obs := loggertest.New("secret")
	store := secrettest.NewStore(map[string]string{gcsHandle.String(): gcsValue})
	masker := redact.NewMasker()

	r := secret.NewResolver(log, store, allowPacketbeat(), secret.WithRetrier(fastRetrier()), secret.WithMasker(masker))

	v, err := r.Resolve(context.Background(), packetbeatCtx, gcsHandle)
	require.NoError(t, err)
	assert.Equal(t, gcsValue, v.Reveal())
	assert.Equal(t, 1, store.Lookups(gcsHandle))

	assert.Equal(t, "token=<REDACTED>", masker.Mask("token="+gcsValue))
	assert.False(t, loggertest.Contains(obs, gcsValue), "secret value reached the logger")
}

func TestResolveNotAuthorized(t *testing.T) {
	log, obs := loggertest.New("secret")
	store := secrettest.NewStore(map[string]string{gcsHandle.String(): gcsValue})
	r := secret.NewResolver(log, store, allowPacketbeat(), secret.WithRetrier(fastRetrier()))

	other := packetbeatCtx
	other.PipelineSlug = "beats-xpack-filebeat"

	_, err := r.Resolve(context.Background(), other, gcsHandle)
	require.Error(t, err)
	assert.ErrorIs(t, err, secret.ErrAuthFailure)
	assert.True(t, errors.IsType(err, errors.TypeSecurity))
	assert.Zero(t, store.Lookups(gcsHandle), "the store must not be contacted")
	assert.True(t, loggertest.Contains(obs, "Secret access not declared"))
}

func TestResolveNilAuthorizerDeniesAll(t *testing.T) {
	log, _ := loggertest.New("secret")
	store := secrettest.NewStore(map[string]string{gcsHandle.String(): gcsValue})
	r := secret.NewResolver(log, store, nil)

	_, err := r.Resolve(context.Background(), packetbeatCtx, gcsHandle)
	assert.ErrorIs(t, err, secret.ErrAuthFailure)
}

func TestResolveFailures(t *testing.T) {
	tests := []struct {
		name        string
		failures    []error
		value       bool
		wantLookups int
		wantErr     error
		wantType    errors.ErrorType
	}{
		{
			name:        "not found is not retried",
			wantLookups: 1,
			wantErr:     secret.ErrNotFound,
			wantType:    errors.TypeConfig,
		},
		{
			name:        "store denies access",
			failures:    []error{fmt.Errorf("%w: permission denied", secret.ErrAuthFailure)},
			value:       true,
			wantLookups: 1,
			wantErr:     secret.ErrAuthFailure,
			wantType:    errors.TypeSecurity,
		},
		{
			name:        "transient failures are absorbed",
			failures:    []error{fmt.Errorf("connection refused"), fmt.Errorf("i/o timeout")},
			value:       true,
			wantLookups: 3,
		},
		{
			name: "unavailable after the budget",
			failures: []error{
				fmt.Errorf("connection refused"), fmt.Errorf("connection refused"), fmt.Errorf("connection refused"),
				fmt.Errorf("connection refused"), fmt.Errorf("connection refused"),
			},
			value:       true,
			wantLookups: secret.DefaultMaxAttempts,
			wantErr:     secret.ErrUnavailable,
			wantType:    errors.TypeNetwork,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			log, _ := loggertest.New("secret")
			store := secrettest.NewStore(nil)
			if tc.value {
				store.Set(gcsHandle, gcsValue)
			}
			store.FailNext(gcsHandle, tc.failures...)

			r := secret.NewResolver(log, store, allowPacketbeat(), secret.WithRetrier(fastRetrier()))
			v, err := r.Resolve(context.Background(), packetbeatCtx, gcsHandle)
			assert.Equal(t, tc.wantLookups, store.Lookups(gcsHandle))

			if tc.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, gcsValue, v.Reveal())
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, tc.wantType, errors.TypeOf(err))
			assert.True(t, v.IsZero())
			assert.Equal(t, gcsHandle.Path, errors.MetaOf(err)[errors.MetaKeyPath])
		})
	}
}

func TestResolveMaxAttempts(t *testing.T) {
	log, _ := loggertest.New("secret")
	store := secrettest.NewStore(nil)
	store.FailNext(gcsHandle, fmt.Errorf("timeout"), fmt.Errorf("timeout"), fmt.Errorf("timeout"))

	r := secret.NewResolver(log, store, allowPacketbeat(), secret.WithRetrier(fastRetrier()), secret.WithMaxAttempts(2))
	_, err := r.Resolve(context.Background(), packetbeatCtx, gcsHandle)
	assert.ErrorIs(t, err, secret.ErrUnavailable)
	assert.Equal(t, 2, store.Lookups(gcsHandle))
}

func TestResolveInvalidHandle(t *testing.T) {
	log, _ := loggertest.New("secret")
	r := secret.NewResolver(log, secrettest.NewStore(nil), allowPacketbeat())

	_, err := r.Resolve(context.Background(), packetbeatCtx, secret.Handle{Path: "kv/x"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.TypeConfig))
}
