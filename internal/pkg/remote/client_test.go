// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/config"
	"github.com/elastic/ci-orchestrator/pkg/core/logger/loggertest"
)

const statusPath = "/repos/elastic/beats/statuses/4f2a9c1"

type commitStatus struct {
	State   string `json:"state"`
	Context string `json:"context"`
}

// githubAPI records the commit statuses posted to it.
func githubAPI(t *testing.T, prefix string, received *[]commitStatus) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(prefix+statusPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var s commitStatus
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		*received = append(*received, s)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"state":%q}`, s.State)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})
	s := httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func TestNewConfigFromURL(t *testing.T) {
	l, _ := loggertest.New("remote")

	for uri, scheme := range map[string]string{
		"http://github.example.com":           "http",
		"https://api.github.com":              "https",
		"https://github.example.com:8443/api": "https",
	} {
		t.Run(uri, func(t *testing.T) {
			cfg, err := NewConfigFromURL(uri)
			require.NoError(t, err)

			c, err := NewWithConfig(l, cfg, nil)
			require.NoError(t, err)

			r, err := c.sortClients()[0].newRequest(context.Background(), http.MethodGet, statusPath, nil, nil)
			require.NoError(t, err)
			assert.Equal(t, scheme, r.URL.Scheme)
			assert.True(t, strings.HasSuffix(r.URL.Path, statusPath), r.URL.Path)
		})
	}
}

func TestSend(t *testing.T) {
	ctx := context.Background()
	l, _ := loggertest.New("remote")

	t.Run("posts below the configured path", func(t *testing.T) {
		var received []commitStatus
		s := githubAPI(t, "/api/v3", &received)

		cfg := config.MustNewConfigFrom(map[string]interface{}{
			"protocol": "http",
			"host":     s.Listener.Addr().String(),
			"path":     "api/v3",
		})
		client, err := NewWithRawConfig(l, cfg, nil)
		require.NoError(t, err)

		resp, err := client.Send(ctx, http.MethodPost, statusPath, nil, nil,
			strings.NewReader(`{"state":"pending","context":"beats: unit tests"}`))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, []commitStatus{{State: "pending", Context: "beats: unit tests"}}, received)
	})

	t.Run("fails over and replays the body", func(t *testing.T) {
		var received []commitStatus
		s := githubAPI(t, "", &received)

		c := &Client{log: l, clients: []*requestClient{
			{host: "http://must.fail-1.invalid/"},
			{host: "http://must.fail-2.invalid/"},
			{host: s.URL + "/"},
		}}
		resp, err := c.Send(ctx, http.MethodPost, statusPath, nil, nil,
			strings.NewReader(`{"state":"success","context":"buildkite/step"}`))
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"state":"success"}`, string(body))
		require.Len(t, received, 1)
		assert.Equal(t, "buildkite/step", received[0].Context)
	})

	t.Run("every host failing is a network error", func(t *testing.T) {
		c := &Client{log: l, clients: []*requestClient{
			{host: "http://must.fail-1.invalid/"},
			{host: "http://must.fail-2.invalid/"},
		}}
		resp, err := c.Send(ctx, http.MethodGet, statusPath, nil, nil, nil) //nolint:bodyclose // no response
		require.Error(t, err)
		assert.Nil(t, resp)
		assert.True(t, errors.IsType(err, errors.TypeNetwork))
		assert.Contains(t, err.Error(), "must.fail-2.invalid")
	})

	t.Run("authentication and request headers", func(t *testing.T) {
		var calls atomic.Int32
		s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			assert.Equal(t, "ci-orchestrator", r.Header.Get("User-Agent"))
			assert.Equal(t, "Bearer ghp_s3cr3t", r.Header.Get("Authorization"))
			assert.Equal(t, []string{"application/vnd.github+json"}, r.Header.Values("Accept"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
			w.WriteHeader(http.StatusCreated)
		}))
		defer s.Close()

		cfg, err := NewConfigFromURL(s.URL)
		require.NoError(t, err)
		client, err := NewWithConfig(l, cfg, Chain(
			func(rt http.RoundTripper) (http.RoundTripper, error) {
				return NewUserAgentRoundTripper(rt, "ci-orchestrator"), nil
			},
			func(rt http.RoundTripper) (http.RoundTripper, error) {
				return NewTokenRoundTripper(rt, "ghp_s3cr3t"), nil
			},
		))
		require.NoError(t, err)

		headers := http.Header{"Accept": []string{"application/vnd.github+json"}}
		resp, err := client.Send(ctx, http.MethodPost, statusPath, nil, headers, strings.NewReader(`{}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestExtractResponseError(t *testing.T) {
	testCases := []struct {
		status  int
		body    string
		errType errors.ErrorType
		message string
	}{
		{http.StatusUnauthorized, `{"message":"Bad credentials"}`, errors.TypeSecurity, "Bad credentials"},
		{http.StatusForbidden, ``, errors.TypeSecurity, "Forbidden"},
		{http.StatusTooManyRequests, `slow down`, errors.TypeNetwork, "slow down"},
		{http.StatusBadGateway, ``, errors.TypeNetwork, "Bad Gateway"},
		{http.StatusUnprocessableEntity, `{"message":"Validation Failed"}`, errors.TypeConfig, "Validation Failed"},
	}
	for _, tc := range testCases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			rec := httptest.NewRecorder()
			rec.WriteHeader(tc.status)
			_, _ = rec.WriteString(tc.body)

			err := ExtractResponseError(rec.Result())
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tc.errType))
			assert.Contains(t, err.Error(), tc.message)
			assert.Contains(t, err.Error(), fmt.Sprint(tc.status))
		})
	}

	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusCreated)
	assert.NoError(t, ExtractResponseError(rec.Result()))
}

func TestSortClients(t *testing.T) {
	now := time.Now().UTC()
	failed := fmt.Errorf("connection refused")

	testCases := map[string]struct {
		clients []*requestClient
		first   int
	}{
		"unused host first": {
			clients: []*requestClient{{lastUsed: now.Add(-time.Minute)}, {}},
			first:   1,
		},
		"healthy before failed": {
			clients: []*requestClient{{lastUsed: now, lastErr: failed, lastErrOcc: now}, {lastUsed: now}},
			first:   1,
		},
		"least recently used healthy host": {
			clients: []*requestClient{
				{lastUsed: now.Add(-time.Minute)},
				{lastUsed: now.Add(-3 * time.Minute), lastErr: failed, lastErrOcc: now.Add(-time.Minute)},
				{lastUsed: now.Add(-2 * time.Minute)},
			},
			first: 2,
		},
		"old failures are forgotten": {
			clients: []*requestClient{
				{lastUsed: now.Add(-10 * time.Minute), lastErr: failed, lastErrOcc: now.Add(-10 * time.Minute)},
				{lastUsed: now.Add(-time.Minute)},
			},
			first: 0,
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			want := tc.clients[tc.first]
			client := &Client{clients: tc.clients}

			got := client.sortClients()[0]
			assert.Same(t, want, got)
			assert.NoError(t, got.lastErr)
		})
	}
}
