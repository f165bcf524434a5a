// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/remote"
	"github.com/elastic/ci-orchestrator/pkg/core/logger"
	"github.com/elastic/ci-orchestrator/pkg/core/retry"
	"github.com/elastic/ci-orchestrator/version"
)

const maxDescription = 140

// Sender is the part of the remote client used by GitHub.
type Sender interface {
	Send(ctx context.Context, method, path string, params url.Values, headers http.Header, body io.Reader) (*http.Response, error)
}

// GitHub posts commit statuses with the GitHub REST API.
type GitHub struct {
	log      *logger.Logger
	client   Sender
	retrier  *retry.Executor
	attempts int
	owner    string
	repo     string
}

// NewGitHub returns a notifier posting to the statuses of owner/repo.
func NewGitHub(log *logger.Logger, client Sender, retrier *retry.Executor, attempts int, repository string) (*GitHub, error) {
	owner, repo, err := ParseRepository(repository)
	if err != nil {
		return nil, err
	}
	if attempts < 1 {
		attempts = 1
	}
	return &GitHub{
		log:      log,
		client:   client,
		retrier:  retrier,
		attempts: attempts,
		owner:    owner,
		repo:     repo,
	}, nil
}

// NewGitHubFromConfig builds the remote client of cfg. repoURL is used when
// cfg has no repository.
func NewGitHubFromConfig(log *logger.Logger, cfg Config, retrier *retry.Executor, repoURL string) (*GitHub, error) {
	client, err := remote.NewWithConfig(log, cfg.GitHub, remote.Chain(
		func(rt http.RoundTripper) (http.RoundTripper, error) {
			return remote.NewUserAgentRoundTripper(rt, "ci-orchestrator/"+version.GetDefaultVersion()), nil
		},
		func(rt http.RoundTripper) (http.RoundTripper, error) {
			return remote.NewTokenRoundTripper(rt, cfg.Token), nil
		},
	))
	if err != nil {
		return nil, err
	}
	repository := cfg.Repository
	if repository == "" {
		repository = repoURL
	}
	return NewGitHub(log, client, retrier, cfg.Attempts, repository)
}

type statusRequest struct {
	State       State  `json:"state"`
	TargetURL   string `json:"target_url,omitempty"`
	Description string `json:"description,omitempty"`
	Context     string `json:"context"`
}

// Notify posts status. Throttling and server errors are retried, the
// other failures are fatal.
func (g *GitHub) Notify(ctx context.Context, status Status) error {
	if err := status.Validate(); err != nil {
		return err
	}
	desc := status.Description
	if len(desc) > maxDescription {
		desc = desc[:maxDescription-3] + "..."
	}
	body, err := json.Marshal(statusRequest{
		State:       status.State,
		TargetURL:   status.TargetURL,
		Description: desc,
		Context:     status.Context,
	})
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/repos/%s/%s/statuses/%s", g.owner, g.repo, status.Commit)
	headers := http.Header{
		"Accept":               []string{"application/vnd.github+json"},
		"X-GitHub-Api-Version": []string{"2022-11-28"},
	}
	err = g.retrier.Do(ctx, g.attempts, func(int) error {
		resp, err := g.client.Send(ctx, http.MethodPost, path, nil, headers, bytes.NewReader(body))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return remote.ExtractResponseError(resp)
	})
	if err != nil {
		return errors.New(err, fmt.Sprintf("failed to post commit status %q", status.Context),
			errors.M("commit", status.Commit))
	}
	g.log.Debugw("Posted commit status", "status.context", status.Context, "status.state", status.State)
	return nil
}

// ParseRepository returns the owner and name of a GitHub repository given
// as "owner/name", an https URL or an ssh remote.
func ParseRepository(s string) (string, string, error) {
	r := strings.TrimSpace(s)
	r = strings.TrimSuffix(r, ".git")
	switch {
	case strings.HasPrefix(r, "git@"):
		if i := strings.Index(r, ":"); i >= 0 {
			r = r[i+1:]
		}
	case strings.Contains(r, "://"):
		u, err := url.Parse(r)
		if err != nil {
			return "", "", errors.New(err, fmt.Sprintf("invalid repository %q", s), errors.TypeConfig)
		}
		r = u.Path
	}
	r = strings.Trim(r, "/")
	parts := strings.Split(r, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New(fmt.Sprintf("invalid repository %q, expected owner/name", s), errors.TypeConfig)
	}
	return parts[0], parts[1], nil
}
