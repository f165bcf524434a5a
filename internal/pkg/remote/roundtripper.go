// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package remote

import (
	"net/http"
)

// UserAgentRoundTripper sets the User-Agent of every request.
type UserAgentRoundTripper struct {
	rt        http.RoundTripper
	userAgent string
}

// NewUserAgentRoundTripper returns a round tripper setting userAgent.
func NewUserAgentRoundTripper(wrapped http.RoundTripper, userAgent string) http.RoundTripper {
	return &UserAgentRoundTripper{rt: wrapped, userAgent: userAgent}
}

// RoundTrip implements http.RoundTripper.
func (r *UserAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", r.userAgent)
	return r.rt.RoundTrip(req)
}

// TokenRoundTripper authenticates every request with a bearer token.
type TokenRoundTripper struct {
	rt    http.RoundTripper
	token string
}

// NewTokenRoundTripper returns a round tripper authenticating with token.
// An empty token leaves requests unauthenticated.
func NewTokenRoundTripper(wrapped http.RoundTripper, token string) http.RoundTripper {
	return &TokenRoundTripper{rt: wrapped, token: token}
}

// RoundTrip implements http.RoundTripper.
func (r *TokenRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if r.token == "" {
		return r.rt.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+r.token)
	return r.rt.RoundTrip(req)
}

// Chain applies the wrappers in order, the first one being the innermost.
func Chain(wrappers ...WrapperFunc) WrapperFunc {
	return func(rt http.RoundTripper) (http.RoundTripper, error) {
		var err error
		for _, w := range wrappers {
			if rt, err = w(rt); err != nil {
				return nil, err
			}
		}
		return rt, nil
	}
}
