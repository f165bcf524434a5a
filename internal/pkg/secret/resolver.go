// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package secret

import (
	"context"
	"fmt"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/buildcontext"
	"github.com/elastic/ci-orchestrator/internal/pkg/redact"
	"github.com/elastic/ci-orchestrator/pkg/core/logger"
	"github.com/elastic/ci-orchestrator/pkg/core/retry"
)

// DefaultMaxAttempts is the number of store lookups made before a secret is
// reported unavailable.
const DefaultMaxAttempts = 5

// Resolver resolves handles through a Store.
type Resolver struct {
	log         *logger.Logger
	store       Store
	authz       Authorizer
	retrier     *retry.Executor
	maxAttempts int
	masker      *redact.Masker
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithRetrier sets the executor used to retry transient store failures.
func WithRetrier(e *retry.Executor) ResolverOption {
	return func(r *Resolver) {
		r.retrier = e
	}
}

// WithMaxAttempts sets the lookup budget of one resolution.
func WithMaxAttempts(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithMasker registers every resolved value with m.
func WithMasker(m *redact.Masker) ResolverOption {
	return func(r *Resolver) {
		r.masker = m
	}
}

// NewResolver creates a resolver. A nil authz denies every handle.
func NewResolver(log *logger.Logger, store Store, authz Authorizer, opts ...ResolverOption) *Resolver {
	if authz == nil {
		authz = AuthorizerFunc(func(buildcontext.Context, Handle) bool { return false })
	}
	r := &Resolver{
		log:         log,
		store:       store,
		authz:       authz,
		retrier:     retry.New(nil),
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the value of h for the step described by bctx.
func (r *Resolver) Resolve(ctx context.Context, bctx buildcontext.Context, h Handle) (Value, error) {
	meta := []interface{}{errors.M(errors.MetaKeyPath, h.Path), errors.M(errors.MetaKeyField, h.Field)}

	if err := h.Validate(); err != nil {
		return Value{}, err
	}

	if !r.authz.Authorize(bctx, h) {
		r.log.Warnw("Secret access not declared for this step",
			append(bctx.LogFields(), "secret.path", h.Path, "secret.field", h.Field)...)
		return Value{}, errors.New(append([]interface{}{
			ErrAuthFailure,
			fmt.Sprintf("secret %s is not granted to pipeline %q step %q", h, bctx.PipelineSlug, bctx.StepKey),
			errors.TypeSecurity,
		}, meta...)...)
	}

	var raw string
	err := r.retrier.Do(ctx, r.maxAttempts, func(attempt int) error {
		v, err := r.store.Lookup(ctx, h)
		if err != nil {
			r.log.Debugw("Secret lookup failed", "secret.path", h.Path, "secret.field", h.Field, "attempt", attempt, "error.message", err.Error())
			return classify(err, meta)
		}
		raw = v
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return Value{}, errors.New(err, fmt.Sprintf("resolving secret %s was cancelled", h))
		}
		if errors.IsType(err, errors.TypeNetwork) {
			return Value{}, errors.New(append([]interface{}{
				fmt.Errorf("%w: %w", ErrUnavailable, err),
				fmt.Sprintf("secret %s could not be resolved after %d attempts", h, r.maxAttempts),
				errors.TypeNetwork,
			}, meta...)...)
		}
		return Value{}, err
	}

	if r.masker != nil {
		r.masker.Add(raw)
	}
	r.log.Debugw("Secret resolved", "secret.path", h.Path, "secret.field", h.Field)
	return NewValue(raw), nil
}

// classify maps a store failure to the error taxonomy. Only transient
// failures are retried.
func classify(err error, meta []interface{}) error {
	var t errors.ErrorType
	switch {
	case errors.Is(err, ErrNotFound):
		t = errors.TypeConfig
	case errors.Is(err, ErrAuthFailure):
		t = errors.TypeSecurity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return retry.ErrorMakeFatal(err)
	default:
		t = errors.TypeNetwork
	}
	return errors.New(append([]interface{}{err, t}, meta...)...)
}
