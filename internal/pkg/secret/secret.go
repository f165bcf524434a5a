// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

// Package secret resolves secret handles to values from a secret store on
// behalf of a build step. Access is scoped: a handle is only resolved for the
// pipelines and steps the Authorizer allows.
package secret

import (
	"context"
	"fmt"
	"strings"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/buildcontext"
	"github.com/elastic/ci-orchestrator/internal/pkg/redact"
)

var (
	// ErrNotFound is returned when the path or field does not exist in the store.
	ErrNotFound = errors.New("secret not found")
	// ErrAuthFailure is returned when the caller is not allowed to read the secret.
	ErrAuthFailure = errors.New("secret access denied")
	// ErrUnavailable is returned when the store could not be reached.
	ErrUnavailable = errors.New("secret store unavailable")
)

// Handle identifies a secret in a store.
type Handle struct {
	Path  string
	Field string
}

// ParseHandle parses the "<path>#<field>" form of a handle.
func ParseHandle(s string) (Handle, error) {
	idx := strings.LastIndex(s, "#")
	if idx < 0 {
		return Handle{}, errors.New(fmt.Sprintf("invalid secret handle %q, expected <path>#<field>", s), errors.TypeConfig)
	}
	h := Handle{Path: s[:idx], Field: s[idx+1:]}
	return h, h.Validate()
}

// Unpack implements ucfg.StringUnpacker, handles are written as
// "<path>#<field>" in the configuration.
func (h *Handle) Unpack(s string) error {
	parsed, err := ParseHandle(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Validate checks that both parts of the handle are set.
func (h Handle) Validate() error {
	if strings.TrimSpace(h.Path) == "" || strings.TrimSpace(h.Field) == "" {
		return errors.New(fmt.Sprintf("invalid secret handle %q, path and field are required", h.String()), errors.TypeConfig)
	}
	return nil
}

func (h Handle) String() string {
	return h.Path + "#" + h.Field
}

// Value is a resolved secret. Every printed or serialized form of a Value is
// redacted, Reveal returns the raw value.
type Value struct {
	v string
}

// NewValue wraps a raw secret.
func NewValue(v string) Value {
	return Value{v: v}
}

// Reveal returns the raw secret.
func (s Value) Reveal() string {
	return s.v
}

// IsZero reports whether the value is empty.
func (s Value) IsZero() bool {
	return s.v == ""
}

func (s Value) String() string {
	return redact.REDACTED
}

func (s Value) GoString() string {
	return redact.REDACTED
}

// Format implements fmt.Formatter so that no verb prints the raw value.
func (s Value) Format(f fmt.State, _ rune) {
	_, _ = f.Write([]byte(redact.REDACTED))
}

// MarshalText implements encoding.TextMarshaler.
func (s Value) MarshalText() ([]byte, error) {
	return []byte(redact.REDACTED), nil
}

// Store is a key/value secret store keyed by handle. Implementations wrap
// ErrNotFound and ErrAuthFailure for the failures that must not be retried,
// any other error is treated as transient.
type Store interface {
	Lookup(ctx context.Context, h Handle) (string, error)
}

// Authorizer decides which handles a build step may resolve.
type Authorizer interface {
	Authorize(bctx buildcontext.Context, h Handle) bool
}

// AuthorizerFunc adapts a function to an Authorizer.
type AuthorizerFunc func(bctx buildcontext.Context, h Handle) bool

func (f AuthorizerFunc) Authorize(bctx buildcontext.Context, h Handle) bool {
	return f(bctx, h)
}
