// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package retry

import (
	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/pkg/core/process"
)

// Fatal in retry package is an interface each error needs to implement
// in order to say whether or not it is fatal.
type Fatal interface {
	Fatal() bool
}

// FatalError wraps an error and is always fatal
type FatalError struct {
	error
}

// Fatal determines whether or not error is fatal
func (FatalError) Fatal() bool {
	return true
}

// Unwrap returns the wrapped error.
func (e FatalError) Unwrap() error {
	return e.error
}

// ErrorMakeFatal is a shorthand for making an error fatal
func ErrorMakeFatal(err error) error {
	if err == nil {
		return err
	}

	return FatalError{err}
}

// IsFatal reports whether err must not be retried. Besides explicit Fatal
// errors, configuration, authorization and collaborator errors are fatal, as
// is a command that could not be started at all.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var f Fatal
	if errors.As(err, &f) && f.Fatal() {
		return true
	}

	var startErr *process.StartError
	if errors.As(err, &startErr) {
		return true
	}

	switch errors.TypeOf(err) {
	case errors.TypeConfig, errors.TypeSecurity, errors.TypeApplication:
		return true
	}
	return false
}
