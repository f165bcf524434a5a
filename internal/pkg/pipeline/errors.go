// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package pipeline

import (
	"fmt"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
)

// ErrGenerator is wrapped by every generator failure.
var ErrGenerator = errors.New("pipeline generator failed", errors.TypeApplication)

// ErrState is returned when an operation is not allowed in the current
// state of an expander.
var ErrState = errors.New("invalid expansion state", errors.TypeConfig)

func configError(args ...interface{}) error {
	return errors.New(append([]interface{}{errors.TypeConfig}, args...)...)
}

// NewGeneratorError reports a failed generator run. exitCode and output are
// surfaced verbatim on the failed build.
func NewGeneratorError(cause error, exitCode int, output string) error {
	if cause == nil {
		cause = ErrGenerator
	} else {
		cause = fmt.Errorf("%w: %w", ErrGenerator, cause)
	}
	return errors.New(
		cause,
		errors.TypeApplication,
		errors.M(errors.MetaKeyExitCode, exitCode),
		errors.M(errors.MetaKeyOutput, output),
	)
}

// GeneratorExitCode returns the exit code carried by a generator error.
func GeneratorExitCode(err error) (int, bool) {
	if !errors.Is(err, ErrGenerator) {
		return 0, false
	}
	code, ok := errors.MetaOf(err)[errors.MetaKeyExitCode].(int)
	return code, ok
}
