// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package errors

import "errors"

// Is is a proxy for errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a proxy for errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Unwrap is a proxy for errors.Unwrap.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// Join is a proxy for errors.Join.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
