// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package vault

import "time"

// defaultFlockRetryDelay default file lock retry delay
const defaultFlockRetryDelay = 10 * time.Millisecond

type OptionFunc func(o *Options)

type Options struct {
	readonly       bool
	vaultPath      string
	lockRetryDelay time.Duration
}

// WithReadonly opens storage for read-only access only. A read-only vault
// must already exist.
func WithReadonly(readonly bool) OptionFunc {
	return func(o *Options) {
		o.readonly = readonly
	}
}

// WithVaultPath sets the directory holding the vault.
func WithVaultPath(vaultPath string) OptionFunc {
	return func(o *Options) {
		o.vaultPath = vaultPath
	}
}

// WithLockRetryDelay sets how often a busy lock is retried.
func WithLockRetryDelay(d time.Duration) OptionFunc {
	return func(o *Options) {
		o.lockRetryDelay = d
	}
}

// ApplyOptions applies the options over the defaults.
func ApplyOptions(opts ...OptionFunc) Options {
	o := Options{
		lockRetryDelay: defaultFlockRetryDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
