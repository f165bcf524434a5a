// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

// Package secrettest provides an in-memory secret store for tests.
package secrettest

import (
	"context"
	"fmt"
	"sync"

	"github.com/elastic/ci-orchestrator/internal/pkg/secret"
)

// Store is an in-memory secret.Store. Failures can be queued per handle and
// every lookup is counted.
type Store struct {
	mx       sync.Mutex
	values   map[secret.Handle]string
	failures map[secret.Handle][]error
	lookups  map[secret.Handle]int
}

// NewStore returns a store holding values, keyed by "<path>#<field>".
func NewStore(values map[string]string) *Store {
	s := &Store{
		values:   make(map[secret.Handle]string),
		failures: make(map[secret.Handle][]error),
		lookups:  make(map[secret.Handle]int),
	}
	for k, v := range values {
		h, err := secret.ParseHandle(k)
		if err != nil {
			panic(err)
		}
		s.values[h] = v
	}
	return s
}

// Set stores a value.
func (s *Store) Set(h secret.Handle, v string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.values[h] = v
}

// FailNext queues errors returned by the next lookups of h, in order.
func (s *Store) FailNext(h secret.Handle, errs ...error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.failures[h] = append(s.failures[h], errs...)
}

// Lookups returns how many times h was looked up.
func (s *Store) Lookups(h secret.Handle) int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.lookups[h]
}

// Lookup implements secret.Store.
func (s *Store) Lookup(_ context.Context, h secret.Handle) (string, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	s.lookups[h]++
	if queued := s.failures[h]; len(queued) > 0 {
		s.failures[h] = queued[1:]
		return "", queued[0]
	}
	v, ok := s.values[h]
	if !ok {
		return "", fmt.Errorf("%w: %s", secret.ErrNotFound, h)
	}
	return v, nil
}
