// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package id

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID is a sortable unique identifier.
type ID = ulid.ULID

var (
	mx      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// Generate returns an ID ordered after every ID previously generated by
// this process.
func Generate() (ID, error) {
	mx.Lock()
	defer mx.Unlock()
	return ulid.New(ulid.Timestamp(time.Now()), entropy)
}
