// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const (
	seedFile = ".seed"
)

var (
	mxSeed sync.Mutex
)

func getSeed(path string) ([]byte, error) {
	fp := filepath.Join(path, seedFile)

	mxSeed.Lock()
	defer mxSeed.Unlock()

	b, err := os.ReadFile(fp)
	if err != nil {
		return nil, fmt.Errorf("could not read seed file: %w", err)
	}

	// return fs.ErrNotExist if invalid length of bytes returned
	if len(b) != int(keySize) {
		return nil, fmt.Errorf("invalid seed length, expected: %v, got: %v: %w", int(keySize), len(b), fs.ErrNotExist)
	}
	return b, nil
}

func createSeedIfNotExists(path string) ([]byte, error) {
	fp := filepath.Join(path, seedFile)

	mxSeed.Lock()
	defer mxSeed.Unlock()

	b, err := os.ReadFile(fp)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if len(b) != 0 {
		return b, nil
	}

	seed, err := newKey(keySize)
	if err != nil {
		return nil, err
	}

	err = os.WriteFile(fp, seed, 0600)
	if err != nil {
		return nil, err
	}

	return seed, nil
}

func getOrCreateSeed(path string, readonly bool) ([]byte, error) {
	if readonly {
		return getSeed(path)
	}
	return createSeedIfNotExists(path)
}
