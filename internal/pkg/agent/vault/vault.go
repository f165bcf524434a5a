// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package vault

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"golang.org/x/crypto/pbkdf2"
)

const (
	lockFile = `.lock`
	saltSize = 8

	pbkdf2Iterations = 12022
)

// ErrKeyNotFound is returned by Get when the key is not stored in the vault.
var ErrKeyNotFound = errors.New("key not found in vault")

// Vault is an encrypted key/value store on the local disk. Every value is
// stored in its own file, encrypted with AES-GCM under a key derived from the
// vault seed. Concurrent access from several processes is serialized with a
// file lock.
type Vault struct {
	path string
	seed []byte

	options Options
	lock    *flock.Flock
}

// New opens the vault, creating it unless it is opened read-only.
func New(ctx context.Context, opts ...OptionFunc) (v *Vault, err error) {
	options := ApplyOptions(opts...)
	path := options.vaultPath
	if path == "" {
		return nil, errors.New("vault path is not set")
	}

	if options.readonly {
		fi, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			return nil, fs.ErrNotExist
		}
	} else {
		err := os.MkdirAll(path, 0750)
		if err != nil {
			return nil, fmt.Errorf("failed to create vault path: %v, err: %w", path, err)
		}
	}

	r := &Vault{
		path:    path,
		options: options,
		lock:    flock.New(filepath.Join(path, lockFile)),
	}

	err = r.tryLock(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = r.unlock(err)
	}()

	r.seed, err = getOrCreateSeed(path, options.readonly)
	if err != nil {
		return nil, fmt.Errorf("could not get seed to create new vault: %w", err)
	}

	return r, nil
}

// Path returns the directory of the vault.
func (v *Vault) Path() string {
	return v.path
}

// try to acquire exclusive lock
func (v *Vault) tryLock(ctx context.Context) error {
	_, err := v.lock.TryLockContext(ctx, v.options.lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to acquire exclusive lock: %v, err: %w", v.lock.Path(), err)
	}
	return nil
}

// try to acquire shared lock
func (v *Vault) tryRLock(ctx context.Context) error {
	_, err := v.lock.TryRLockContext(ctx, v.options.lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to acquire shared lock: %v, err: %w", v.lock.Path(), err)
	}
	return nil
}

// unlock unlocks the file lock and preserves the original error if there was a error
func (v *Vault) unlock(err error) error {
	unerr := v.lock.Unlock()
	if err != nil {
		return err
	}
	return unerr
}

// Close releases the lock file handle.
func (v *Vault) Close() error {
	return v.lock.Close()
}

// Set stores the value for key, replacing any previous value.
func (v *Vault) Set(ctx context.Context, key string, data []byte) (err error) {
	if v.options.readonly {
		return fmt.Errorf("vault %s is opened read-only", v.path)
	}
	enc, err := v.encrypt(data)
	if err != nil {
		return err
	}

	err = v.tryLock(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = v.unlock(err)
	}()

	return writeFile(v.filepathFromKey(key), enc)
}

// Get retrieves the value stored for key. ErrKeyNotFound is returned when
// there is none.
func (v *Vault) Get(ctx context.Context, key string) (dec []byte, err error) {
	err = v.tryRLock(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = v.unlock(err)
	}()

	enc, err := os.ReadFile(v.filepathFromKey(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		return nil, err
	}

	return v.decrypt(enc)
}

// Exists checks if the key exists
func (v *Vault) Exists(ctx context.Context, key string) (ok bool, err error) {
	err = v.tryRLock(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		err = v.unlock(err)
	}()

	if _, err = os.Stat(v.filepathFromKey(key)); err == nil {
		ok = true
	} else if errors.Is(err, fs.ErrNotExist) {
		err = nil
	}
	return ok, err
}

// Remove removes the key
func (v *Vault) Remove(ctx context.Context, key string) (err error) {
	if v.options.readonly {
		return fmt.Errorf("vault %s is opened read-only", v.path)
	}
	err = v.tryLock(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = v.unlock(err)
	}()

	return os.RemoveAll(v.filepathFromKey(key))
}

func (v *Vault) encrypt(data []byte) ([]byte, error) {
	key, salt, err := deriveKey(v.seed, nil)
	if err != nil {
		return nil, err
	}
	enc, err := encrypt(key, data)
	if err != nil {
		return nil, err
	}
	return append(salt, enc...), nil
}

func (v *Vault) decrypt(data []byte) ([]byte, error) {
	if len(data) < saltSize {
		return nil, errCorrupted
	}
	salt, data := data[:saltSize], data[saltSize:]
	key, _, err := deriveKey(v.seed, salt)
	if err != nil {
		return nil, err
	}
	return decrypt(key, data)
}

func deriveKey(pw []byte, salt []byte) ([]byte, []byte, error) {
	if salt == nil {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, err
		}
	}
	return pbkdf2.Key(pw, salt, pbkdf2Iterations, int(keySize), sha256.New), salt, nil
}

func (v *Vault) filepathFromKey(key string) string {
	return filepath.Join(v.path, fileNameFromKey(v.seed, key))
}

// fileNameFromKey ties the file name to the vault seed, a file copied from
// another vault is never decrypted with the wrong seed.
func fileNameFromKey(seed []byte, key string) string {
	hash := sha256.Sum256(append(append([]byte{}, seed...), []byte(key)...))
	return hex.EncodeToString(hash[:])
}

// writeFile "atomic" file write, utilizes temp file and replace
// os.CreateTemp creates the file with 0600 mask, which is what we need
func writeFile(fp string, data []byte) (err error) {
	dir, fn := filepath.Split(fp)
	if dir == "" {
		dir = "."
	}

	f, err := os.CreateTemp(dir, fn)
	if err != nil {
		return fmt.Errorf("failed creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()
	defer f.Close()

	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("failed writing temp file: %w", err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("failed syncing temp file: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("failed closing temp file: %w", err)
	}

	return os.Rename(f.Name(), fp)
}
