// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package redact

import (
	"bytes"
	"io"
	"sort"
	"strings"
	"sync"
)

// minLineLength is the shortest line of a multi-line secret that is masked
// on its own. Shorter lines such as "{" would mask unrelated output.
const minLineLength = 8

// Masker replaces every registered secret value with REDACTED.
type Masker struct {
	mx     sync.RWMutex
	values map[string]struct{}
	sorted []string
}

// NewMasker returns an empty masker.
func NewMasker() *Masker {
	return &Masker{values: make(map[string]struct{})}
}

// Add registers a secret value. Every line of a multi-line value that is at
// least minLineLength long is also registered so that line oriented output
// is masked.
func (m *Masker) Add(value string) {
	if value == "" {
		return
	}
	m.mx.Lock()
	defer m.mx.Unlock()

	m.values[value] = struct{}{}
	if strings.Contains(value, "\n") {
		for _, line := range strings.Split(value, "\n") {
			line = strings.TrimSpace(line)
			if len(line) >= minLineLength {
				m.values[line] = struct{}{}
			}
		}
	}

	m.sorted = m.sorted[:0]
	for v := range m.values {
		m.sorted = append(m.sorted, v)
	}
	// longest first, so a secret containing another secret is replaced whole
	sort.Slice(m.sorted, func(i, j int) bool {
		if len(m.sorted[i]) != len(m.sorted[j]) {
			return len(m.sorted[i]) > len(m.sorted[j])
		}
		return m.sorted[i] < m.sorted[j]
	})
}

// Len returns the number of registered values.
func (m *Masker) Len() int {
	m.mx.RLock()
	defer m.mx.RUnlock()
	return len(m.values)
}

// Mask returns s with every registered value replaced.
func (m *Masker) Mask(s string) string {
	if m == nil {
		return s
	}
	m.mx.RLock()
	defer m.mx.RUnlock()
	for _, v := range m.sorted {
		s = strings.ReplaceAll(s, v, REDACTED)
	}
	return s
}

// Writer wraps w so that everything written through it is masked. Output is
// masked line by line, Close flushes a trailing partial line.
func (m *Masker) Writer(w io.Writer) io.WriteCloser {
	return &maskingWriter{masker: m, out: w}
}

type maskingWriter struct {
	mx     sync.Mutex
	masker *Masker
	out    io.Writer
	buf    bytes.Buffer
}

func (w *maskingWriter) Write(p []byte) (int, error) {
	w.mx.Lock()
	defer w.mx.Unlock()

	w.buf.Write(p)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := w.buf.Next(idx + 1)
		if _, err := io.WriteString(w.out, w.masker.Mask(string(line))); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (w *maskingWriter) Close() error {
	w.mx.Lock()
	defer w.mx.Unlock()

	if w.buf.Len() == 0 {
		return nil
	}
	rest := w.buf.String()
	w.buf.Reset()
	_, err := io.WriteString(w.out, w.masker.Mask(rest))
	return err
}
