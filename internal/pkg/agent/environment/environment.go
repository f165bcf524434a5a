// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package environment

import (
	"sort"
	"strings"
)

// Map is the environment of a step, variable name to value.
type Map map[string]string

// FromEnviron converts "KEY=VALUE" pairs, as returned by os.Environ, into a
// Map. Entries without a name are ignored.
func FromEnviron(environ []string) Map {
	m := make(Map, len(environ))
	for _, e := range environ {
		pair := strings.SplitN(e, "=", 2)
		if pair[0] == "" {
			continue
		}
		if len(pair) == 1 {
			m[pair[0]] = ""
			continue
		}
		m[pair[0]] = pair[1]
	}
	return m
}

// Environ returns the "KEY=VALUE" pairs of m sorted by name.
func (m Map) Environ() []string {
	out := make([]string, 0, len(m))
	for _, k := range m.Names() {
		out = append(out, k+"="+m[k])
	}
	return out
}

// Names returns the variable names of m, sorted.
func (m Map) Names() []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Clone returns a copy of m.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge merges maps from the lowest to the highest precedence into a new
// Map, the last writer wins.
func Merge(maps ...Map) Map {
	size := 0
	for _, m := range maps {
		size += len(m)
	}
	out := make(Map, size)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
