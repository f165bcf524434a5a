// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package cli

import (
	"fmt"
	"strings"
)

const splitOn = ","

// StringToSlice takes a string retrieve from a flag and return a slices splitted on comma and every
// element has been trim of space.
func StringToSlice(s string) []string {
	if len(strings.TrimSpace(s)) == 0 {
		return make([]string, 0)
	}

	elements := strings.Split(s, splitOn)
	for i, v := range elements {
		elements[i] = strings.TrimSpace(v)
	}

	return elements
}

// ParseKeyValues parses repeated key=value flags. The value may be empty
// and may contain "=", a later key replaces an earlier one.
func ParseKeyValues(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid value %q, expected key=value", p)
		}
		out[k] = v
	}
	return out, nil
}
