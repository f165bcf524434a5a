// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

// Package version holds the build information injected by the linker:
//
//	-X github.com/elastic/ci-orchestrator/version.commit=<sha>
//	-X github.com/elastic/ci-orchestrator/version.buildTime=<RFC3339>
//	-X github.com/elastic/ci-orchestrator/version.qualifier=SNAPSHOT
package version

import "time"

const defaultVersion = "0.4.0"

var (
	buildTime = "unknown"
	commit    = "unknown"
	qualifier = ""
)

// GetDefaultVersion returns the version of the binary, with its qualifier.
func GetDefaultVersion() string {
	if qualifier == "" {
		return defaultVersion
	}
	return defaultVersion + "-" + qualifier
}

// Qualifier returns the build qualifier, empty for releases.
func Qualifier() string {
	return qualifier
}

// BuildTime exposes the compile-time build time information.
// It will represent the zero time instant if parsing fails.
func BuildTime() time.Time {
	t, err := time.Parse(time.RFC3339, buildTime)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Commit exposes the compile-time commit hash.
func Commit() string {
	return commit
}
