// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package errors

// ErrorType classifies an error so callers can decide whether to retry it and
// how to surface it on a failed step.
type ErrorType int

const (
	// TypeUnexpected is the default type for errors that were not classified.
	TypeUnexpected ErrorType = iota
	// TypeConfig is a malformed pipeline, step or engine configuration. Fatal.
	TypeConfig
	// TypeNetwork is a transient failure of a remote collaborator. Retried.
	TypeNetwork
	// TypeSecurity is an authorization failure. Fatal, never retried.
	TypeSecurity
	// TypeApplication is a failure reported by an external collaborator
	// process such as a pipeline generator. Fatal.
	TypeApplication
	// TypeFilesystem is a local filesystem failure.
	TypeFilesystem
)

// Metadata keys used across the module.
const (
	MetaKeyPath     = "path"
	MetaKeyField    = "field"
	MetaKeyExitCode = "exit_code"
	MetaKeyOutput   = "output"
	MetaKeyStep     = "step"
	MetaKeyPipeline = "pipeline"
)

func (t ErrorType) String() string {
	switch t {
	case TypeConfig:
		return "CONFIG"
	case TypeNetwork:
		return "NETWORK"
	case TypeSecurity:
		return "SECURITY"
	case TypeApplication:
		return "APPLICATION"
	case TypeFilesystem:
		return "FILESYSTEM"
	default:
		return "UNEXPECTED"
	}
}
