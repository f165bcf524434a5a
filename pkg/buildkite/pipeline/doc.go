// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

// Package pipeline renders Buildkite pipeline YAML and uploads it to the
// running build.
//
// # Basic Usage
//
//	step := pipeline.CommandWithKey("Unit tests", "unit-tests", ".buildkite/scripts/steps/unit-tests.sh")
//	pipeline.SetAgent(step, pipeline.GCPAgent("platform-ingest-elastic-agent-ubuntu-2204"))
//	pipeline.SetNotify(step, "elastic-agent: unit-tests")
//
//	p := pipeline.New().
//		Env("ASDF_MAGE_VERSION", "1.15.0").
//		Add(step)
//
//	yaml, err := p.MarshalYAML()
//
// Expanded step lists are converted with FromSteps, steps sharing a group
// key are rendered as one group.
//
// # Upload
//
// Uploader pipes the YAML to `buildkite-agent pipeline upload`. The document
// is parsed with github.com/buildkite/go-pipeline first so a malformed
// pipeline never reaches the agent.
package pipeline
