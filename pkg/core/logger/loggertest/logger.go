// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package loggertest

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/elastic/elastic-agent-libs/logp"

	"github.com/elastic/ci-orchestrator/pkg/core/logger"
)

// New creates a testing logger that buffers the logs in memory and
// logs in debug level. Check observer.ObservedLogs for more details.
func New(name string) (*logger.Logger, *observer.ObservedLogs) {
	core, obs := observer.New(zapcore.DebugLevel)

	log := logp.NewLogger(
		name,
		zap.WrapCore(func(in zapcore.Core) zapcore.Core {
			return zapcore.NewTee(in, core)
		}))

	return log, obs
}

// Contains reports whether any observed entry, message or field value,
// contains s. Used to assert that secret material never reached a logger.
func Contains(obs *observer.ObservedLogs, s string) bool {
	for _, entry := range obs.All() {
		if strings.Contains(entry.Message, s) {
			return true
		}
		for k, v := range entry.ContextMap() {
			if strings.Contains(k, s) || strings.Contains(fmt.Sprintf("%v", v), s) {
				return true
			}
		}
	}
	return false
}

// PrintObservedLogs consumes, formats and prints all log entries from obs,
// one at a time, printFn. It calls `observer.ObservedLogs.TakeAll`,
// therefore, after calling it, the ObservedLogs will be empty.
func PrintObservedLogs(obs *observer.ObservedLogs, printFn func(a ...any)) {
	rawLogs := obs.TakeAll()
	for _, rawLog := range rawLogs {
		msg := fmt.Sprintf("[%s] %s", rawLog.Level, rawLog.Message)
		for k, v := range rawLog.ContextMap() {
			msg += fmt.Sprintf(" %s=%v", k, v)
		}
		printFn(msg)
	}
}
