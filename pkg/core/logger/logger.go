// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package logger

import (
	"bytes"
	"fmt"
	"time"

	"go.elastic.co/ecszap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"

	"github.com/elastic/elastic-agent-libs/config"
	"github.com/elastic/elastic-agent-libs/logp"
	"github.com/elastic/elastic-agent-libs/logp/configure"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
)

const binaryName = "ci-orchestrator"

const iso8601Format = "2006-01-02T15:04:05.000Z0700"

// Level is the level used by the orchestrator.
type Level = logp.Level

// DefaultLogLevel used by the orchestrator and the hooks it runs.
const DefaultLogLevel = logp.InfoLevel

// Logger alias logp.Logger.
type Logger = logp.Logger

// Config is a logging config.
type Config = logp.Config

// New returns a configured ECS Logger writing to stderr, which on a CI agent
// is the job log.
func New(name string) (*Logger, error) {
	return NewFromConfig(name, DefaultLoggingConfig())
}

// NewWithLogpLevel returns a configured logp Logger with specified level.
func NewWithLogpLevel(name string, level logp.Level) (*Logger, error) {
	cfg := DefaultLoggingConfig()
	cfg.Level = level
	return NewFromConfig(name, cfg)
}

// NewFromConfig takes the user configuration and generate the right logger.
func NewFromConfig(name string, cfg *Config) (*Logger, error) {
	commonCfg, err := ToCommonConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("could not convert log config: %w", err)
	}

	if err := configure.Logging(binaryName, commonCfg); err != nil {
		return nil, fmt.Errorf("error initializing logging: %w", err)
	}

	return logp.NewLogger(name), nil
}

// NewWithoutConfig returns a new logger without having a configuration.
//
// Use only when a clean logger is needed, and it is known that the logging configuration has already been performed.
func NewWithoutConfig(name string) *Logger {
	return logp.NewLogger(name)
}

// NewInMemory returns a new in-memory logger along with the buffer to which it
// logs.
func NewInMemory(selector string, encCfg zapcore.EncoderConfig) (*Logger, *bytes.Buffer) {
	buff := bytes.Buffer{}

	encoderConfig := ecszap.ECSCompatibleEncoderConfig(encCfg)
	encoderConfig.EncodeTime = UtcTimestampEncode
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	core := zapcore.NewCore(
		encoder,
		zapcore.AddSync(&buff),
		zap.NewAtomicLevelAt(zap.DebugLevel))

	logger := logp.NewLogger(
		selector,
		zap.WrapCore(func(in zapcore.Core) zapcore.Core {
			return core
		}))
	return logger, &buff
}

// AddCallerSkip returns new logger with incremented stack frames to skip.
func AddCallerSkip(l *Logger, skip int) *Logger {
	return l.WithOptions(zap.AddCallerSkip(skip))
}

// ToCommonConfig converts a logging config into the config type expected by
// logp/configure.
func ToCommonConfig(cfg *Config) (*config.C, error) {
	// custom level types only survive the conversion in their textual form
	yamlCfg, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}

	commonLogp, err := config.NewConfigFrom(string(yamlCfg))
	if err != nil {
		return nil, errors.New(err, errors.TypeConfig)
	}

	return commonLogp, nil
}

// SetLevel changes the overall log level of the global logger.
func SetLevel(lvl logp.Level) {
	logp.SetLevel(lvl.ZapLevel())
}

// DefaultLoggingConfig returns the default logging configuration: ECS lines
// on stderr, no files. Job logs are collected by the CI agent itself.
func DefaultLoggingConfig() *Config {
	cfg := logp.DefaultConfig(logp.DefaultEnvironment)
	cfg.Beat = binaryName
	cfg.Level = DefaultLogLevel
	cfg.ToStderr = true
	cfg.ToFiles = false
	cfg.ToSyslog = false
	cfg.ToEventLog = false
	return &cfg
}

// UtcTimestampEncode is a zapcore.TimeEncoder that formats time.Time in ISO-8601 in UTC.
func UtcTimestampEncode(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	type appendTimeEncoder interface {
		AppendTimeLayout(time.Time, string)
	}
	if enc, ok := enc.(appendTimeEncoder); ok {
		enc.AppendTimeLayout(t.UTC(), iso8601Format)
		return
	}
	enc.AppendString(t.UTC().Format(iso8601Format))
}
