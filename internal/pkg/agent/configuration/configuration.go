// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package configuration

import (
	"fmt"
	"os"
	"strings"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/environment"
	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/agent/hooks"
	"github.com/elastic/ci-orchestrator/internal/pkg/agent/inputs"
	"github.com/elastic/ci-orchestrator/internal/pkg/config"
	"github.com/elastic/ci-orchestrator/internal/pkg/notify"
	"github.com/elastic/ci-orchestrator/pkg/core/logger"
	"github.com/elastic/ci-orchestrator/pkg/core/retry"
)

// DefaultConfigFile is read when no --config flag is given.
const DefaultConfigFile = ".buildkite/ci-orchestrator.yml"

// Configuration is the overall orchestrator configuration.
type Configuration struct {
	Retry   *retry.Config  `config:"retry" yaml:"retry" json:"retry"`
	Secrets *SecretsConfig `config:"secrets" yaml:"secrets" json:"secrets"`
	Hooks   hooks.Config   `config:"hooks" yaml:"hooks" json:"hooks"`

	// Pipelines are the static environments of the pipelines, matched on
	// their slug.
	Pipelines []environment.PipelineEnv `config:"pipelines" yaml:"pipelines" json:"pipelines"`
	// EnvDir holds one <slug>.yml environment file per pipeline.
	EnvDir string `config:"env_dir" yaml:"env_dir" json:"env_dir"`

	Generator *GeneratorConfig `config:"generator" yaml:"generator" json:"generator"`
	Notify    *notify.Config   `config:"notify" yaml:"notify" json:"notify"`
	Inputs    *InputsConfig    `config:"inputs" yaml:"inputs" json:"inputs"`

	APM     APMConfig      `config:"apm" yaml:"apm" json:"apm"`
	Logging *logger.Config `config:"logging,omitempty" yaml:"logging,omitempty" json:"logging,omitempty"`
}

// InputsConfig configures how the input parameters of a build are collected.
type InputsConfig struct {
	// Listen is the address of the input submission server.
	Listen inputs.Config `config:"listen" yaml:"listen" json:"listen"`
	// Attempts is the retry budget of a meta-data read.
	Attempts int `config:"attempts" yaml:"attempts" json:"attempts"`
}

// APMConfig configures the tracer of the orchestrator. Tracing is off when
// no host is set.
type APMConfig struct {
	Environment  string   `config:"environment" yaml:"environment" json:"environment"`
	APIKey       string   `config:"api_key" yaml:"api_key" json:"api_key"`
	SecretToken  string   `config:"secret_token" yaml:"secret_token" json:"secret_token"`
	Hosts        []string `config:"hosts" yaml:"hosts" json:"hosts"`
	GlobalLabels string   `config:"global_labels" yaml:"global_labels" json:"global_labels"`
	TLS          APMTLS   `config:"tls" yaml:"tls" json:"tls"`
}

// APMTLS configures the TLS connection to the APM server.
type APMTLS struct {
	SkipVerify        bool   `config:"skip_verify" yaml:"skip_verify" json:"skip_verify"`
	ServerCertificate string `config:"server_certificate" yaml:"server_certificate" json:"server_certificate"`
	ServerCA          string `config:"server_ca" yaml:"server_ca" json:"server_ca"`
}

// Enabled reports whether traces are sent.
func (c APMConfig) Enabled() bool {
	return len(c.Hosts) > 0
}

// DefaultConfiguration creates a configuration prepopulated with default values.
func DefaultConfiguration() *Configuration {
	n := notify.DefaultConfig()
	return &Configuration{
		Retry:     retry.DefaultConfig(),
		Secrets:   DefaultSecretsConfig(),
		Hooks:     hooks.DefaultConfig(),
		Generator: DefaultGeneratorConfig(),
		Notify:    &n,
		Inputs: &InputsConfig{
			Listen:   inputs.DefaultConfig(),
			Attempts: 3,
		},
		Logging: logger.DefaultLoggingConfig(),
	}
}

// NewFromConfig creates a configuration based on common Config.
func NewFromConfig(cfg *config.Config) (*Configuration, error) {
	c := DefaultConfiguration()
	if err := cfg.UnpackTo(c); err != nil {
		return nil, errors.New(err, errors.TypeConfig)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads and merges the raw configuration files, later files win. With
// no path the default file is read when present, otherwise the configuration
// is empty.
func Load(paths ...string) (*config.Config, error) {
	if len(paths) == 0 {
		if _, err := os.Stat(DefaultConfigFile); os.IsNotExist(err) {
			return config.New(), nil
		}
		paths = []string{DefaultConfigFile}
	}

	cfg, err := config.LoadFiles(paths...)
	if err != nil {
		return nil, errors.New(err,
			fmt.Sprintf("fail to read configuration %s", strings.Join(paths, ", ")),
			errors.TypeFilesystem,
			errors.M(errors.MetaKeyPath, strings.Join(paths, ",")))
	}
	return cfg, nil
}

// NewFromFile loads paths, see Load, and validates the result.
func NewFromFile(paths ...string) (*Configuration, error) {
	cfg, err := Load(paths...)
	if err != nil {
		return nil, err
	}

	c, err := NewFromConfig(cfg)
	if err != nil {
		if len(paths) == 0 {
			paths = []string{DefaultConfigFile}
		}
		p := strings.Join(paths, ",")
		return nil, errors.New(err, fmt.Sprintf("invalid configuration %s", p), errors.M(errors.MetaKeyPath, p))
	}
	return c, nil
}

// Validate checks the settings go-ucfg cannot check on its own.
func (c *Configuration) Validate() error {
	if err := c.Secrets.Validate(); err != nil {
		return err
	}
	if err := c.Generator.Validate(); err != nil {
		return err
	}
	if c.Inputs.Attempts < 1 {
		return errors.New(fmt.Sprintf("inputs.attempts must be at least 1, got %d", c.Inputs.Attempts), errors.TypeConfig)
	}
	if c.Notify.Enabled && c.Notify.Attempts < 1 {
		return errors.New(fmt.Sprintf("notify.attempts must be at least 1, got %d", c.Notify.Attempts), errors.TypeConfig)
	}
	return nil
}

// Overrides returns the pipeline scoped environment sources, in merge order.
func (c *Configuration) Overrides() ([]environment.OverrideSource, error) {
	static, err := environment.NewStaticOverrides(c.Pipelines)
	if err != nil {
		return nil, err
	}
	sources := []environment.OverrideSource{static}
	if c.EnvDir != "" {
		sources = append(sources, environment.FileOverrides{Dir: c.EnvDir})
	}
	return sources, nil
}
