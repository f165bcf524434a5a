// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package retry

import (
	"fmt"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultDelay       = 2 * time.Second
	defaultMaxDelay    = time.Minute
)

// Config is a configuration of the retry strategy.
type Config struct {
	// MaxAttempts is the number of attempts used when the caller does not
	// provide its own budget. Default is 3.
	MaxAttempts int `yaml:"max_attempts" config:"max_attempts"`
	// Delay is the wait after the first failed attempt. Every following wait
	// doubles: with 2s the waits are 2s, 4s, 8s. Default is 2s.
	Delay time.Duration `yaml:"delay" config:"delay"`
	// MaxDelay caps a single wait. Default is 1m.
	MaxDelay time.Duration `yaml:"max_delay" config:"max_delay"`
}

// DefaultConfig creates a config with pre-set default values.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: defaultMaxAttempts,
		Delay:       defaultDelay,
		MaxDelay:    defaultMaxDelay,
	}
}

// Validate is called by go-ucfg after unpacking.
func (c *Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.Delay <= 0 {
		return fmt.Errorf("delay must be positive, got %s", c.Delay)
	}
	if c.MaxDelay < c.Delay {
		return fmt.Errorf("max_delay (%s) must not be lower than delay (%s)", c.MaxDelay, c.Delay)
	}
	return nil
}
