// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package remote

import (
	"fmt"
	"time"

	"github.com/elastic/elastic-agent-libs/transport/httpcommon"
)

// Config is the configuration for the client.
type Config struct {
	Protocol Protocol `config:"protocol" yaml:"protocol"`
	Path     string   `config:"path" yaml:"path,omitempty"`
	Host     string   `config:"host" yaml:"host,omitempty"`
	Hosts    []string `config:"hosts" yaml:"hosts,omitempty"`

	Transport httpcommon.HTTPTransportSettings `config:",inline" yaml:",inline"`
}

// Protocol define the protocol to use to make the connection. (Either HTTPS or HTTP)
type Protocol string

const (
	// ProtocolHTTP is HTTP protocol connection.
	ProtocolHTTP Protocol = "http"
	// ProtocolHTTPS is HTTPS protocol connection.
	ProtocolHTTPS Protocol = "https"
)

// Unpack the protocol.
func (p *Protocol) Unpack(from string) error {
	if Protocol(from) != ProtocolHTTPS && Protocol(from) != ProtocolHTTP {
		return fmt.Errorf("invalid protocol %s, accepted values are 'http' and 'https'", from)
	}

	*p = Protocol(from)
	return nil
}

// DefaultClientConfig creates default configuration for the GitHub API.
func DefaultClientConfig() Config {
	transport := httpcommon.DefaultHTTPTransportSettings()
	transport.Timeout = 30 * time.Second

	return Config{
		Protocol:  ProtocolHTTPS,
		Host:      "api.github.com",
		Transport: transport,
	}
}

// GetHosts returns the hosts to connect.
//
// This looks first at `Hosts` and then at `Host` when `Hosts` is not defined.
func (c *Config) GetHosts() []string {
	if len(c.Hosts) > 0 {
		return c.Hosts
	}
	return []string{c.Host}
}
