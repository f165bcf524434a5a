// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package cmd

import (
	"fmt"
	"net/url"
	"os"

	"go.elastic.co/apm/v2"
	apmtransport "go.elastic.co/apm/v2/transport"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/configuration"
)

// initTracer returns nil when tracing is disabled.
func initTracer(name, version string, cfg configuration.APMConfig) (*apm.Tracer, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	const (
		envVerifyServerCert = "ELASTIC_APM_VERIFY_SERVER_CERT"
		envServerCert       = "ELASTIC_APM_SERVER_CERT"
		envCACert           = "ELASTIC_APM_SERVER_CA_CERT_FILE"
		envGlobalLabels     = "ELASTIC_APM_GLOBAL_LABELS"
	)
	if cfg.TLS.SkipVerify {
		os.Setenv(envVerifyServerCert, "false")
		defer os.Unsetenv(envVerifyServerCert)
	}
	if cfg.TLS.ServerCertificate != "" {
		os.Setenv(envServerCert, cfg.TLS.ServerCertificate)
		defer os.Unsetenv(envServerCert)
	}
	if cfg.TLS.ServerCA != "" {
		os.Setenv(envCACert, cfg.TLS.ServerCA)
		defer os.Unsetenv(envCACert)
	}
	if cfg.GlobalLabels != "" {
		os.Setenv(envGlobalLabels, cfg.GlobalLabels)
		defer os.Unsetenv(envGlobalLabels)
	}

	hosts := make([]*url.URL, 0, len(cfg.Hosts))
	for _, host := range cfg.Hosts {
		u, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("failed parsing %s: %w", host, err)
		}
		hosts = append(hosts, u)
	}

	opts := apmtransport.HTTPTransportOptions{ServerURLs: hosts}
	if cfg.APIKey != "" {
		opts.APIKey = cfg.APIKey
	} else {
		opts.SecretToken = cfg.SecretToken
	}
	ts, err := apmtransport.NewHTTPTransport(opts)
	if err != nil {
		return nil, err
	}

	return apm.NewTracerOptions(apm.TracerOptions{
		ServiceName:        name,
		ServiceVersion:     version,
		ServiceEnvironment: cfg.Environment,
		Transport:          ts,
	})
}
