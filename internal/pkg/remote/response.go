// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package remote

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
)

const maxErrorBody = 4 << 10

// ExtractResponseError returns nil for a 2xx response, otherwise a typed
// error carrying the status and the message of the body. Authentication
// failures are TypeSecurity, throttling and server errors TypeNetwork, the
// rest TypeConfig. The body is not closed.
func ExtractResponseError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg := http.StatusText(resp.StatusCode)
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		msg = body.Message
	} else if s := strings.TrimSpace(string(data)); s != "" {
		msg = s
	}

	errType := errors.TypeConfig
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		errType = errors.TypeSecurity
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		errType = errors.TypeNetwork
	}
	return errors.New(
		fmt.Sprintf("status code: %d, remote returned an error: %s", resp.StatusCode, msg),
		errType,
		errors.M("http.status_code", resp.StatusCode))
}
