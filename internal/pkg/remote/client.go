// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	urlutil "github.com/elastic/elastic-agent-libs/kibana"
	"github.com/elastic/elastic-agent-libs/transport/httpcommon"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/config"
	"github.com/elastic/ci-orchestrator/internal/pkg/id"
	"github.com/elastic/ci-orchestrator/pkg/core/logger"
)

const (
	retryOnBadConnTimeout = 5 * time.Minute
)

// WrapperFunc wraps the transport of every host, for authentication or
// request decoration.
type WrapperFunc func(rt http.RoundTripper) (http.RoundTripper, error)

type requestClient struct {
	host       string
	client     http.Client
	lastUsed   time.Time
	lastErr    error
	lastErrOcc time.Time
}

func (r *requestClient) SetLastError(err error) {
	r.lastUsed = time.Now().UTC()
	r.lastErr = err
	if err != nil {
		r.lastErrOcc = r.lastUsed
	} else {
		r.lastErrOcc = time.Time{}
	}
}

// Client wraps a http.Client and takes care of making the raw calls. It fails
// over between the configured hosts. Authentication is done by a WrapperFunc.
type Client struct {
	log        *logger.Logger
	clientLock sync.Mutex
	clients    []*requestClient
	config     Config
}

// NewConfigFromURL returns a Config based on a received host.
func NewConfigFromURL(URL string) (Config, error) {
	u, err := url.Parse(URL)
	if err != nil {
		return Config{}, fmt.Errorf("could not parse url: %w", err)
	}

	c := DefaultClientConfig()
	c.Protocol = Protocol(u.Scheme)
	c.Host = u.Host
	c.Path = u.Path

	return c, nil
}

// NewWithRawConfig returns a new client with a specified configuration.
func NewWithRawConfig(log *logger.Logger, config *config.Config, wrapper WrapperFunc) (*Client, error) {
	if log == nil {
		log = logger.NewWithoutConfig("remote")
	}

	cfg := DefaultClientConfig()
	if err := config.UnpackTo(&cfg); err != nil {
		return nil, errors.New(err, "invalid remote configuration", errors.TypeConfig)
	}

	return NewWithConfig(log, cfg, wrapper)
}

// NewWithConfig takes a Config and return a client.
func NewWithConfig(log *logger.Logger, cfg Config, wrapper WrapperFunc) (*Client, error) {
	p := cfg.Path
	if !strings.HasSuffix(p, "/") {
		p = p + "/"
	}

	hosts := cfg.GetHosts()
	log.With("hosts", hosts).Debugf("creating remote client with %d hosts", len(hosts))
	clients := make([]*requestClient, len(hosts))
	for i, host := range hosts {
		baseURL, err := urlutil.MakeURL(string(cfg.Protocol), p, host, 0)
		if err != nil {
			return nil, errors.New(err, fmt.Sprintf("invalid remote endpoint %q", host), errors.TypeConfig)
		}

		transport, err := cfg.Transport.RoundTripper(
			httpcommon.WithAPMHTTPInstrumentation(),
			httpcommon.WithForceAttemptHTTP2(true),
		)
		if err != nil {
			return nil, errors.New(err, "failed to create transport", errors.TypeConfig)
		}

		if wrapper != nil {
			transport, err = wrapper(transport)
			if err != nil {
				return nil, fmt.Errorf("fail to create transport client: %w", err)
			}
		}

		clients[i] = &requestClient{
			host: baseURL,
			client: http.Client{
				Transport: transport,
				Timeout:   cfg.Transport.Timeout,
			},
		}
	}

	return newClient(log, cfg, clients...), nil
}

// Send executes a direct call against the API. The body is read once and
// replayed to every host tried. JSON is assumed, callers may override any
// header. Decoding the response is the responsibility of the caller.
func (c *Client) Send(
	ctx context.Context,
	method, path string,
	params url.Values,
	headers http.Header,
	body io.Reader,
) (*http.Response, error) {
	var reqID string
	if u, err := id.Generate(); err == nil {
		reqID = u.String()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = io.ReadAll(body); err != nil {
			return nil, fmt.Errorf("fail to read request body: %w", err)
		}
	}

	c.log.Debugf("Request method: %s, path: %s, reqID: %s", method, path, reqID)

	var multiErr error
	clients := c.sortClients()

	for i, requester := range clients {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := requester.newRequest(ctx, method, path, params, reqBody)
		if err != nil {
			return nil, errors.New(err,
				fmt.Sprintf("fail to create HTTP request using method %s to %s", method, path),
				errors.TypeConfig)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Add("Accept", "application/json")
		if reqID != "" {
			req.Header.Add("X-Request-ID", reqID)
		}
		for header, values := range headers {
			req.Header.Del(header)
			for _, v := range values {
				req.Header.Add(header, v)
			}
		}

		resp, err := requester.client.Do(req)

		c.clientLock.Lock()
		requester.SetLastError(err)
		c.clientLock.Unlock()

		if err != nil {
			msg := fmt.Sprintf("requester %d/%d to host %s errored", i+1, len(clients), requester.host)
			multiErr = multierror.Append(multiErr, fmt.Errorf("%s: %w", msg, err))

			// Only relevant when every host fails.
			c.log.With("error", err).Debugf(msg)
			continue
		}
		return resp, nil
	}

	return nil, errors.New(multiErr, "all hosts failed", errors.TypeNetwork)
}

// URI returns the remote URI.
func (c *Client) URI() string {
	host := c.config.GetHosts()[0]
	if strings.HasPrefix(host, string(ProtocolHTTPS)+"://") ||
		strings.HasPrefix(host, string(ProtocolHTTP)+"://") {
		return host + "/" + c.config.Path
	}
	return string(c.config.Protocol) + "://" + host + "/" + c.config.Path
}

// newClient creates a new API client.
func newClient(log *logger.Logger, cfg Config, clients ...*requestClient) *Client {
	// Shuffle so agents don't all hit the hosts in the same order.
	rand.Shuffle(len(clients), func(i, j int) {
		clients[i], clients[j] = clients[j], clients[i]
	})

	return &Client{
		log:     log,
		clients: clients,
		config:  cfg,
	}
}

// sortClients sort the clients according to the following priority:
//   - never used
//   - without errors, last used first when more than one does not have errors
//   - last errored.
//
// It also removes the last error after retryOnBadConnTimeout has elapsed.
func (c *Client) sortClients() []*requestClient {
	c.clientLock.Lock()
	defer c.clientLock.Unlock()

	now := time.Now().UTC()

	sort.Slice(c.clients, func(i, j int) bool {
		if c.clients[i].lastErr != nil &&
			now.Sub(c.clients[i].lastErrOcc) > retryOnBadConnTimeout {
			c.clients[i].lastErr = nil
			c.clients[i].lastErrOcc = time.Time{}
		}
		if c.clients[j].lastErr != nil &&
			now.Sub(c.clients[j].lastErrOcc) > retryOnBadConnTimeout {
			c.clients[j].lastErr = nil
			c.clients[j].lastErrOcc = time.Time{}
		}

		if c.clients[i].lastUsed.IsZero() &&
			c.clients[j].lastUsed.IsZero() {
			return false
		}

		// Pick not yet used first
		if c.clients[i].lastUsed.IsZero() {
			return true
		}

		if c.clients[i].lastErr == nil &&
			c.clients[j].lastErr == nil {
			return c.clients[i].lastUsed.Before(c.clients[j].lastUsed)
		}

		if c.clients[i].lastErr == nil {
			return true
		}

		return c.clients[i].lastUsed.Before(c.clients[j].lastUsed)
	})

	// copy so callers iterate without the lock
	res := make([]*requestClient, len(c.clients))
	copy(res, c.clients)
	return res
}

func (r requestClient) newRequest(ctx context.Context, method string, path string, params url.Values, body io.Reader) (*http.Request, error) {
	path = strings.TrimPrefix(path, "/")
	newPath := strings.Join([]string{r.host, path, "?", params.Encode()}, "")

	return http.NewRequestWithContext(ctx, method, newPath, body)
}
