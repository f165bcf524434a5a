// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package inputs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"go.elastic.co/apm/module/apmgorilla/v2"
	"go.elastic.co/apm/v2"

	"github.com/elastic/elastic-agent-libs/api"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/pipeline"
	"github.com/elastic/ci-orchestrator/pkg/core/logger"
)

const maxBody = 64 << 10

// Config is the listen address of the submission server.
type Config struct {
	Host string `config:"host"`
	Port int    `config:"port"`
}

// DefaultConfig listens on localhost only.
func DefaultConfig() Config {
	return Config{Host: "localhost", Port: 6792}
}

// ExpandedFunc is called once the submitted inputs expanded the pipeline,
// typically to upload it. Its error is returned to the submitter.
type ExpandedFunc func(ctx context.Context, exp *pipeline.Expansion) error

// Server exposes the input parameters of a build waiting for them:
//
//	GET  /inputs  parameters and state
//	POST /inputs  submit a JSON object of values, runs the expansion
//	GET  /steps   the expanded steps
type Server struct {
	log        *logger.Logger
	expander   *pipeline.Expander
	onExpanded ExpandedFunc
	router     *mux.Router

	doneOnce sync.Once
	done     chan struct{}
}

// NewServer creates a server for expander. tracer may be nil.
func NewServer(log *logger.Logger, expander *pipeline.Expander, tracer *apm.Tracer, onExpanded ExpandedFunc) *Server {
	s := &Server{
		log:        log,
		expander:   expander,
		onExpanded: onExpanded,
		done:       make(chan struct{}),
	}

	r := mux.NewRouter()
	if tracer != nil {
		r.Use(apmgorilla.Middleware(apmgorilla.WithTracer(tracer)))
	}
	r.Handle("/inputs", createHandler(s.getInputs)).Methods(http.MethodGet)
	r.Handle("/inputs", createHandler(s.postInputs)).Methods(http.MethodPost)
	r.Handle("/steps", createHandler(s.getSteps)).Methods(http.MethodGet)
	s.router = r
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Done is closed once the expansion reached a terminal state through the
// server.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Serve listens until ctx is cancelled or the expansion is done.
func (s *Server) Serve(ctx context.Context, cfg Config) error {
	m := http.NewServeMux()
	m.Handle("/", s.router)

	srvCfg := api.DefaultConfig()
	srvCfg.Enabled = true
	srvCfg.Host = cfg.Host
	srvCfg.Port = cfg.Port
	srv, err := api.NewFromConfig(s.log, m, srvCfg)
	if err != nil {
		return errors.New(err, "failed to create the input server", errors.TypeConfig)
	}

	s.log.Infof("Serving input parameters on %s:%d", cfg.Host, cfg.Port)
	srv.Start()
	select {
	case <-ctx.Done():
	case <-s.done:
	}
	return srv.Stop()
}

func (s *Server) getInputs(w http.ResponseWriter, _ *http.Request) error {
	writeJSON(w, http.StatusOK, newInputsResponse(s.expander.Parameters(), s.expander.Expansion()))
	return nil
}

func (s *Server) postInputs(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return withStatus(http.StatusBadRequest, err)
	}
	values := pipeline.Inputs{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &values); err != nil {
			return withStatus(http.StatusBadRequest,
				errors.New(err, "inputs must be a JSON object of strings", errors.TypeConfig))
		}
	}

	exp, err := s.expander.Submit(r.Context(), values)
	switch {
	case errors.Is(err, pipeline.ErrState):
		return withStatus(http.StatusConflict, err)
	case err != nil:
		s.finish()
		if errors.Is(err, pipeline.ErrGenerator) {
			return withStatus(http.StatusUnprocessableEntity, err)
		}
		return withStatus(http.StatusBadRequest, err)
	}

	if s.onExpanded != nil {
		if err := s.onExpanded(r.Context(), exp); err != nil {
			s.finish()
			return withStatus(http.StatusBadGateway, err)
		}
	}
	s.finish()
	s.log.Infow("Input parameters submitted", "steps", len(exp.Steps))
	writeJSON(w, http.StatusOK, newStepsResponse(exp))
	return nil
}

func (s *Server) getSteps(w http.ResponseWriter, _ *http.Request) error {
	exp := s.expander.Expansion()
	status := http.StatusOK
	if exp.State != pipeline.Expanded {
		status = http.StatusConflict
	}
	writeJSON(w, status, newStepsResponse(exp))
	return nil
}

func (s *Server) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}
