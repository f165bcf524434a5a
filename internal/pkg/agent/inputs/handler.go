// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package inputs

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/pipeline"
)

type apiError interface {
	Status() int
}

type statusError struct {
	status int
	err    error
}

func (e statusError) Error() string { return e.err.Error() }
func (e statusError) Unwrap() error { return e.err }
func (e statusError) Status() int   { return e.status }

func withStatus(status int, err error) error {
	return statusError{status: status, err: err}
}

func createHandler(fn func(w http.ResponseWriter, r *http.Request) error) *apiHandler {
	return &apiHandler{
		innerFn: fn,
	}
}

type apiHandler struct {
	innerFn func(w http.ResponseWriter, r *http.Request) error
}

func (h *apiHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := h.innerFn(w, r)
	if err == nil {
		return
	}

	var ae apiError
	status := http.StatusInternalServerError
	if errors.As(err, &ae) {
		status = ae.Status()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeResponse(w, errResponse{
		Type:   errors.TypeOf(err).String(),
		Reason: errors.Reason(err),
	})
}

func writeResponse(w http.ResponseWriter, c interface{}) {
	bytes, err := json.Marshal(c)
	if err != nil {
		fmt.Fprintf(w, "Not valid json: %v", err)
		return
	}
	_, _ = w.Write(bytes)
}

func writeJSON(w http.ResponseWriter, status int, c interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeResponse(w, c)
}

type errResponse struct {
	// Type is the class of the error.
	Type string `json:"type"`
	// Reason is a detailed error message.
	Reason string `json:"reason"`
}

type optionResponse struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type parameterResponse struct {
	Key      string           `json:"key"`
	Prompt   string           `json:"prompt,omitempty"`
	Options  []optionResponse `json:"options,omitempty"`
	Default  string           `json:"default,omitempty"`
	Required bool             `json:"required"`
}

type inputsResponse struct {
	State      string              `json:"state"`
	Parameters []parameterResponse `json:"parameters"`
	Inputs     map[string]string   `json:"inputs,omitempty"`
}

type stepResponse struct {
	Key       string            `json:"key"`
	Label     string            `json:"label"`
	Command   string            `json:"command"`
	If        string            `json:"if,omitempty"`
	DependsOn []string          `json:"depends_on,omitempty"`
	Group     string            `json:"group,omitempty"`
	Agents    map[string]string `json:"agents,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

type stepsResponse struct {
	State string            `json:"state"`
	Env   map[string]string `json:"env,omitempty"`
	Steps []stepResponse    `json:"steps"`
	Error *errResponse      `json:"error,omitempty"`
}

func newInputsResponse(params []pipeline.InputParameter, exp *pipeline.Expansion) inputsResponse {
	resp := inputsResponse{
		State:      exp.State.String(),
		Parameters: make([]parameterResponse, 0, len(params)),
		Inputs:     exp.Inputs,
	}
	for _, p := range params {
		pr := parameterResponse{Key: p.Key, Prompt: p.Prompt, Default: p.Default, Required: p.Required}
		for _, o := range p.Options {
			pr.Options = append(pr.Options, optionResponse{Label: o.Label, Value: o.Value})
		}
		resp.Parameters = append(resp.Parameters, pr)
	}
	return resp
}

func newStepsResponse(exp *pipeline.Expansion) stepsResponse {
	resp := stepsResponse{
		State: exp.State.String(),
		Env:   exp.Env,
		Steps: make([]stepResponse, 0, len(exp.Steps)),
	}
	for _, s := range exp.Steps {
		resp.Steps = append(resp.Steps, stepResponse{
			Key:       s.Key,
			Label:     s.DisplayLabel(),
			Command:   s.Command,
			If:        s.If,
			DependsOn: s.DependsOn,
			Group:     s.Group,
			Agents:    s.Agents,
			Env:       s.Env,
		})
	}
	if exp.Err != nil {
		resp.Error = &errResponse{Type: errors.TypeOf(exp.Err).String(), Reason: errors.Reason(exp.Err)}
	}
	return resp
}
