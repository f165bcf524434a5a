// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package errors

import (
	"fmt"
	"sort"
	"strings"
)

// MetaRecord is a key/value pair attached to an error.
type MetaRecord struct {
	key string
	val interface{}
}

// M creates a meta record.
func M(key string, val interface{}) MetaRecord {
	return MetaRecord{key: key, val: val}
}

type agentError struct {
	msg     string
	err     error
	errType ErrorType
	meta    map[string]interface{}
}

// Error returns the message followed by the wrapped error, if any.
func (e *agentError) Error() string {
	switch {
	case e.msg != "" && e.err != nil:
		return e.msg + ": " + e.err.Error()
	case e.msg != "":
		return e.msg
	case e.err != nil:
		return e.err.Error()
	}
	return "unknown error"
}

// Unwrap returns the wrapped error.
func (e *agentError) Unwrap() error {
	return e.err
}

// Type returns the type of the error. When no type was set explicitly the
// type of the closest typed wrapped error is used.
func (e *agentError) Type() ErrorType {
	if e.errType != TypeUnexpected {
		return e.errType
	}
	var inner *agentError
	if e.err != nil && As(e.err, &inner) {
		return inner.Type()
	}
	return TypeUnexpected
}

// Meta returns the metadata of this error merged over the metadata of the
// wrapped errors.
func (e *agentError) Meta() map[string]interface{} {
	out := make(map[string]interface{})
	var inner *agentError
	if e.err != nil && As(e.err, &inner) {
		for k, v := range inner.Meta() {
			out[k] = v
		}
	}
	for k, v := range e.meta {
		out[k] = v
	}
	return out
}

// New constructs an error. Arguments are interpreted by type:
//   - error: the wrapped cause
//   - string: the message
//   - ErrorType: the classification
//   - MetaRecord: metadata
//
// Any other argument is formatted with %v and appended to the message.
func New(args ...interface{}) error {
	e := &agentError{}
	var extra []string
	for _, arg := range args {
		switch a := arg.(type) {
		case nil:
		case error:
			e.err = a
		case string:
			if e.msg == "" {
				e.msg = a
			} else {
				extra = append(extra, a)
			}
		case ErrorType:
			e.errType = a
		case MetaRecord:
			if e.meta == nil {
				e.meta = make(map[string]interface{})
			}
			e.meta[a.key] = a.val
		default:
			extra = append(extra, fmt.Sprintf("%v", a))
		}
	}
	if len(extra) > 0 {
		e.msg = strings.TrimSpace(e.msg + " " + strings.Join(extra, " "))
	}
	return e
}

// TypeOf returns the type of err, TypeUnexpected when err is not typed.
func TypeOf(err error) ErrorType {
	var e *agentError
	if As(err, &e) {
		return e.Type()
	}
	return TypeUnexpected
}

// MetaOf returns the metadata carried by err and its wrapped errors.
func MetaOf(err error) map[string]interface{} {
	var e *agentError
	if As(err, &e) {
		return e.Meta()
	}
	return map[string]interface{}{}
}

// IsType reports whether err is classified as t.
func IsType(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// Reason renders err as a single human readable line suitable for attaching
// to a failed step. Metadata is appended in key order, the raw output of a
// collaborator is appended verbatim on the following lines.
func Reason(err error) string {
	if err == nil {
		return ""
	}

	var b strings.Builder
	t := TypeOf(err)
	if t != TypeUnexpected {
		b.WriteString("[")
		b.WriteString(t.String())
		b.WriteString("] ")
	}
	b.WriteString(err.Error())

	meta := MetaOf(err)
	keys := make([]string, 0, len(meta))
	for k := range meta {
		if k == MetaKeyOutput {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, meta[k])
	}

	if out, ok := meta[MetaKeyOutput].(string); ok && out != "" {
		b.WriteString("\n")
		b.WriteString(out)
	}
	return b.String()
}
