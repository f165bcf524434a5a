// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package redact

import (
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/elastic/go-ucfg"

	"github.com/elastic/ci-orchestrator/internal/pkg/config"
)

const (
	// REDACTED is used to replace sensitive fields
	REDACTED = "<REDACTED>"
)

// RedactSecrets redacts sensitive values from the passed mapStr.
func RedactSecrets(mapStr map[string]any, errOut io.Writer) map[string]any {
	return RedactPossibleSecrets(RedactSecretPaths(mapStr, errOut), errOut)
}

// RedactSecretPaths will check the passed mapStr input for a secret_paths attribute.
// If found it will replace the value for every key in the paths list with <REDACTED> and return the resulting map.
// Any issues or errors will be written to the errOut writer.
func RedactSecretPaths(mapStr map[string]any, errOut io.Writer) map[string]any {
	v, ok := mapStr["secret_paths"]
	if !ok {
		return mapStr
	}
	arr, ok := v.([]interface{})
	if !ok {
		fmt.Fprintln(errOut, "No output redaction: secret_paths attribute is not a list.")
		return mapStr
	}
	cfg := ucfg.MustNewFrom(mapStr)
	for _, v := range arr {
		key, ok := v.(string)
		if !ok {
			fmt.Fprintf(errOut, "No output redaction for %q: expected type string, is type %T.\n", v, v)
			continue
		}

		if ok, _ := cfg.Has(key, -1, ucfg.PathSep(".")); ok {
			err := cfg.SetString(key, -1, REDACTED, ucfg.PathSep("."))
			if err != nil {
				fmt.Fprintf(errOut, "No output redaction for %q: %v.\n", key, err)
			}
		}
	}
	result, err := config.MustNewConfigFrom(cfg).ToMapStr()
	if err != nil {
		return mapStr
	}
	return result
}

// RedactPossibleSecrets replaces every string value whose key looks sensitive.
func RedactPossibleSecrets(mapStr map[string]any, errOut io.Writer) map[string]any {
	return redactMap(errOut, mapStr)
}

// redactMap redacts sensitive values from the inputMap
func redactMap[K comparable](errOut io.Writer, inputMap map[K]interface{}) map[K]interface{} {
	if inputMap == nil {
		return nil
	}
	for rootKey, rootValue := range inputMap {
		if rootValue == nil {
			continue
		}
		switch cast := rootValue.(type) {
		case map[string]interface{}:
			rootValue = redactMap(errOut, cast)
		case map[interface{}]interface{}:
			rootValue = redactMap(errOut, cast)
		case []interface{}:
			rootValue = redactList(errOut, cast)
		case string:
			if keyString, ok := any(rootKey).(string); ok && redactKey(keyString) {
				rootValue = REDACTED
			}
		default:
			// in cases where we got some weird kind of map we couldn't parse, print a warning
			if reflect.TypeOf(rootValue).Kind() == reflect.Map {
				fmt.Fprintf(errOut, "[WARNING]: file may be partly redacted, could not cast value %v of type %T\n", rootKey, rootValue)
			}
		}
		inputMap[rootKey] = rootValue
	}
	return inputMap
}

func redactList(errOut io.Writer, list []interface{}) []interface{} {
	for i, v := range list {
		switch cast := v.(type) {
		case map[string]interface{}:
			list[i] = redactMap(errOut, cast)
		case map[interface{}]interface{}:
			list[i] = redactMap(errOut, cast)
		case []interface{}:
			list[i] = redactList(errOut, cast)
		}
	}
	return list
}

func redactKey(k string) bool {
	k = strings.ToLower(k)
	// a secret handle names where a secret lives, not the secret itself
	if k == "path" || k == "field" || k == "key" {
		return false
	}
	return strings.Contains(k, "certificate") ||
		strings.Contains(k, "passphrase") ||
		strings.Contains(k, "password") ||
		strings.Contains(k, "token") ||
		strings.Contains(k, "secret_value") ||
		strings.Contains(k, "credentials") ||
		strings.Contains(k, "key")
}
