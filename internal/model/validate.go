/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

// Package model contains the typed settings tree and the validated scalar types its leaves use.
// Each validated type can only be created through its constructor or by deserializing valid
// input, so a value that exists has already passed validation and re-serializing it can't fail.
// The constructors are also the failure surface for schema violations at API ingress: a request
// carrying a field that doesn't validate never reaches the datastore.
package model

import (
	"encoding/json"
	"regexp"

	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

// matchPattern returns an invalid input error unless the input matches the pattern. The thing
// name is included in the message so users know which field to fix.
func matchPattern(thing, input string, pattern *regexp.Regexp) error {
	if !pattern.MatchString(input) {
		return typederrors.NewInvalidInputError(
			nil, "%s %q doesn't match pattern %q", thing, input, pattern,
		)
	}
	return nil
}

// unmarshalString decodes a JSON string, which is the wire form of every validated string type.
func unmarshalString(data []byte) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", typederrors.NewInputError("expected a JSON string: %v", err)
	}
	return s, nil
}
