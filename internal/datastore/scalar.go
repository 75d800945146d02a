/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package datastore

import (
	"bytes"
	"encoding/json"

	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

// SerializeScalar serializes a value to the canonical on-disk scalar form.
func SerializeScalar(scalar any) (string, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	// Scalars are not HTML; keep '<', '>' and '&' readable on disk.
	encoder.SetEscapeHTML(false)
	err := encoder.Encode(scalar)
	if err != nil {
		return "", typederrors.NewInvalidInputError(err, "can't serialize scalar: %v", err)
	}
	// Encode appends a newline that is not part of the canonical form.
	return string(bytes.TrimRight(buffer.Bytes(), "\n")), nil
}

// DeserializeScalar deserializes the canonical scalar form into the given destination, which
// must be a pointer.
func DeserializeScalar(scalar string, dest any) error {
	decoder := json.NewDecoder(bytes.NewReader([]byte(scalar)))
	decoder.UseNumber()
	err := decoder.Decode(dest)
	if err != nil {
		return typederrors.NewInvalidInputError(err, "can't deserialize scalar %q: %v", scalar, err)
	}
	return nil
}

// ScalarValue deserializes the canonical scalar form into a generic JSON value.
func ScalarValue(scalar string) (any, error) {
	var value any
	err := DeserializeScalar(scalar, &value)
	if err != nil {
		return nil, err
	}
	return value, nil
}
