/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

// Package serialization implements the bridge between the typed settings model and the flat
// key/scalar pairs stored in the datastore, in both directions.
//
// Nested structs and string-keyed maps become dotted keys; leaves become scalars in the
// datastore's canonical form. Sequences, byte slices and non-string map keys have no flat
// representation and are rejected.
package serialization

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/basalt-os/basalt/internal/datastore"
	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

// ToPairs serializes a settings value into the flat pairs that represent it in the datastore.
func ToPairs(value any) (map[datastore.Key]string, error) {
	return ToPairsWithPrefix("", value)
}

// ToPairsWithPrefix is like ToPairs but prepends the given dotted prefix to every generated key.
// This lets you serialize a subtree, like the value of "settings.kubernetes", back under its
// location in the datastore.
func ToPairsWithPrefix(prefix string, value any) (map[datastore.Key]string, error) {
	result := map[datastore.Key]string{}
	err := walk(prefix, reflect.ValueOf(value), func(name string, scalar any) error {
		key, keyErr := datastore.NewKey(datastore.Data, name)
		if keyErr != nil {
			return keyErr
		}
		serialized, serErr := datastore.SerializeScalar(scalar)
		if serErr != nil {
			return serErr
		}
		result[key] = serialized
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// emit is called by walk with the dotted name and the scalar value of each leaf.
type emit func(name string, scalar any) error

var jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()

func walk(name string, value reflect.Value, fn emit) error {
	// Unwrap interfaces and pointers. A nil pointer is an absent optional value: nothing to
	// emit. Migrations rely on absent values staying absent, so this must not produce a key.
	for value.Kind() == reflect.Interface || value.Kind() == reflect.Pointer {
		if value.IsNil() {
			return nil
		}
		// Types with custom JSON marshalling are scalars even when they are structs
		// underneath; check before unwrapping loses the method set.
		if value.Type().Implements(jsonMarshalerType) {
			return fn(name, value.Interface())
		}
		value = value.Elem()
	}

	if value.IsValid() && value.Type().Implements(jsonMarshalerType) {
		return fn(name, value.Interface())
	}

	switch value.Kind() {
	case reflect.Struct:
		return walkStruct(name, value, fn)
	case reflect.Map:
		return walkMap(name, value, fn)
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		if name == "" {
			return typederrors.NewInvalidInputError(
				nil, "can't serialize a bare scalar without a key prefix",
			)
		}
		return fn(name, value.Interface())
	case reflect.Slice, reflect.Array:
		return typederrors.NewInvalidInputError(
			nil, "sequences have no flat representation, can't serialize %q", name,
		)
	default:
		return typederrors.NewInvalidInputError(
			nil, "type %s has no flat representation, can't serialize %q", value.Kind(), name,
		)
	}
}

func walkStruct(name string, value reflect.Value, fn emit) error {
	valueType := value.Type()
	for i := 0; i < valueType.NumField(); i++ {
		field := valueType.Field(i)
		if !field.IsExported() {
			continue
		}
		fieldName := field.Name
		if tag, ok := field.Tag.Lookup("json"); ok {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				fieldName = parts[0]
			}
		}
		if err := walk(join(name, fieldName), value.Field(i), fn); err != nil {
			return err
		}
	}
	return nil
}

func walkMap(name string, value reflect.Value, fn emit) error {
	if value.Type().Key().Kind() != reflect.String {
		return typederrors.NewInvalidInputError(
			nil, "map keys must be strings, can't serialize %q", name,
		)
	}
	iter := value.MapRange()
	for iter.Next() {
		entryName := iter.Key().String()
		// Map keys become key segments, so they must satisfy the key grammar.
		if _, err := datastore.NewKeyFromSegments(entryName); err != nil {
			return err
		}
		if err := walk(join(name, entryName), iter.Value(), fn); err != nil {
			return err
		}
	}
	return nil
}

func join(prefix, segment string) string {
	if prefix == "" {
		return segment
	}
	return prefix + datastore.KeySeparator + segment
}

// FromPairs deserializes flat pairs back into the nested tree of values they encode. The keys of
// the input map are dotted key names and the values are scalars in the datastore's canonical
// form.
func FromPairs(pairs map[string]string) (map[string]any, error) {
	result := map[string]any{}
	for name, scalar := range pairs {
		key, err := datastore.NewKey(datastore.Data, name)
		if err != nil {
			return nil, err
		}
		value, err := datastore.ScalarValue(scalar)
		if err != nil {
			return nil, err
		}
		if err := insert(result, key.Segments(), value); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// insert places a value at the position named by the segments, creating intermediate maps.
func insert(tree map[string]any, segments []string, value any) error {
	for len(segments) > 1 {
		child, ok := tree[segments[0]]
		if !ok {
			child = map[string]any{}
			tree[segments[0]] = child
		}
		childMap, ok := child.(map[string]any)
		if !ok {
			return typederrors.NewInvalidInputError(
				nil, "key segment %q holds both a value and children", segments[0],
			)
		}
		tree = childMap
		segments = segments[1:]
	}
	if _, ok := tree[segments[0]].(map[string]any); ok {
		return typederrors.NewInvalidInputError(
			nil, "key segment %q holds both a value and children", segments[0],
		)
	}
	tree[segments[0]] = value
	return nil
}

// FromPairsTo deserializes flat pairs into a typed destination, which must be a pointer to a
// model type. Unknown keys are rejected, the same way the API rejects unknown fields.
func FromPairsTo(dest any, pairs map[string]string) error {
	tree, err := FromPairs(pairs)
	if err != nil {
		return err
	}
	return DecodeTree(dest, tree)
}

// DecodeTree decodes a nested tree of values into a typed destination, rejecting unknown fields.
func DecodeTree(dest any, tree any) error {
	encoded, err := json.Marshal(tree)
	if err != nil {
		return typederrors.NewInvalidInputError(err, "can't re-encode value tree: %v", err)
	}
	decoder := json.NewDecoder(strings.NewReader(string(encoded)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return typederrors.NewInvalidInputError(err, "can't decode value tree: %v", err)
	}
	return nil
}

// KeyNames returns the dotted names of the pairs produced by ToPairs, which is convenient for
// logging and for computing affected services.
func KeyNames(pairs map[datastore.Key]string) []string {
	names := make([]string, 0, len(pairs))
	for key := range pairs {
		names = append(names, key.Name())
	}
	return names
}
