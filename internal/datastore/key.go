/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package datastore

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

// KeySeparator joins the segments of a data key.
const KeySeparator = "."

// keySegmentStr can be used in a regular expression to validate segments of key names. The
// character set was chosen to match TOML and YAML bare keys for ease of serialization.
const keySegmentStr = "[a-zA-Z0-9_-]+"

// Maximum key name length matches the maximum filename length of 255; if we need longer keys we
// could make prefixes not count against this limit.
const maxKeyNameLength = 255

var (
	// keySegmentRE validates a single key name segment, e.g. between separators.
	keySegmentRE = regexp.MustCompile("^" + keySegmentStr + "$")

	// dataKeyRE validates a user-specified data key: optional dot-separated prefix segments,
	// with at least one final segment.
	dataKeyRE = regexp.MustCompile(`^(` + keySegmentStr + `\.)*` + keySegmentStr + "$")

	// metadataKeyRE validates a user-specified metadata key. No prefixes, just one segment.
	metadataKeyRE = keySegmentRE
)

// KeyType represents whether we want to check a Key as a data key or metadata key.
type KeyType int

const (
	// Data keys name settings and may be nested, like "settings.host-containers.admin".
	Data KeyType = iota
	// Meta keys name metadata attached to a data key, like "affected-services".
	Meta
)

func (t KeyType) String() string {
	switch t {
	case Data:
		return "data"
	case Meta:
		return "meta"
	default:
		return fmt.Sprintf("KeyType(%d)", int(t))
	}
}

// A Key is a pointer into the datastore with a convenient name. Names are simply dotted strings
// ("a.b.c") with the dots implying hierarchy, so "a.b.c" and "a.b.d" are probably related.
//
// A Key only contains its name, so its string form is its identity: two keys with the same name
// hash and compare the same, which is what makes them usable as map keys throughout.
type Key struct {
	name string
}

// NewKey checks the given name against the grammar for the given key type and returns the key.
func NewKey(keyType KeyType, name string) (Key, error) {
	if len(name) > maxKeyNameLength {
		return Key{}, typederrors.NewInvalidKeyError(
			nil, "key name beginning with %q is longer than the maximum of %d bytes",
			name[:32], maxKeyNameLength,
		)
	}

	var pattern *regexp.Regexp
	switch keyType {
	case Data:
		pattern = dataKeyRE
	case Meta:
		pattern = metadataKeyRE
	default:
		return Key{}, typederrors.NewInvalidKeyError(nil, "unknown key type %v", keyType)
	}

	if !pattern.MatchString(name) {
		return Key{}, typederrors.NewInvalidKeyError(
			nil, "invalid %s key %q, must match %q", keyType, name, pattern,
		)
	}

	return Key{name: name}, nil
}

// NewKeyFromSegments builds a data key by joining the given segments. Each segment is validated
// individually so a segment containing a separator is rejected rather than silently changing the
// key's depth.
func NewKeyFromSegments(segments ...string) (Key, error) {
	for _, segment := range segments {
		if !keySegmentRE.MatchString(segment) {
			return Key{}, typederrors.NewInvalidKeyError(
				nil, "invalid key segment %q, must match %q", segment, keySegmentRE,
			)
		}
	}
	return NewKey(Data, strings.Join(segments, KeySeparator))
}

// Name returns the string form of the key.
func (k Key) Name() string {
	return k.name
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return k.name
}

// Segments returns the dot-separated segments of the key.
func (k Key) Segments() []string {
	return strings.Split(k.name, KeySeparator)
}

// Prefixes returns all the keys from the first segment down to the key itself, in order. For
// "a.b.c" it returns "a", "a.b", "a.b.c". This is the walk used for metadata inheritance.
func (k Key) Prefixes() []Key {
	segments := k.Segments()
	result := make([]Key, 0, len(segments))
	name := ""
	for _, segment := range segments {
		if name != "" {
			name += KeySeparator
		}
		name += segment
		result = append(result, Key{name: name})
	}
	return result
}

// KeySet is a set of keys.
type KeySet map[Key]struct{}

// Names returns the sorted string forms of the keys in the set.
func (s KeySet) Names() []string {
	result := make([]string, 0, len(s))
	for key := range s {
		result = append(result, key.Name())
	}
	sort.Strings(result)
	return result
}
