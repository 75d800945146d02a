/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package migrate

import "fmt"

// Common migration shapes. Each returns a Migration so that simple migrations are a one-liner
// in the binary's main function.

// AddSettings returns a migration that adds settings when going forward and removes them when
// going backward. The keys are only added when their parent structure already exists, because
// pending transactions go through the same transform and must not gain unrelated keys.
func AddSettings(settings map[string]any) Migration {
	return &addSettings{settings: settings}
}

type addSettings struct {
	settings map[string]any
}

func (m *addSettings) Forward(input MigrationData) (MigrationData, error) {
	for name, value := range m.settings {
		if _, ok := input.Data[name]; ok {
			continue
		}
		if !hasSibling(input.Data, name) {
			continue
		}
		input.Data[name] = value
		fmt.Printf("Added %q on upgrade\n", name)
	}
	return input, nil
}

func (m *addSettings) Backward(input MigrationData) (MigrationData, error) {
	for name := range m.settings {
		if _, ok := input.Data[name]; ok {
			delete(input.Data, name)
			fmt.Printf("Removed %q on downgrade\n", name)
		}
	}
	return input, nil
}

// hasSibling reports whether any key under the same parent prefix is present, which is how we
// tell that the structure the key belongs to exists in this dataset.
func hasSibling(data map[string]any, name string) bool {
	parent := parentPrefix(name)
	if parent == "" {
		return true
	}
	for existing := range data {
		if existing != name && len(existing) > len(parent) && existing[:len(parent)] == parent {
			return true
		}
	}
	return false
}

func parentPrefix(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i+1]
		}
	}
	return ""
}

// RemoveSettings returns a migration that removes settings when going forward. The values are
// not restored on the way back; a downgrade just leaves the keys absent, the same state as a
// fresh install of the older version before first boot.
func RemoveSettings(names ...string) Migration {
	return &removeSettings{names: names}
}

type removeSettings struct {
	names []string
}

func (m *removeSettings) Forward(input MigrationData) (MigrationData, error) {
	for _, name := range m.names {
		if _, ok := input.Data[name]; ok {
			delete(input.Data, name)
			fmt.Printf("Removed %q on upgrade\n", name)
		}
	}
	return input, nil
}

func (m *removeSettings) Backward(input MigrationData) (MigrationData, error) {
	return input, nil
}

// ReplaceStringValue returns a migration that replaces one known string value of a setting
// with another, in both directions. Values that don't match are left alone.
func ReplaceStringValue(setting, old, new string) Migration {
	return &replaceString{setting: setting, old: old, new: new}
}

type replaceString struct {
	setting string
	old     string
	new     string
}

func (m *replaceString) Forward(input MigrationData) (MigrationData, error) {
	replaceData(input.Data, m.setting, m.old, m.new, "upgrade")
	return input, nil
}

func (m *replaceString) Backward(input MigrationData) (MigrationData, error) {
	replaceData(input.Data, m.setting, m.new, m.old, "downgrade")
	return input, nil
}

func replaceData(data map[string]any, setting, from, to, direction string) {
	value, ok := data[setting]
	if !ok {
		return
	}
	current, ok := value.(string)
	if !ok || current != from {
		return
	}
	data[setting] = to
	fmt.Printf("Changed %q from %q to %q on %s\n", setting, from, to, direction)
}

// ReplaceMetadata returns a migration that replaces one known value of a metadata key attached
// to a setting, in both directions.
func ReplaceMetadata(setting, metaKey, old, new string) Migration {
	return &replaceMetadata{setting: setting, metaKey: metaKey, old: old, new: new}
}

type replaceMetadata struct {
	setting string
	metaKey string
	old     string
	new     string
}

func (m *replaceMetadata) Forward(input MigrationData) (MigrationData, error) {
	m.replace(input, m.old, m.new, "upgrade")
	return input, nil
}

func (m *replaceMetadata) Backward(input MigrationData) (MigrationData, error) {
	m.replace(input, m.new, m.old, "downgrade")
	return input, nil
}

func (m *replaceMetadata) replace(input MigrationData, from, to, direction string) {
	metadata, ok := input.Metadata[m.setting]
	if !ok {
		fmt.Printf("Found no metadata for %q\n", m.setting)
		return
	}
	value, ok := metadata[m.metaKey]
	if !ok {
		fmt.Printf("Found no %q metadata for %q\n", m.metaKey, m.setting)
		return
	}
	current, ok := value.(string)
	if !ok {
		fmt.Printf("Metadata %q of %q is not a string, leaving alone\n", m.metaKey, m.setting)
		return
	}
	if current != from {
		fmt.Printf("Metadata %q of %q is not %q, leaving alone\n", m.metaKey, m.setting, from)
		return
	}
	metadata[m.metaKey] = to
	fmt.Printf("Changed %q metadata of %q from %q to %q on %s\n",
		m.metaKey, m.setting, from, to, direction)
}

// SetMetadata returns a migration that sets a metadata value when going forward and removes it
// when going backward, for settings that gain a template or generator in the new version.
func SetMetadata(setting, metaKey string, value any) Migration {
	return &setMetadata{setting: setting, metaKey: metaKey, value: value}
}

type setMetadata struct {
	setting string
	metaKey string
	value   any
}

func (m *setMetadata) Forward(input MigrationData) (MigrationData, error) {
	if input.Metadata[m.setting] == nil {
		input.Metadata[m.setting] = Metadata{}
	}
	input.Metadata[m.setting][m.metaKey] = m.value
	return input, nil
}

func (m *setMetadata) Backward(input MigrationData) (MigrationData, error) {
	if metadata, ok := input.Metadata[m.setting]; ok {
		delete(metadata, m.metaKey)
		if len(metadata) == 0 {
			delete(input.Metadata, m.setting)
		}
	}
	return input, nil
}

// Chain returns a migration that runs the given migrations in order going forward and in
// reverse order going backward.
func Chain(migrations ...Migration) Migration {
	return &chain{migrations: migrations}
}

type chain struct {
	migrations []Migration
}

func (m *chain) Forward(input MigrationData) (MigrationData, error) {
	var err error
	for _, migration := range m.migrations {
		input, err = migration.Forward(input)
		if err != nil {
			return input, err
		}
	}
	return input, nil
}

func (m *chain) Backward(input MigrationData) (MigrationData, error) {
	var err error
	for i := len(m.migrations) - 1; i >= 0; i-- {
		input, err = m.migrations[i].Backward(input)
		if err != nil {
			return input, err
		}
	}
	return input, nil
}
