/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package migration

import (
	"os"
	"path/filepath"
	"sort"
)

// Binary is one discovered migration binary. The version is the one the binary migrates *to*
// when run forward.
type Binary struct {
	Version Version
	Name    string
	Path    string
}

// FindBinaries lists the migration binaries in the given directory. Files whose names don't
// match the migration grammar are ignored; a verified migration set may sit next to signature
// and metadata files.
func FindBinaries(dir string) ([]Binary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var result []Binary
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		captures := migrationFileRE.FindStringSubmatch(entry.Name())
		if captures == nil {
			continue
		}
		version, err := versionFromCaptures(captures[1], captures[2])
		if err != nil {
			return nil, err
		}
		result = append(result, Binary{
			Version: version,
			Name:    captures[3],
			Path:    filepath.Join(dir, entry.Name()),
		})
	}
	return result, nil
}

// Select returns the migrations needed to move from one version to another, in execution
// order.
//
// A forward migration runs when stepping from its predecessor to its own version, so moving
// forward we take every migration with from < version <= to, ascending by version and then by
// name. A backward migration runs when stepping from its own version to its predecessor, so
// moving backward we take every migration with to < version <= from, descending by version and
// by reverse name order. The name order within one version is the stable tie break, so each
// migration sees a deterministic input state in both directions.
func Select(binaries []Binary, from, to Version) []Binary {
	direction := DirectionFromVersions(from, to)
	if direction == NoMigration {
		return nil
	}

	low, high := from, to
	if direction == Backward {
		low, high = to, from
	}
	var selected []Binary
	for _, binary := range binaries {
		if binary.Version.Compare(low) > 0 && binary.Version.Compare(high) <= 0 {
			selected = append(selected, binary)
		}
	}

	sort.Slice(selected, func(i, j int) bool {
		cmp := selected[i].Version.Compare(selected[j].Version)
		if cmp == 0 {
			if direction == Forward {
				return selected[i].Name < selected[j].Name
			}
			return selected[i].Name > selected[j].Name
		}
		if direction == Forward {
			return cmp < 0
		}
		return cmp > 0
	})
	return selected
}
