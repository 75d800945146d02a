/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

// Package migration implements the runner that carries the datastore across OS image versions
// by discovering, ordering and executing migration binaries.
package migration

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/coreos/go-semver/semver"

	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

var (
	// versionRE captures the major and minor components of a version string like "1.2" or
	// "v1.2".
	versionRE = regexp.MustCompile(`^v?([0-9]+)\.([0-9]+)$`)

	// datastoreDirRE captures the version and id from the name of a datastore directory,
	// like "v1.5_0123456789abcdef".
	datastoreDirRE = regexp.MustCompile(`^v?([0-9]+)\.([0-9]+)_(.+)$`)

	// migrationFileRE matches migration file names and captures the version and name, like
	// "migrate_v1.1_schnauzer-paws".
	migrationFileRE = regexp.MustCompile(`^migrate_v?([0-9]+)\.([0-9]+)_([a-zA-Z0-9-]+)$`)
)

// Version identifies a datastore format: the data store format version (major) and the content
// format version (minor).
type Version struct {
	Major uint32
	Minor uint32
}

// ParseVersion parses a version string like "1.0" or "v1.0".
func ParseVersion(input string) (Version, error) {
	captures := versionRE.FindStringSubmatch(input)
	if captures == nil {
		return Version{}, typederrors.NewInvalidInputError(
			nil, "version %q doesn't match %q", input, versionRE,
		)
	}
	return versionFromCaptures(captures[1], captures[2])
}

// VersionFromSemver converts a release version to a datastore version, dropping the patch
// component: the datastore format only changes with major and minor releases.
func VersionFromSemver(version *semver.Version) Version {
	return Version{
		Major: uint32(version.Major),
		Minor: uint32(version.Minor),
	}
}

func versionFromCaptures(major, minor string) (Version, error) {
	majorValue, err := strconv.ParseUint(major, 10, 32)
	if err != nil {
		return Version{}, typederrors.NewInvalidInputError(
			err, "version component %q is out of range: %v", major, err,
		)
	}
	minorValue, err := strconv.ParseUint(minor, 10, 32)
	if err != nil {
		return Version{}, typederrors.NewInvalidInputError(
			err, "version component %q is out of range: %v", minor, err,
		)
	}
	return Version{Major: uint32(majorValue), Minor: uint32(minorValue)}, nil
}

// VersionFromDirectoryName pulls the version out of a datastore directory name. The datastore
// path uses symlinks to represent versions and allow for easy version flips; this parses the
// name of the directory the 'current' symlink resolves to.
func VersionFromDirectoryName(name string) (Version, string, error) {
	captures := datastoreDirRE.FindStringSubmatch(name)
	if captures == nil {
		return Version{}, "", typederrors.NewInvalidInputError(
			nil, "datastore directory %q isn't named like a versioned datastore", name,
		)
	}
	version, err := versionFromCaptures(captures[1], captures[2])
	if err != nil {
		return Version{}, "", err
	}
	return version, captures[3], nil
}

// Compare returns a negative number when v is older than other, zero when equal, positive when
// newer.
func (v Version) Compare(other Version) int {
	if v.Major != other.Major {
		if v.Major < other.Major {
			return -1
		}
		return 1
	}
	if v.Minor != other.Minor {
		if v.Minor < other.Minor {
			return -1
		}
		return 1
	}
	return 0
}

func (v Version) String() string {
	return fmt.Sprintf("v%d.%d", v.Major, v.Minor)
}

// Direction represents whether we're moving forward toward a newer version, or rolling back to
// an older version.
type Direction int

const (
	// NoMigration means source and target versions are equal.
	NoMigration Direction = iota
	Forward
	Backward
)

// DirectionFromVersions determines the migration direction, given the outgoing ("from") and
// incoming ("to") versions.
func DirectionFromVersions(from, to Version) Direction {
	switch {
	case from.Compare(to) < 0:
		return Forward
	case from.Compare(to) > 0:
		return Backward
	default:
		return NoMigration
	}
}

func (d Direction) String() string {
	switch d {
	case Forward:
		return "--forward"
	case Backward:
		return "--backward"
	default:
		return "none"
	}
}
