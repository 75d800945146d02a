/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

// Package osrelease reads the release identity of the running image from the os-release file.
package osrelease

import (
	"runtime"
	"strings"

	"github.com/coreos/go-semver/semver"
	"github.com/spf13/afero"
	"gopkg.in/ini.v1"

	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

// DefaultPath is where the release manifest lives on the host.
const DefaultPath = "/etc/os-release"

// Release is the identity of the running OS image, served by the API under /os and exposed to
// templates under "os".
type Release struct {
	PrettyName string `json:"pretty-name"`
	VariantID  string `json:"variant-id"`
	VersionID  string `json:"version-id"`
	BuildID    string `json:"build-id"`
	Arch       string `json:"arch"`
}

// Load reads and parses the os-release file at the given path. VERSION_ID must parse as a
// semantic version; a bare MAJOR.MINOR gets ".0" appended first.
func Load(fs afero.Fs, path string) (*Release, error) {
	content, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, typederrors.NewDatastoreIOError(err, "can't read %q: %v", path, err)
	}
	return Parse(content)
}

// Parse parses the content of an os-release file. The format is the flat KEY=value form shared
// with systemd, which is a degenerate INI file with no sections.
func Parse(content []byte) (*Release, error) {
	file, err := ini.Load(content)
	if err != nil {
		return nil, typederrors.NewInvalidInputError(err, "can't parse os-release: %v", err)
	}
	section := file.Section("")
	release := &Release{
		PrettyName: section.Key("PRETTY_NAME").String(),
		VariantID:  section.Key("VARIANT_ID").String(),
		VersionID:  section.Key("VERSION_ID").String(),
		BuildID:    section.Key("BUILD_ID").String(),
		Arch:       runtime.GOARCH,
	}
	if release.VersionID == "" {
		return nil, typederrors.NewInvalidInputError(nil, "os-release has no VERSION_ID")
	}
	if _, err := release.Version(); err != nil {
		return nil, err
	}
	return release, nil
}

// Version returns VERSION_ID as a semantic version.
func (r *Release) Version() (*semver.Version, error) {
	raw := r.VersionID
	if strings.Count(raw, ".") == 1 {
		raw += ".0"
	}
	version, err := semver.NewVersion(raw)
	if err != nil {
		return nil, typederrors.NewInvalidInputError(
			err, "VERSION_ID %q is not a semantic version: %v", r.VersionID, err,
		)
	}
	return version, nil
}
