/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

// Package storeinit creates the filesystem datastore on first boot and populates it with the
// shipped defaults document, including service tables and metadata. Runs before the API server
// starts; running it again is harmless because existing keys are never overwritten.
package storeinit

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/basalt-os/basalt/internal/datastore"
	"github.com/basalt-os/basalt/internal/files"
	"github.com/basalt-os/basalt/internal/migration"
	"github.com/basalt-os/basalt/internal/model"
	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

// defaultsDocument is the shape of the embedded defaults file: the data branches plus a list
// of metadata assignments.
type defaultsDocument struct {
	Settings           map[string]any   `yaml:"settings"`
	Services           map[string]any   `yaml:"services"`
	ConfigurationFiles map[string]any   `yaml:"configuration-files"`
	Metadata           []model.Metadata `yaml:"metadata"`
}

// InitializerBuilder contains the data and logic needed to create an initializer. Don't create
// instances of this directly, use the NewInitializer function instead.
type InitializerBuilder struct {
	logger        *slog.Logger
	fs            afero.Fs
	datastorePath string
	version       migration.Version
	haveVersion   bool
}

// Initializer creates and populates the datastore.
type Initializer struct {
	logger        *slog.Logger
	fs            afero.Fs
	datastorePath string
	version       migration.Version
}

// NewInitializer creates a builder that can then be used to configure and create an
// initializer.
func NewInitializer() *InitializerBuilder {
	return &InitializerBuilder{}
}

// SetLogger sets the logger that the initializer will use to write to the log. This is
// mandatory.
func (b *InitializerBuilder) SetLogger(value *slog.Logger) *InitializerBuilder {
	b.logger = value
	return b
}

// SetFs sets the filesystem the datastore lives on. This is mandatory.
func (b *InitializerBuilder) SetFs(value afero.Fs) *InitializerBuilder {
	b.fs = value
	return b
}

// SetDatastorePath sets the path of the 'current' datastore symlink. This is mandatory.
func (b *InitializerBuilder) SetDatastorePath(value string) *InitializerBuilder {
	b.datastorePath = value
	return b
}

// SetVersion sets the datastore version used when a fresh datastore directory has to be
// created. This is mandatory.
func (b *InitializerBuilder) SetVersion(value migration.Version) *InitializerBuilder {
	b.version = value
	b.haveVersion = true
	return b
}

// Build uses the data stored in the builder to create a new initializer.
func (b *InitializerBuilder) Build() (result *Initializer, err error) {
	if b.logger == nil {
		err = errors.New("logger is mandatory")
		return
	}
	if b.fs == nil {
		err = errors.New("filesystem is mandatory")
		return
	}
	if b.datastorePath == "" {
		err = errors.New("datastore path is mandatory")
		return
	}
	if !b.haveVersion {
		err = errors.New("version is mandatory")
		return
	}
	result = &Initializer{
		logger:        b.logger,
		fs:            b.fs,
		datastorePath: b.datastorePath,
		version:       b.version,
	}
	return
}

// Run creates the datastore directory if needed and writes the defaults into it. Returns the
// resolved datastore directory.
func (i *Initializer) Run() (string, error) {
	base, err := i.ensureDatastore()
	if err != nil {
		return "", err
	}
	ds := datastore.NewFilesystemDataStore(i.fs, base)

	document := defaultsDocument{}
	if err := yaml.Unmarshal(files.Defaults, &document); err != nil {
		return "", typederrors.NewInvalidInputError(err, "defaults document is not valid YAML: %v", err)
	}

	branches := map[string]map[string]any{
		"settings":            document.Settings,
		"services":            document.Services,
		"configuration-files": document.ConfigurationFiles,
	}
	written := 0
	for branch, tree := range branches {
		pairs := map[string]string{}
		if err := flatten(branch, tree, pairs); err != nil {
			return "", err
		}
		names := make([]string, 0, len(pairs))
		for name := range pairs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			key, err := datastore.NewKey(datastore.Data, name)
			if err != nil {
				return "", err
			}
			populated, err := ds.KeyPopulated(key, datastore.Live)
			if err != nil {
				return "", err
			}
			if populated {
				continue
			}
			if err := ds.SetKey(key, pairs[name], datastore.Live); err != nil {
				return "", err
			}
			written++
		}
	}

	for _, entry := range document.Metadata {
		dataKey, err := datastore.NewKey(datastore.Data, entry.Key)
		if err != nil {
			return "", err
		}
		metaKey, err := datastore.NewKey(datastore.Meta, entry.Md)
		if err != nil {
			return "", err
		}
		value, err := datastore.SerializeScalar(normalize(entry.Val))
		if err != nil {
			return "", err
		}
		if err := ds.SetMetadata(metaKey, dataKey, value); err != nil {
			return "", err
		}
	}

	i.logger.Info(
		"Populated datastore defaults",
		slog.String("datastore", base),
		slog.Int("written", written),
		slog.Int("metadata", len(document.Metadata)),
	)
	return base, nil
}

// ensureDatastore resolves the 'current' symlink, creating a fresh versioned directory and the
// symlink when they don't exist yet.
func (i *Initializer) ensureDatastore() (string, error) {
	parent := filepath.Dir(i.datastorePath)

	// afero's memory filesystem can't hold symlinks; when the backing filesystem doesn't
	// support them the datastore path is used as a plain directory.
	linker, hasSymlinks := i.fs.(afero.Symlinker)
	if !hasSymlinks {
		if err := i.fs.MkdirAll(i.datastorePath, 0o755); err != nil {
			return "", typederrors.NewDatastoreIOError(err, "can't create %q: %v", i.datastorePath, err)
		}
		return i.datastorePath, nil
	}

	target, err := linker.ReadlinkIfPossible(i.datastorePath)
	if err == nil && target != "" {
		if !filepath.IsAbs(target) {
			target = filepath.Join(parent, target)
		}
		return target, nil
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	name := fmt.Sprintf("v%d.%d_%s", i.version.Major, i.version.Minor, id)
	dir := filepath.Join(parent, name)
	if err := i.fs.MkdirAll(dir, 0o755); err != nil {
		return "", typederrors.NewDatastoreIOError(err, "can't create %q: %v", dir, err)
	}
	if err := linker.SymlinkIfPossible(name, i.datastorePath); err != nil {
		if !os.IsExist(err) {
			return "", typederrors.NewDatastoreIOError(
				err, "can't create datastore symlink %q: %v", i.datastorePath, err,
			)
		}
	}
	return dir, nil
}

// flatten walks the YAML tree into flat pairs. Maps recurse into deeper keys; scalars and
// sequences are stored as single values, the same shapes the typed model produces.
func flatten(prefix string, tree map[string]any, pairs map[string]string) error {
	for name, value := range tree {
		full := name
		if prefix != "" {
			full = prefix + datastore.KeySeparator + name
		}
		if child, ok := value.(map[string]any); ok {
			if err := flatten(full, child, pairs); err != nil {
				return err
			}
			continue
		}
		serialized, err := datastore.SerializeScalar(normalize(value))
		if err != nil {
			return err
		}
		pairs[full] = serialized
	}
	return nil
}

// normalize converts YAML decoded values into JSON friendly shapes.
func normalize(value any) any {
	switch v := value.(type) {
	case map[any]any:
		result := map[string]any{}
		for key, item := range v {
			result[fmt.Sprintf("%v", key)] = normalize(item)
		}
		return result
	case map[string]any:
		result := map[string]any{}
		for key, item := range v {
			result[key] = normalize(item)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for index, item := range v {
			result[index] = normalize(item)
		}
		return result
	default:
		return v
	}
}
