/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package datastore

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/spf13/afero"

	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

// Names of the regions inside a datastore directory.
const (
	liveDir     = "live"
	pendingDir  = "pending"
	metadataDir = "metadata"
)

// FilesystemDataStore stores keys as files in a directory hierarchy. A data key like "a.b.c"
// maps to the file "a/b/c" inside the region it belongs to, with three regions at the top level:
//
//	live/               authoritative committed values
//	pending/<tx>/       uncommitted values, one directory per transaction
//	metadata/           metadata files, named "<data path>.<meta key>"
//
// Committing a transaction renames each pending file into the live region, which is atomic per
// key on a local filesystem; a power loss can lose individual pending writes but never produces
// an empty live region.
type FilesystemDataStore struct {
	fs   afero.Fs
	base string
}

// NewFilesystemDataStore creates a datastore rooted at the given directory. The directory is the
// version directory itself, normally reached through the 'current' symlink; the regions inside
// it are created on first write.
func NewFilesystemDataStore(fs afero.Fs, base string) *FilesystemDataStore {
	return &FilesystemDataStore{
		fs:   fs,
		base: base,
	}
}

// Base returns the directory the datastore is rooted at.
func (d *FilesystemDataStore) Base() string {
	return d.base
}

// regionPath returns the directory holding data files for the given committed state.
func (d *FilesystemDataStore) regionPath(committed Committed) string {
	if committed.IsLive() {
		return path.Join(d.base, liveDir)
	}
	return path.Join(d.base, pendingDir, committed.Transaction())
}

// dataPath returns the file path for a data key in the given committed state.
func (d *FilesystemDataStore) dataPath(key Key, committed Committed) string {
	return path.Join(append([]string{d.regionPath(committed)}, key.Segments()...)...)
}

// metadataPath returns the file path for a metadata key attached to a data key.
func (d *FilesystemDataStore) metadataPath(metaKey, dataKey Key) string {
	segments := dataKey.Segments()
	last := segments[len(segments)-1] + KeySeparator + metaKey.Name()
	parts := append([]string{path.Join(d.base, metadataDir)}, segments[:len(segments)-1]...)
	return path.Join(append(parts, last)...)
}

// KeyPopulated implements DataStore.
func (d *FilesystemDataStore) KeyPopulated(key Key, committed Committed) (bool, error) {
	_, err := d.fs.Stat(d.dataPath(key, committed))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, typederrors.NewDatastoreIOError(err, "can't stat key %q: %v", key, err)
	}
	return true, nil
}

// ListPopulated implements DataStore.
func (d *FilesystemDataStore) ListPopulated(prefix string, committed Committed) (KeySet, error) {
	result := KeySet{}
	region := d.regionPath(committed)
	exists, err := afero.DirExists(d.fs, region)
	if err != nil {
		return nil, typederrors.NewDatastoreIOError(err, "can't check region %q: %v", region, err)
	}
	if !exists {
		return result, nil
	}
	err = afero.Walk(d.fs, region, func(file string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		name, nameErr := keyNameFromPath(region, file)
		if nameErr != nil {
			return nameErr
		}
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		key, keyErr := NewKey(Data, name)
		if keyErr != nil {
			return typederrors.NewDatastoreIOError(
				keyErr, "datastore contains file %q that is not a valid key: %v",
				file, keyErr,
			)
		}
		result[key] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, typederrors.NewDatastoreIOError(err, "can't list keys under %q: %v", region, err)
	}
	return result, nil
}

// keyNameFromPath turns a file path back into the dotted key name it encodes.
func keyNameFromPath(region, file string) (string, error) {
	rel := strings.TrimPrefix(file, region)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" || rel == file {
		return "", typederrors.NewDatastoreIOError(
			nil, "file %q is outside datastore region %q", file, region,
		)
	}
	return strings.ReplaceAll(rel, "/", KeySeparator), nil
}

// GetKey implements DataStore.
func (d *FilesystemDataStore) GetKey(key Key, committed Committed) (string, bool, error) {
	return d.readFile(d.dataPath(key, committed))
}

// SetKey implements DataStore.
func (d *FilesystemDataStore) SetKey(key Key, value string, committed Committed) error {
	return d.writeFile(d.dataPath(key, committed), value)
}

// UnsetKey implements DataStore.
func (d *FilesystemDataStore) UnsetKey(key Key, committed Committed) error {
	return d.removeFile(d.dataPath(key, committed))
}

// GetMetadataRaw implements DataStore.
func (d *FilesystemDataStore) GetMetadataRaw(metaKey, dataKey Key) (string, bool, error) {
	return d.readFile(d.metadataPath(metaKey, dataKey))
}

// SetMetadata implements DataStore.
func (d *FilesystemDataStore) SetMetadata(metaKey, dataKey Key, value string) error {
	return d.writeFile(d.metadataPath(metaKey, dataKey), value)
}

// UnsetMetadata implements DataStore.
func (d *FilesystemDataStore) UnsetMetadata(metaKey, dataKey Key) error {
	return d.removeFile(d.metadataPath(metaKey, dataKey))
}

// ListMetadata implements DataStore.
func (d *FilesystemDataStore) ListMetadata(metaKey Key) (map[Key]string, error) {
	result := map[Key]string{}
	region := path.Join(d.base, metadataDir)
	exists, err := afero.DirExists(d.fs, region)
	if err != nil {
		return nil, typederrors.NewDatastoreIOError(err, "can't check region %q: %v", region, err)
	}
	if !exists {
		return result, nil
	}
	suffix := KeySeparator + metaKey.Name()
	err = afero.Walk(d.fs, region, func(file string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		name, nameErr := keyNameFromPath(region, file)
		if nameErr != nil {
			return nameErr
		}
		if !strings.HasSuffix(name, suffix) {
			return nil
		}
		dataName := strings.TrimSuffix(name, suffix)
		dataKey, keyErr := NewKey(Data, dataName)
		if keyErr != nil {
			return typederrors.NewDatastoreIOError(
				keyErr, "metadata file %q doesn't encode a valid key: %v", file, keyErr,
			)
		}
		value, _, readErr := d.readFile(file)
		if readErr != nil {
			return readErr
		}
		result[dataKey] = value
		return nil
	})
	if err != nil {
		return nil, typederrors.NewDatastoreIOError(
			err, "can't list %q metadata under %q: %v", metaKey, region, err,
		)
	}
	return result, nil
}

// ListAllMetadata returns every metadata assignment in the datastore, as a mapping of data key
// to metadata key to value. Migrations use this to carry all metadata across a version change
// without knowing the metadata key names in advance.
func (d *FilesystemDataStore) ListAllMetadata() (map[Key]map[Key]string, error) {
	result := map[Key]map[Key]string{}
	region := path.Join(d.base, metadataDir)
	exists, err := afero.DirExists(d.fs, region)
	if err != nil {
		return nil, typederrors.NewDatastoreIOError(err, "can't check region %q: %v", region, err)
	}
	if !exists {
		return result, nil
	}
	err = afero.Walk(d.fs, region, func(file string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		name, nameErr := keyNameFromPath(region, file)
		if nameErr != nil {
			return nameErr
		}
		separator := strings.LastIndex(name, KeySeparator)
		if separator <= 0 {
			return typederrors.NewDatastoreIOError(
				nil, "metadata file %q doesn't encode a key pair", file,
			)
		}
		dataKey, keyErr := NewKey(Data, name[:separator])
		if keyErr != nil {
			return keyErr
		}
		metaKey, keyErr := NewKey(Meta, name[separator+1:])
		if keyErr != nil {
			return keyErr
		}
		value, _, readErr := d.readFile(file)
		if readErr != nil {
			return readErr
		}
		if result[dataKey] == nil {
			result[dataKey] = map[Key]string{}
		}
		result[dataKey][metaKey] = value
		return nil
	})
	if err != nil {
		return nil, typederrors.NewDatastoreIOError(
			err, "can't list metadata under %q: %v", region, err,
		)
	}
	return result, nil
}

// ListTransactions implements DataStore.
func (d *FilesystemDataStore) ListTransactions() ([]string, error) {
	dir := path.Join(d.base, pendingDir)
	exists, err := afero.DirExists(d.fs, dir)
	if err != nil {
		return nil, typederrors.NewDatastoreIOError(err, "can't check %q: %v", dir, err)
	}
	if !exists {
		return nil, nil
	}
	entries, err := afero.ReadDir(d.fs, dir)
	if err != nil {
		return nil, typederrors.NewDatastoreIOError(err, "can't list transactions in %q: %v", dir, err)
	}
	var result []string
	for _, entry := range entries {
		if entry.IsDir() {
			result = append(result, entry.Name())
		}
	}
	sort.Strings(result)
	return result, nil
}

// CommitTransaction implements DataStore. The pending files are renamed into the live region one
// key at a time; the caller is expected to hold the datastore write lock so that readers observe
// the commit as a single transition.
func (d *FilesystemDataStore) CommitTransaction(tx string) (KeySet, error) {
	committed, err := Pending(tx)
	if err != nil {
		return nil, err
	}
	pending, err := d.ListPopulated("", committed)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, typederrors.NewNoPendingError(
			nil, "tried to commit with no pending changes in transaction %q", tx,
		)
	}

	changed := KeySet{}
	for key := range pending {
		source := d.dataPath(key, committed)
		target := d.dataPath(key, Live)

		newValue, _, err := d.readFile(source)
		if err != nil {
			return nil, err
		}
		oldValue, populated, err := d.readFile(target)
		if err != nil {
			return nil, err
		}
		if !populated || oldValue != newValue {
			changed[key] = struct{}{}
		}

		if err := d.fs.MkdirAll(path.Dir(target), 0o755); err != nil {
			return nil, typederrors.NewDatastoreIOError(err, "can't create %q: %v", path.Dir(target), err)
		}
		if err := d.fs.Rename(source, target); err != nil {
			return nil, typederrors.NewDatastoreIOError(
				err, "can't move pending key %q into live: %v", key, err,
			)
		}
		d.syncDir(path.Dir(target))
	}

	txDir := path.Join(d.base, pendingDir, tx)
	if err := d.fs.RemoveAll(txDir); err != nil {
		return nil, typederrors.NewDatastoreIOError(err, "can't remove %q: %v", txDir, err)
	}
	d.syncDir(path.Join(d.base, pendingDir))

	return changed, nil
}

// DeleteTransaction implements DataStore.
func (d *FilesystemDataStore) DeleteTransaction(tx string) error {
	committed, err := Pending(tx)
	if err != nil {
		return err
	}
	txDir := d.regionPath(committed)
	exists, err := afero.DirExists(d.fs, txDir)
	if err != nil {
		return typederrors.NewDatastoreIOError(err, "can't check %q: %v", txDir, err)
	}
	if !exists {
		return typederrors.NewMissingResourceError(nil, "no pending transaction %q", tx)
	}
	if err := d.fs.RemoveAll(txDir); err != nil {
		return typederrors.NewDatastoreIOError(err, "can't remove %q: %v", txDir, err)
	}
	return nil
}

func (d *FilesystemDataStore) readFile(file string) (string, bool, error) {
	data, err := afero.ReadFile(d.fs, file)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, typederrors.NewDatastoreIOError(err, "can't read %q: %v", file, err)
	}
	return string(data), true, nil
}

func (d *FilesystemDataStore) writeFile(file, value string) error {
	dir := path.Dir(file)
	if err := d.fs.MkdirAll(dir, 0o755); err != nil {
		return typederrors.NewDatastoreIOError(err, "can't create %q: %v", dir, err)
	}
	// Write through a temporary file so a reader never observes a half written value.
	tmp := file + ".tmp"
	if err := afero.WriteFile(d.fs, tmp, []byte(value), 0o644); err != nil {
		return typederrors.NewDatastoreIOError(err, "can't write %q: %v", tmp, err)
	}
	if err := d.fs.Rename(tmp, file); err != nil {
		return typederrors.NewDatastoreIOError(err, "can't rename %q to %q: %v", tmp, file, err)
	}
	return nil
}

func (d *FilesystemDataStore) removeFile(file string) error {
	err := d.fs.Remove(file)
	if err != nil && !os.IsNotExist(err) {
		return typederrors.NewDatastoreIOError(err, "can't remove %q: %v", file, err)
	}
	return nil
}

// syncDir flushes directory metadata so renames survive a power loss. Filesystems that don't
// support syncing directories are tolerated; the commit still happened, just with weaker
// durability.
func (d *FilesystemDataStore) syncDir(dir string) {
	f, err := d.fs.Open(dir)
	if err != nil {
		return
	}
	defer f.Close()
	_ = f.Sync()
}

var _ DataStore = (*FilesystemDataStore)(nil)

// String describes the datastore for logs.
func (d *FilesystemDataStore) String() string {
	return fmt.Sprintf("filesystem datastore at %s", d.base)
}
