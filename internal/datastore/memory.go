/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package datastore

import (
	"sort"
	"strings"

	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

// metadataEntry identifies a metadata value by the pair of keys that address it.
type metadataEntry struct {
	metaKey Key
	dataKey Key
}

// MemoryDataStore is an in-memory implementation of DataStore used in tests, where the
// filesystem layout is not the thing under test.
type MemoryDataStore struct {
	live     map[Key]string
	pending  map[string]map[Key]string
	metadata map[metadataEntry]string
}

// NewMemoryDataStore creates an empty in-memory datastore.
func NewMemoryDataStore() *MemoryDataStore {
	return &MemoryDataStore{
		live:     map[Key]string{},
		pending:  map[string]map[Key]string{},
		metadata: map[metadataEntry]string{},
	}
}

func (d *MemoryDataStore) dataset(committed Committed) map[Key]string {
	if committed.IsLive() {
		return d.live
	}
	return d.pending[committed.Transaction()]
}

// KeyPopulated implements DataStore.
func (d *MemoryDataStore) KeyPopulated(key Key, committed Committed) (bool, error) {
	_, ok := d.dataset(committed)[key]
	return ok, nil
}

// ListPopulated implements DataStore.
func (d *MemoryDataStore) ListPopulated(prefix string, committed Committed) (KeySet, error) {
	result := KeySet{}
	for key := range d.dataset(committed) {
		if strings.HasPrefix(key.Name(), prefix) {
			result[key] = struct{}{}
		}
	}
	return result, nil
}

// GetKey implements DataStore.
func (d *MemoryDataStore) GetKey(key Key, committed Committed) (string, bool, error) {
	value, ok := d.dataset(committed)[key]
	return value, ok, nil
}

// SetKey implements DataStore.
func (d *MemoryDataStore) SetKey(key Key, value string, committed Committed) error {
	if committed.IsLive() {
		d.live[key] = value
		return nil
	}
	tx := committed.Transaction()
	if d.pending[tx] == nil {
		d.pending[tx] = map[Key]string{}
	}
	d.pending[tx][key] = value
	return nil
}

// UnsetKey implements DataStore.
func (d *MemoryDataStore) UnsetKey(key Key, committed Committed) error {
	delete(d.dataset(committed), key)
	return nil
}

// GetMetadataRaw implements DataStore.
func (d *MemoryDataStore) GetMetadataRaw(metaKey, dataKey Key) (string, bool, error) {
	value, ok := d.metadata[metadataEntry{metaKey, dataKey}]
	return value, ok, nil
}

// SetMetadata implements DataStore.
func (d *MemoryDataStore) SetMetadata(metaKey, dataKey Key, value string) error {
	d.metadata[metadataEntry{metaKey, dataKey}] = value
	return nil
}

// UnsetMetadata implements DataStore.
func (d *MemoryDataStore) UnsetMetadata(metaKey, dataKey Key) error {
	delete(d.metadata, metadataEntry{metaKey, dataKey})
	return nil
}

// ListMetadata implements DataStore.
func (d *MemoryDataStore) ListMetadata(metaKey Key) (map[Key]string, error) {
	result := map[Key]string{}
	for entry, value := range d.metadata {
		if entry.metaKey == metaKey {
			result[entry.dataKey] = value
		}
	}
	return result, nil
}

// ListTransactions implements DataStore.
func (d *MemoryDataStore) ListTransactions() ([]string, error) {
	var result []string
	for tx, keys := range d.pending {
		if len(keys) > 0 {
			result = append(result, tx)
		}
	}
	sort.Strings(result)
	return result, nil
}

// CommitTransaction implements DataStore.
func (d *MemoryDataStore) CommitTransaction(tx string) (KeySet, error) {
	pending := d.pending[tx]
	if len(pending) == 0 {
		return nil, typederrors.NewNoPendingError(
			nil, "tried to commit with no pending changes in transaction %q", tx,
		)
	}
	changed := KeySet{}
	for key, value := range pending {
		if old, ok := d.live[key]; !ok || old != value {
			changed[key] = struct{}{}
		}
		d.live[key] = value
	}
	delete(d.pending, tx)
	return changed, nil
}

// DeleteTransaction implements DataStore.
func (d *MemoryDataStore) DeleteTransaction(tx string) error {
	if _, ok := d.pending[tx]; !ok {
		return typederrors.NewMissingResourceError(nil, "no pending transaction %q", tx)
	}
	delete(d.pending, tx)
	return nil
}

var _ DataStore = (*MemoryDataStore)(nil)
