/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

// Package datastore describes a key/value storage system with metadata and simple transactions.
//
// Scalars, the actual values stored under a datastore key, are represented using JSON, just to
// have a convenient human readable form. The format is so simple for scalars that it could be
// easily swapped out if needed; only the serialization bridge and the settings model interpret
// values, the datastore treats them as opaque strings.
package datastore

import (
	"regexp"

	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

// BootTransaction is the transaction name reserved for configuration changes made during the
// first boot of the host; platform user-data providers write into it and the first-boot services
// commit it.
const BootTransaction = "basalt-boot"

// transactionRE validates transaction names. They become directory names under pending/, so they
// use the same character class as key segments.
var transactionRE = regexp.MustCompile("^[a-zA-Z0-9_-]+$")

// Committed selects whether an operation works on live (committed) data or on the pending data
// of a transaction. The zero value selects live data.
type Committed struct {
	tx string
}

// Live selects the authoritative committed data.
var Live = Committed{}

// Pending selects the uncommitted data of the transaction with the given name.
func Pending(tx string) (Committed, error) {
	if !transactionRE.MatchString(tx) {
		return Committed{}, typederrors.NewInvalidInputError(
			nil, "invalid transaction name %q, must match %q", tx, transactionRE,
		)
	}
	return Committed{tx: tx}, nil
}

// IsLive returns whether this selects the live data.
func (c Committed) IsLive() bool {
	return c.tx == ""
}

// Transaction returns the transaction name, or the empty string for live data.
func (c Committed) Transaction() string {
	return c.tx
}

func (c Committed) String() string {
	if c.IsLive() {
		return "live"
	}
	return "pending(" + c.tx + ")"
}

// DataStore is implemented by the key/value stores that back the settings API: the filesystem
// datastore in production and an in-memory datastore in tests.
type DataStore interface {
	// KeyPopulated returns whether a key has a value in the datastore.
	KeyPopulated(key Key, committed Committed) (bool, error)

	// ListPopulated returns the populated keys in the datastore whose names start with the
	// given prefix.
	ListPopulated(prefix string, committed Committed) (KeySet, error)

	// GetKey retrieves the value for a single data key. The second result reports whether the
	// key was populated.
	GetKey(key Key, committed Committed) (string, bool, error)

	// SetKey sets the value of a single data key.
	SetKey(key Key, value string, committed Committed) error

	// UnsetKey removes a single data key. Unsetting a key that isn't populated is not an
	// error.
	UnsetKey(key Key, committed Committed) error

	// GetMetadataRaw retrieves the value for a single metadata key attached to exactly the
	// given data key, without taking inheritance into account.
	GetMetadataRaw(metaKey, dataKey Key) (string, bool, error)

	// SetMetadata sets the value of a single metadata key. Metadata has no pending/live
	// split; writes are immediately visible.
	SetMetadata(metaKey, dataKey Key, value string) error

	// UnsetMetadata removes a single metadata key.
	UnsetMetadata(metaKey, dataKey Key) error

	// ListMetadata returns, for the given metadata key, every data key it is directly
	// attached to together with the stored value.
	ListMetadata(metaKey Key) (map[Key]string, error)

	// ListTransactions returns the names of the transactions that currently have pending
	// data.
	ListTransactions() ([]string, error)

	// CommitTransaction applies the pending changes of the given transaction to the live
	// data and returns the keys whose live value changed.
	CommitTransaction(tx string) (KeySet, error)

	// DeleteTransaction discards the pending changes of the given transaction.
	DeleteTransaction(tx string) error
}

// GetMetadata retrieves the value for a metadata key from the datastore, letting values inherit
// from earlier in the tree when more specific values are not found later. The walk is linear in
// the depth of the data key.
func GetMetadata(ds DataStore, metaKey, dataKey Key) (value string, found bool, err error) {
	for _, prefix := range dataKey.Prefixes() {
		candidate, ok, getErr := ds.GetMetadataRaw(metaKey, prefix)
		if getErr != nil {
			return "", false, getErr
		}
		if ok {
			value = candidate
			found = true
		}
	}
	return
}

// SetKeys sets multiple data keys at once.
func SetKeys(ds DataStore, pairs map[Key]string, committed Committed) error {
	for key, value := range pairs {
		if err := ds.SetKey(key, value, committed); err != nil {
			return err
		}
	}
	return nil
}
