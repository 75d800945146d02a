/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

// Package migrate makes it as easy as possible to write a datastore migration binary.
// Migration authors implement the Migration interface and call Run from their main function;
// argument parsing, datastore access and the pending-transaction loop are taken care of here.
//
// Migrations must not assume any key will exist, because they run on pending transactions as
// well as live data. For the same reason they must not unconditionally add a key: that would
// leak the key into unrelated pending transactions. Add keys only inside structures that are
// already present.
package migrate

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/basalt-os/basalt/internal/datastore"
)

// Metadata maps metadata key names to arbitrary values for one data key.
type Metadata map[string]any

// MigrationData holds everything a migration can transform, and serves as both the input and
// the output of a migration. Generic values are used because the whole point of a migration is
// that types may change between versions.
type MigrationData struct {
	// Data maps data key names to their values.
	Data map[string]any
	// Metadata maps data key names to their metadata.
	Metadata map[string]Metadata
}

// Migration is implemented by each migration binary. Both directions are mandatory so that
// changes can be rolled back.
type Migration interface {
	// Forward migrates data from the prior version to the version in the migration's name.
	Forward(input MigrationData) (MigrationData, error)
	// Backward migrates data from the version in the migration's name to the prior version.
	Backward(input MigrationData) (MigrationData, error)
}

// Args holds the parsed command line of a migration binary.
type Args struct {
	SourceDatastore string
	TargetDatastore string
	Forward         bool
}

// ParseArgs parses the command line contract shared by all migration binaries:
// --source-datastore PATH --target-datastore PATH (--forward|--backward).
func ParseArgs(argv []string) (*Args, error) {
	flags := pflag.NewFlagSet("migration", pflag.ContinueOnError)
	source := flags.String("source-datastore", "", "Path of the datastore to read.")
	target := flags.String("target-datastore", "", "Path of the datastore to write.")
	forward := flags.Bool("forward", false, "Migrate forward to this migration's version.")
	backward := flags.Bool("backward", false, "Migrate backward from this migration's version.")
	if err := flags.Parse(argv); err != nil {
		return nil, err
	}
	if *source == "" || *target == "" {
		return nil, fmt.Errorf("--source-datastore and --target-datastore are required")
	}
	if *source == *target {
		return nil, fmt.Errorf("source and target datastore must be distinct directories")
	}
	if *forward == *backward {
		return nil, fmt.Errorf("exactly one of --forward and --backward is required")
	}
	return &Args{
		SourceDatastore: *source,
		TargetDatastore: *target,
		Forward:         *forward,
	}, nil
}

// Run is the entry point for migration binaries: it parses the command line, runs the
// migration over live data and every pending transaction, and exits non-zero on failure.
func Run(migration Migration) {
	args, err := ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := RunWith(migration, args, afero.NewOsFs()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// RunWith runs a migration with explicit arguments and filesystem, which is also the seam used
// by tests.
func RunWith(migration Migration, args *Args, fs afero.Fs) error {
	source := datastore.NewFilesystemDataStore(fs, args.SourceDatastore)
	target := datastore.NewFilesystemDataStore(fs, args.TargetDatastore)

	// Live data and each pending transaction go through the same transform.
	committeds := []datastore.Committed{datastore.Live}
	transactions, err := source.ListTransactions()
	if err != nil {
		return err
	}
	for _, tx := range transactions {
		committed, err := datastore.Pending(tx)
		if err != nil {
			return err
		}
		committeds = append(committeds, committed)
	}

	for _, committed := range committeds {
		input, err := readData(source, committed)
		if err != nil {
			return err
		}
		var output MigrationData
		if args.Forward {
			output, err = migration.Forward(input)
		} else {
			output, err = migration.Backward(input)
		}
		if err != nil {
			return fmt.Errorf("migration failed for %s: %w", committed, err)
		}
		if err := writeData(target, committed, output); err != nil {
			return err
		}
	}
	return nil
}

// readData loads the data and metadata of one committed state into migration form.
func readData(source *datastore.FilesystemDataStore, committed datastore.Committed) (MigrationData, error) {
	result := MigrationData{
		Data:     map[string]any{},
		Metadata: map[string]Metadata{},
	}
	keys, err := source.ListPopulated("", committed)
	if err != nil {
		return result, err
	}
	for key := range keys {
		raw, _, err := source.GetKey(key, committed)
		if err != nil {
			return result, err
		}
		value, err := datastore.ScalarValue(raw)
		if err != nil {
			return result, err
		}
		result.Data[key.Name()] = value
	}

	// Metadata has no pending/live split, so it only rides along with live data.
	if committed.IsLive() {
		entries, err := source.ListAllMetadata()
		if err != nil {
			return result, err
		}
		for dataKey, metadata := range entries {
			for metaKey, raw := range metadata {
				value, err := datastore.ScalarValue(raw)
				if err != nil {
					return result, err
				}
				if result.Metadata[dataKey.Name()] == nil {
					result.Metadata[dataKey.Name()] = Metadata{}
				}
				result.Metadata[dataKey.Name()][metaKey.Name()] = value
			}
		}
	}
	return result, nil
}

// writeData stores migration output into the target datastore. The target starts empty, so a
// key missing from the output map is simply never created; removals propagate naturally.
func writeData(target *datastore.FilesystemDataStore, committed datastore.Committed, data MigrationData) error {
	for name, value := range data.Data {
		key, err := datastore.NewKey(datastore.Data, name)
		if err != nil {
			return err
		}
		raw, err := datastore.SerializeScalar(value)
		if err != nil {
			return err
		}
		if err := target.SetKey(key, raw, committed); err != nil {
			return err
		}
	}
	if committed.IsLive() {
		for name, metadata := range data.Metadata {
			dataKey, err := datastore.NewKey(datastore.Data, name)
			if err != nil {
				return err
			}
			for metaName, value := range metadata {
				metaKey, err := datastore.NewKey(datastore.Meta, metaName)
				if err != nil {
					return err
				}
				raw, err := datastore.SerializeScalar(value)
				if err != nil {
					return err
				}
				if err := target.SetMetadata(metaKey, dataKey, raw); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
