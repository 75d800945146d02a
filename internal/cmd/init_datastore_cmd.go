/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package cmd

import (
	"log/slog"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/basalt-os/basalt/internal"
	"github.com/basalt-os/basalt/internal/exit"
	"github.com/basalt-os/basalt/internal/migration"
	"github.com/basalt-os/basalt/internal/osrelease"
	"github.com/basalt-os/basalt/internal/storeinit"
)

// InitDatastore creates and returns the `init-datastore` command.
func InitDatastore() *cobra.Command {
	c := NewInitDatastoreCommand()
	result := &cobra.Command{
		Use:   "init-datastore",
		Short: "Creates the datastore and populates the shipped defaults",
		Args:  cobra.NoArgs,
		RunE:  c.run,
	}
	flags := result.Flags()
	_ = flags.String(
		datastorePathFlagName,
		defaultDatastorePath,
		"Path of the 'current' datastore symlink.",
	)
	_ = flags.String(
		osReleaseFlagName,
		defaultOsReleasePath,
		"Path of the os-release file.",
	)
	return result
}

// InitDatastoreCommand contains the data and logic needed to run the `init-datastore` command.
type InitDatastoreCommand struct {
}

// NewInitDatastoreCommand creates a new runner that knows how to execute the `init-datastore`
// command.
func NewInitDatastoreCommand() *InitDatastoreCommand {
	return &InitDatastoreCommand{}
}

// run executes the `init-datastore` command.
func (c *InitDatastoreCommand) run(cmd *cobra.Command, argv []string) error {
	ctx := cmd.Context()
	logger := internal.LoggerFromContext(ctx)
	flags := cmd.Flags()

	datastorePath, err := flags.GetString(datastorePathFlagName)
	if err != nil {
		return exit.Error(exit.CodeUsage)
	}
	osReleasePath, err := flags.GetString(osReleaseFlagName)
	if err != nil {
		return exit.Error(exit.CodeUsage)
	}

	fs := afero.NewOsFs()
	release, err := osrelease.Load(fs, osReleasePath)
	if err != nil {
		logger.ErrorContext(
			ctx,
			"Failed to read os-release",
			slog.String("path", osReleasePath),
			slog.String("error", err.Error()),
		)
		return exit.Error(1)
	}
	version, err := release.Version()
	if err != nil {
		logger.ErrorContext(
			ctx,
			"Failed to parse release version",
			slog.String("error", err.Error()),
		)
		return exit.Error(1)
	}

	initializer, err := storeinit.NewInitializer().
		SetLogger(logger).
		SetFs(fs).
		SetDatastorePath(datastorePath).
		SetVersion(migration.VersionFromSemver(version)).
		Build()
	if err != nil {
		logger.ErrorContext(
			ctx,
			"Failed to create initializer",
			slog.String("error", err.Error()),
		)
		return exit.Error(1)
	}
	base, err := initializer.Run()
	if err != nil {
		logger.ErrorContext(
			ctx,
			"Failed to initialize datastore",
			slog.String("error", err.Error()),
		)
		return exit.Error(1)
	}
	logger.InfoContext(
		ctx,
		"Datastore is ready",
		slog.String("datastore", base),
	)
	return nil
}
