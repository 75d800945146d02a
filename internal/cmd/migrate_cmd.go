/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package cmd

import (
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/basalt-os/basalt/internal"
	"github.com/basalt-os/basalt/internal/exit"
	"github.com/basalt-os/basalt/internal/migration"
	"github.com/basalt-os/basalt/internal/osrelease"
)

// Migrate creates and returns the `migrate` command.
func Migrate() *cobra.Command {
	c := NewMigrateCommand()
	result := &cobra.Command{
		Use:   "migrate",
		Short: "Migrates the datastore to another version",
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
		"migration-directory",
		"/var/lib/basalt/migrations",
		"Directory holding the verified migration binaries.",
	)
	_ = flags.String(
		"root-path",
		"/",
		"Root of the filesystem of the image being migrated to.",
	)
	_ = flags.String(
		"metadata-directory",
		"/var/cache/basalt/metadata",
		"Directory holding the trusted repository metadata that the migration "+
			"binaries were verified against.",
	)
	_ = flags.String(
		"migrate-to-version",
		"",
		"Version to migrate the datastore to, like '1.2'.",
	)
	_ = flags.Bool(
		"migrate-to-version-from-os-release",
		false,
		"Take the target version from the os-release file under the root path.",
	)
	return result
}

// MigrateCommand contains the data and logic needed to run the `migrate` command.
type MigrateCommand struct {
}

// NewMigrateCommand creates a new runner that knows how to execute the `migrate` command.
func NewMigrateCommand() *MigrateCommand {
	return &MigrateCommand{}
}

// run executes the `migrate` command.
func (c *MigrateCommand) run(cmd *cobra.Command, argv []string) error {
	ctx := cmd.Context()
	logger := internal.LoggerFromContext(ctx)
	flags := cmd.Flags()

	datastorePath, err := flags.GetString(datastorePathFlagName)
	if err != nil {
		return exit.Error(exit.CodeUsage)
	}
	migrationDir, err := flags.GetString("migration-directory")
	if err != nil {
		return exit.Error(exit.CodeUsage)
	}
	rootPath, err := flags.GetString("root-path")
	if err != nil {
		return exit.Error(exit.CodeUsage)
	}
	versionFlag, err := flags.GetString("migrate-to-version")
	if err != nil {
		return exit.Error(exit.CodeUsage)
	}
	fromOsRelease, err := flags.GetBool("migrate-to-version-from-os-release")
	if err != nil {
		return exit.Error(exit.CodeUsage)
	}
	if (versionFlag != "") == fromOsRelease {
		logger.ErrorContext(
			ctx,
			"Exactly one of --migrate-to-version and "+
				"--migrate-to-version-from-os-release is required",
		)
		return exit.Error(exit.CodeUsage)
	}

	var target migration.Version
	if versionFlag != "" {
		target, err = migration.ParseVersion(versionFlag)
		if err != nil {
			logger.ErrorContext(
				ctx,
				"Failed to parse target version",
				slog.String("version", versionFlag),
				slog.String("error", err.Error()),
			)
			return exit.Error(exit.CodeUsage)
		}
	} else {
		release, err := osrelease.Load(
			afero.NewOsFs(), filepath.Join(rootPath, "etc", "os-release"),
		)
		if err != nil {
			logger.ErrorContext(
				ctx,
				"Failed to read os-release under root path",
				slog.String("root", rootPath),
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
		target = migration.VersionFromSemver(version)
	}

	runner, err := migration.NewRunner().
		SetLogger(logger).
		SetDatastorePath(datastorePath).
		SetMigrationDirectory(migrationDir).
		SetTargetVersion(target).
		Build()
	if err != nil {
		logger.ErrorContext(
			ctx,
			"Failed to create migration runner",
			slog.String("error", err.Error()),
		)
		return exit.Error(1)
	}
	finalDir, err := runner.Run(ctx)
	if err != nil {
		logger.ErrorContext(
			ctx,
			"Migration failed",
			slog.String("error", err.Error()),
		)
		return exit.Error(1)
	}
	logger.InfoContext(
		ctx,
		"Datastore is at the target version",
		slog.String("version", target.String()),
		slog.String("datastore", finalDir),
	)
	return nil
}
