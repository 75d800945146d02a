/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

// RunnerBuilder contains the data and logic needed to create a migration runner. Don't create
// instances of this directly, use the NewRunner function instead.
type RunnerBuilder struct {
	logger        *slog.Logger
	datastorePath string
	migrationDir  string
	targetVersion Version
	haveTarget    bool
}

// Runner moves the datastore from its current version to a target version by executing the
// required migration binaries in order and then flipping the 'current' symlink to the final
// output directory. Any failure aborts the run, removes the partial output and leaves the live
// datastore untouched.
//
// The runner always gives each migration distinct source and target directories. The older
// interface where both pointed at the same directory required every migration to propagate
// removals by hand and is not supported.
type Runner struct {
	logger        *slog.Logger
	datastorePath string
	migrationDir  string
	targetVersion Version
}

// NewRunner creates a builder that can then be used to configure and create a runner.
func NewRunner() *RunnerBuilder {
	return &RunnerBuilder{}
}

// SetLogger sets the logger that the runner will use to write to the log. This is mandatory.
func (b *RunnerBuilder) SetLogger(value *slog.Logger) *RunnerBuilder {
	b.logger = value
	return b
}

// SetDatastorePath sets the path of the 'current' datastore symlink. This is mandatory.
func (b *RunnerBuilder) SetDatastorePath(value string) *RunnerBuilder {
	b.datastorePath = value
	return b
}

// SetMigrationDirectory sets the directory holding the verified migration binaries. This is
// mandatory. Verification against the trusted metadata root happens before the runner sees the
// directory; everything in it is trusted.
func (b *RunnerBuilder) SetMigrationDirectory(value string) *RunnerBuilder {
	b.migrationDir = value
	return b
}

// SetTargetVersion sets the datastore version to migrate to. This is mandatory.
func (b *RunnerBuilder) SetTargetVersion(value Version) *RunnerBuilder {
	b.targetVersion = value
	b.haveTarget = true
	return b
}

// Build uses the data stored in the builder to create a new runner.
func (b *RunnerBuilder) Build() (result *Runner, err error) {
	if b.logger == nil {
		err = errors.New("logger is mandatory")
		return
	}
	if b.datastorePath == "" {
		err = errors.New("datastore path is mandatory")
		return
	}
	if b.migrationDir == "" {
		err = errors.New("migration directory is mandatory")
		return
	}
	if !b.haveTarget {
		err = errors.New("target version is mandatory")
		return
	}
	result = &Runner{
		logger:        b.logger,
		datastorePath: b.datastorePath,
		migrationDir:  b.migrationDir,
		targetVersion: b.targetVersion,
	}
	return
}

// Run performs the migration. It returns the path of the datastore directory that is current
// when it finishes, which is unchanged when no migration was needed.
func (r *Runner) Run(ctx context.Context) (string, error) {
	// The 'current' symlink points at the versioned directory; its name tells us where we
	// are starting from.
	currentTarget, err := os.Readlink(r.datastorePath)
	if err != nil {
		return "", typederrors.NewMigrationError(
			err, "can't read datastore symlink %q: %v", r.datastorePath, err,
		)
	}
	parentDir := filepath.Dir(r.datastorePath)
	currentDir := currentTarget
	if !filepath.IsAbs(currentDir) {
		currentDir = filepath.Join(parentDir, currentDir)
	}
	currentVersion, _, err := VersionFromDirectoryName(filepath.Base(currentDir))
	if err != nil {
		return "", err
	}

	direction := DirectionFromVersions(currentVersion, r.targetVersion)
	if direction == NoMigration {
		r.logger.InfoContext(
			ctx,
			"Datastore is already at the target version",
			slog.String("version", currentVersion.String()),
		)
		return currentDir, nil
	}
	r.logger.InfoContext(
		ctx,
		"Starting migration",
		slog.String("from", currentVersion.String()),
		slog.String("to", r.targetVersion.String()),
		slog.String("direction", direction.String()),
	)

	binaries, err := FindBinaries(r.migrationDir)
	if err != nil {
		return "", typederrors.NewMigrationError(
			err, "can't list migrations in %q: %v", r.migrationDir, err,
		)
	}
	selected := Select(binaries, currentVersion, r.targetVersion)
	if len(selected) == 0 {
		r.logger.InfoContext(ctx, "No migrations to run, flipping to target version")
	}

	// Run each migration with the previous output as its input. Intermediate directories
	// are cleaned up as we go; on failure everything new is removed.
	source := currentDir
	var intermediates []string
	cleanup := func() {
		for _, dir := range intermediates {
			_ = os.RemoveAll(dir)
		}
	}
	for _, binary := range selected {
		target := filepath.Join(parentDir, r.newDatastoreName())
		err := r.runMigration(ctx, binary, direction, source, target)
		if err != nil {
			cleanup()
			return "", err
		}
		intermediates = append(intermediates, target)
		source = target
	}

	// The last output becomes the target datastore. When there were no migrations at all we
	// still create a fresh directory name so the symlink flip is meaningful.
	finalDir := source
	if finalDir == currentDir {
		finalDir = filepath.Join(parentDir, r.newDatastoreName())
		if err := copyTree(currentDir, finalDir); err != nil {
			cleanup()
			return "", typederrors.NewMigrationError(
				err, "can't copy datastore to %q: %v", finalDir, err,
			)
		}
		intermediates = append(intermediates, finalDir)
	}

	if err := r.flipSymlink(finalDir); err != nil {
		cleanup()
		return "", err
	}

	// The final directory is now live; only remove the intermediates before it.
	for _, dir := range intermediates {
		if dir != finalDir {
			_ = os.RemoveAll(dir)
		}
	}
	r.logger.InfoContext(
		ctx,
		"Migration finished",
		slog.String("datastore", finalDir),
	)
	return finalDir, nil
}

// newDatastoreName generates a directory name for the target version with a fresh id token.
func (r *Runner) newDatastoreName() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	return fmt.Sprintf("v%d.%d_%s", r.targetVersion.Major, r.targetVersion.Minor, id)
}

// runMigration executes one migration binary with distinct source and target datastores.
func (r *Runner) runMigration(ctx context.Context, binary Binary, direction Direction, source, target string) error {
	if source == target {
		return typederrors.NewMigrationError(
			nil, "migration source and target are both %q; shared paths are not supported",
			source,
		)
	}
	r.logger.InfoContext(
		ctx,
		"Running migration",
		slog.String("name", binary.Name),
		slog.String("version", binary.Version.String()),
		slog.String("direction", direction.String()),
	)
	cmd := exec.CommandContext(
		ctx,
		binary.Path,
		"--source-datastore", source,
		"--target-datastore", target,
		direction.String(),
	)
	output, err := cmd.CombinedOutput()
	if len(output) > 0 {
		r.logger.InfoContext(
			ctx,
			"Migration output",
			slog.String("name", binary.Name),
			slog.String("output", string(output)),
		)
	}
	if err != nil {
		_ = os.RemoveAll(target)
		return typederrors.NewMigrationError(
			err, "migration %q to %s failed: %v", binary.Name, binary.Version, err,
		)
	}
	return nil
}

// flipSymlink atomically points the 'current' symlink at the new directory: the replacement
// symlink is created under a temporary name and renamed over the old one, then the containing
// directory is synced so the flip survives a power loss.
func (r *Runner) flipSymlink(target string) error {
	tempLink := r.datastorePath + ".new"
	_ = os.Remove(tempLink)
	if err := os.Symlink(filepath.Base(target), tempLink); err != nil {
		return typederrors.NewMigrationError(err, "can't create symlink %q: %v", tempLink, err)
	}
	if err := os.Rename(tempLink, r.datastorePath); err != nil {
		_ = os.Remove(tempLink)
		return typederrors.NewMigrationError(
			err, "can't flip symlink %q: %v", r.datastorePath, err,
		)
	}
	if dir, err := os.Open(filepath.Dir(r.datastorePath)); err == nil {
		_ = dir.Sync()
		_ = dir.Close()
	}
	return nil
}

// copyTree copies a datastore directory recursively.
func copyTree(source, target string) error {
	return filepath.Walk(source, func(file string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(source, file)
		if err != nil {
			return err
		}
		dest := filepath.Join(target, rel)
		if info.IsDir() {
			return os.MkdirAll(dest, info.Mode())
		}
		content, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		return os.WriteFile(dest, content, info.Mode())
	})
}
