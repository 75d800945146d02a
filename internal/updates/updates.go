/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

// Package updates wraps the external updater binary. The API server doesn't download or verify
// images itself; it dispatches commands to the updater and reports the status document the
// updater maintains.
package updates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/spf13/afero"

	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

// Defaults for the updater contract.
const (
	DefaultBinaryPath = "/usr/bin/basalt-updater"
	DefaultStatusPath = "/run/cache/basalt/update-status.json"
)

// Commands accepted by the updater binary.
const (
	CommandRefresh    = "refresh-update"
	CommandPrepare    = "prepare-update"
	CommandActivate   = "activate-update"
	CommandDeactivate = "deactivate-update"
)

// UpdateImage identifies one update image in the repository.
type UpdateImage struct {
	Arch    string `json:"arch"`
	Version string `json:"version"`
	Variant string `json:"variant"`
}

// StagedImage describes an image written to a partition set.
type StagedImage struct {
	Image      *UpdateImage `json:"image"`
	NextToBoot bool         `json:"next_to_boot"`
}

// CommandStatus records the outcome of the most recent updater command.
type CommandStatus struct {
	CmdType    string  `json:"cmd_type"`
	CmdStatus  string  `json:"cmd_status"`
	Timestamp  string  `json:"timestamp"`
	ExitStatus *int32  `json:"exit_status"`
	Stderr     *string `json:"stderr"`
}

// UpdateStatus is the structured status document served under /updates/status.
type UpdateStatus struct {
	UpdateState       string         `json:"update_state"`
	AvailableUpdates  []string       `json:"available_updates"`
	ChosenUpdate      *UpdateImage   `json:"chosen_update"`
	ActivePartition   *StagedImage   `json:"active_partition"`
	StagingPartition  *StagedImage   `json:"staging_partition"`
	MostRecentCommand *CommandStatus `json:"most_recent_command"`
}

// DispatcherBuilder contains the data and logic needed to create an update dispatcher. Don't
// create instances of this directly, use the NewDispatcher function instead.
type DispatcherBuilder struct {
	logger     *slog.Logger
	fs         afero.Fs
	binaryPath string
	statusPath string
}

// Dispatcher runs updater commands and reads the updater's status document.
type Dispatcher struct {
	logger     *slog.Logger
	fs         afero.Fs
	binaryPath string
	statusPath string
}

// NewDispatcher creates a builder that can then be used to configure and create a dispatcher.
func NewDispatcher() *DispatcherBuilder {
	return &DispatcherBuilder{
		binaryPath: DefaultBinaryPath,
		statusPath: DefaultStatusPath,
	}
}

// SetLogger sets the logger that the dispatcher will use to write to the log. This is mandatory.
func (b *DispatcherBuilder) SetLogger(value *slog.Logger) *DispatcherBuilder {
	b.logger = value
	return b
}

// SetFs sets the filesystem the status document is read from. This is mandatory.
func (b *DispatcherBuilder) SetFs(value afero.Fs) *DispatcherBuilder {
	b.fs = value
	return b
}

// SetBinaryPath sets the path of the updater binary.
func (b *DispatcherBuilder) SetBinaryPath(value string) *DispatcherBuilder {
	if value != "" {
		b.binaryPath = value
	}
	return b
}

// SetStatusPath sets the path of the updater's status document.
func (b *DispatcherBuilder) SetStatusPath(value string) *DispatcherBuilder {
	if value != "" {
		b.statusPath = value
	}
	return b
}

// Build uses the data stored in the builder to create a new dispatcher.
func (b *DispatcherBuilder) Build() (result *Dispatcher, err error) {
	if b.logger == nil {
		err = errors.New("logger is mandatory")
		return
	}
	if b.fs == nil {
		err = errors.New("filesystem is mandatory")
		return
	}
	result = &Dispatcher{
		logger:     b.logger,
		fs:         b.fs,
		binaryPath: b.binaryPath,
		statusPath: b.statusPath,
	}
	return
}

// Status reads the updater's status document. A missing document means no update operation has
// run since boot.
func (d *Dispatcher) Status() (*UpdateStatus, error) {
	content, err := afero.ReadFile(d.fs, d.statusPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, typederrors.NewMissingResourceError(nil, "no update status available")
		}
		return nil, typederrors.NewDatastoreIOError(err, "can't read %q: %v", d.statusPath, err)
	}
	status := &UpdateStatus{}
	if err := json.Unmarshal(content, status); err != nil {
		return nil, typederrors.NewInvalidInputError(
			err, "can't parse update status %q: %v", d.statusPath, err,
		)
	}
	return status, nil
}

// Dispatch runs the updater with the given command. The updater's output goes to the log; a
// non-zero exit becomes an error carrying the captured stderr.
func (d *Dispatcher) Dispatch(ctx context.Context, command string) error {
	cmd := exec.CommandContext(ctx, d.binaryPath, command)
	output, err := cmd.CombinedOutput()
	d.logger.InfoContext(
		ctx,
		"Ran updater command",
		slog.String("binary", d.binaryPath),
		slog.String("command", command),
		slog.String("output", string(output)),
	)
	if err != nil {
		return fmt.Errorf("updater command %q failed: %w: %s", command, err, output)
	}
	return nil
}
