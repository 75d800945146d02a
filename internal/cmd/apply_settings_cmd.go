/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package cmd

import (
	"bufio"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/basalt-os/basalt/internal"
	"github.com/basalt-os/basalt/internal/apiclient"
	"github.com/basalt-os/basalt/internal/applier"
	"github.com/basalt-os/basalt/internal/exit"
	"github.com/basalt-os/basalt/internal/network"
)

// ApplySettings creates and returns the `apply-settings` command.
func ApplySettings() *cobra.Command {
	c := NewApplySettingsCommand()
	result := &cobra.Command{
		Use:   "apply-settings",
		Short: "Renders configuration files and restarts affected services",
		Long: "Renders configuration files and restarts affected services. With --all, " +
			"every configuration file is written and every service restarted. " +
			"Otherwise changed settings keys are read from standard input, one per " +
			"line, and only what they affect is touched.",
		Args: cobra.NoArgs,
		RunE: c.run,
	}
	flags := result.Flags()
	_ = flags.Bool(
		"all",
		false,
		"Apply all configuration files and services instead of reading changed keys "+
			"from standard input.",
	)
	_ = flags.String(
		"socket-path",
		network.DefaultAPISocketPath,
		"Path of the API socket.",
	)
	return result
}

// ApplySettingsCommand contains the data and logic needed to run the `apply-settings` command.
type ApplySettingsCommand struct {
}

// NewApplySettingsCommand creates a new runner that knows how to execute the `apply-settings`
// command.
func NewApplySettingsCommand() *ApplySettingsCommand {
	return &ApplySettingsCommand{}
}

// run executes the `apply-settings` command.
func (c *ApplySettingsCommand) run(cmd *cobra.Command, argv []string) error {
	ctx := cmd.Context()
	logger := internal.LoggerFromContext(ctx)
	flags := cmd.Flags()

	all, err := flags.GetBool("all")
	if err != nil {
		return exit.Error(exit.CodeUsage)
	}
	socketPath, err := flags.GetString("socket-path")
	if err != nil {
		return exit.Error(exit.CodeUsage)
	}

	client, err := apiclient.NewClient().
		SetLogger(logger).
		SetSocketPath(socketPath).
		Build()
	if err != nil {
		logger.ErrorContext(
			ctx,
			"Failed to create API client",
			slog.String("error", err.Error()),
		)
		return exit.Error(1)
	}
	instance, err := applier.NewApplier().
		SetLogger(logger).
		SetClient(client).
		SetFs(afero.NewOsFs()).
		Build()
	if err != nil {
		logger.ErrorContext(
			ctx,
			"Failed to create applier",
			slog.String("error", err.Error()),
		)
		return exit.Error(1)
	}

	if all {
		err = instance.ApplyAll(ctx)
	} else {
		changed, readErr := readChangedKeys(os.Stdin)
		if readErr != nil {
			logger.ErrorContext(
				ctx,
				"Failed to read changed keys from standard input",
				slog.String("error", readErr.Error()),
			)
			return exit.Error(1)
		}
		err = instance.ApplyKeys(ctx, changed)
	}
	if err != nil {
		logger.ErrorContext(
			ctx,
			"Failed to apply settings",
			slog.String("error", err.Error()),
		)
		return exit.Error(1)
	}
	return nil
}

// readChangedKeys reads the newline separated changed keys, skipping blank lines.
func readChangedKeys(input *os.File) ([]string, error) {
	var result []string
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			result = append(result, line)
		}
	}
	return result, scanner.Err()
}
