/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/basalt-os/basalt/internal"
	"github.com/basalt-os/basalt/internal/bootslot"
	"github.com/basalt-os/basalt/internal/exit"
)

// Boot creates and returns the `boot` command with its subcommands for inspecting and mutating
// the A/B boot state.
func Boot() *cobra.Command {
	result := &cobra.Command{
		Use:   "boot",
		Short: "Manages the A/B boot partition state",
		Args:  cobra.NoArgs,
	}
	result.AddCommand(bootStatus())
	result.AddCommand(bootMutation(
		"mark-successful",
		"Marks the active partition set as successfully booted",
		func(state *bootslot.State) error {
			state.MarkSuccessfulBoot()
			return nil
		},
	))
	result.AddCommand(bootMutation(
		"clear-inactive",
		"Clears the boot state of the inactive partition set before writing new images",
		func(state *bootslot.State) error {
			state.ClearInactive()
			return nil
		},
	))
	result.AddCommand(bootMutation(
		"upgrade",
		"Marks the inactive partition set as a staged upgrade to try on next boot",
		func(state *bootslot.State) error {
			state.UpgradeToInactive()
			return nil
		},
	))
	result.AddCommand(bootMutation(
		"rollback",
		"Swaps boot priority back to the inactive partition set",
		func(state *bootslot.State) error {
			return state.RollbackToInactive()
		},
	))
	result.AddCommand(bootHasEverSucceeded())
	return result
}

// bootStatus creates the `boot status` command.
func bootStatus() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Prints the A/B boot state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, argv []string) error {
			ctx := cmd.Context()
			logger := internal.LoggerFromContext(ctx)
			state, err := bootslot.Load(logger)
			if err != nil {
				logger.ErrorContext(
					ctx,
					"Failed to load boot state",
					slog.String("error", err.Error()),
				)
				return exit.Error(1)
			}
			fmt.Println(state)
			return nil
		},
	}
}

// bootMutation creates a boot subcommand that loads the state, applies a change and writes the
// partition table back.
func bootMutation(use, short string, mutate func(*bootslot.State) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, argv []string) error {
			ctx := cmd.Context()
			logger := internal.LoggerFromContext(ctx)
			state, err := bootslot.Load(logger)
			if err != nil {
				logger.ErrorContext(
					ctx,
					"Failed to load boot state",
					slog.String("error", err.Error()),
				)
				return exit.Error(1)
			}
			if err := mutate(state); err != nil {
				logger.ErrorContext(
					ctx,
					"Boot state change is not allowed",
					slog.String("command", use),
					slog.String("error", err.Error()),
				)
				return exit.Error(1)
			}
			if err := state.Write(); err != nil {
				logger.ErrorContext(
					ctx,
					"Failed to write partition table",
					slog.String("error", err.Error()),
				)
				return exit.Error(1)
			}
			return nil
		},
	}
}

// bootHasEverSucceeded creates the `boot has-boot-ever-succeeded` command, used by first boot
// services to tell a fresh install from an upgrade.
func bootHasEverSucceeded() *cobra.Command {
	return &cobra.Command{
		Use:   "has-boot-ever-succeeded",
		Short: "Reports through the exit status whether any boot has ever succeeded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, argv []string) error {
			ctx := cmd.Context()
			logger := internal.LoggerFromContext(ctx)
			state, err := bootslot.Load(logger)
			if err != nil {
				logger.ErrorContext(
					ctx,
					"Failed to load boot state",
					slog.String("error", err.Error()),
				)
				return exit.Error(1)
			}
			if !state.HasBootEverSucceeded() {
				return exit.Error(1)
			}
			return nil
		},
	}
}
