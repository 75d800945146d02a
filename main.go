/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/basalt-os/basalt/internal"
	"github.com/basalt-os/basalt/internal/cmd"
	"github.com/basalt-os/basalt/internal/exit"
	"github.com/basalt-os/basalt/internal/logging"
)

func main() {
	// Create the root command:
	root := &cobra.Command{
		Use:           "basalt",
		Long:          "Settings and lifecycle tools of the Basalt host OS.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	logging.AddFlags(root.PersistentFlags())
	root.AddCommand(cmd.API())
	root.AddCommand(cmd.Start())
	root.AddCommand(cmd.InitDatastore())
	root.AddCommand(cmd.Migrate())
	root.AddCommand(cmd.ApplySettings())
	root.AddCommand(cmd.Boot())
	root.AddCommand(cmd.Version())

	// Create the logger from the shared flags and make it available to all commands through
	// the context:
	root.PersistentPreRunE = func(c *cobra.Command, argv []string) error {
		logger, err := logging.NewLogger().
			SetFlags(c.Flags()).
			Build()
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		c.SetContext(internal.LoggerIntoContext(c.Context(), logger))
		return nil
	}

	// Run the command. Runtime failures arrive as exit errors carrying their code; anything
	// else is an argument error and exits with the usage code.
	err := root.ExecuteContext(context.Background())
	if err == nil {
		return
	}
	var exitErr exit.Error
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code())
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(exit.CodeUsage)
}
