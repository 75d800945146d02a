/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package cmd

import (
	"github.com/spf13/cobra"
)

// Start creates and returns the `start` command.
func Start() *cobra.Command {
	result := &cobra.Command{
		Use:   "start",
		Short: "Starts components",
		Args:  cobra.NoArgs,
	}
	result.AddCommand(APIServer())
	return result
}

// Names of flags shared by several commands:
const (
	datastorePathFlagName = "datastore-path"
	osReleaseFlagName     = "os-release-path"
)

// Default paths:
const (
	defaultDatastorePath = "/var/lib/basalt/datastore/current"
	defaultOsReleasePath = "/etc/os-release"
)
