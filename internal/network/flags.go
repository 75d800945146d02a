/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package network

import (
	"fmt"

	"github.com/spf13/pflag"
)

// AddListenerFlags adds to the given flag set the flags needed to configure the socket
// listener with the given name. The primary API listener uses the bare flag names
// '--socket-path' and '--socket-gid'; named listeners get the name as a prefix, so a listener
// named 'exec' is configured with '--exec-socket-path'.
func AddListenerFlags(set *pflag.FlagSet, name, defaultPath string) {
	label := name
	if label == "" {
		label = "API"
	}
	_ = set.String(
		listenerFlagName(name, listenerPathFlagSuffix),
		defaultPath,
		fmt.Sprintf("Path of the %s Unix domain socket.", label),
	)
	_ = set.Int(
		listenerFlagName(name, listenerGroupFlagSuffix),
		-1,
		fmt.Sprintf(
			"Group identifier that will own the %s socket. A negative value leaves "+
				"the group unchanged.",
			label,
		),
	)
}

func listenerFlagName(name, suffix string) string {
	if name == "" {
		return suffix
	}
	return fmt.Sprintf("%s-%s", name, suffix)
}

// Suffixes of the listener flags:
const (
	listenerPathFlagSuffix  = "socket-path"
	listenerGroupFlagSuffix = "socket-gid"
)
