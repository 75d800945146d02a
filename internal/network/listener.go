/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package network

import (
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"os"

	"github.com/spf13/pflag"
)

// ListenerBuilder contains the data and logic needed to create a Unix domain socket listener.
// Don't create instances of this object directly, use the NewListener function instead.
type ListenerBuilder struct {
	logger *slog.Logger
	path   string
	group  int
	mode   fs.FileMode
}

// NewListener creates a builder that can then be used to configure and create a listener for one
// of the local API sockets. The socket file is owned by the current user, optionally chgrp'd to
// the configured group, and group writable by default so that members of the API group can talk
// to the server without being root.
func NewListener() *ListenerBuilder {
	return &ListenerBuilder{
		group: -1,
		mode:  0o660,
	}
}

// SetLogger sets the logger that the listener will use to send messages to the log. This is
// mandatory.
func (b *ListenerBuilder) SetLogger(value *slog.Logger) *ListenerBuilder {
	b.logger = value
	return b
}

// SetPath sets the filesystem path of the socket. This is mandatory.
func (b *ListenerBuilder) SetPath(value string) *ListenerBuilder {
	b.path = value
	return b
}

// SetGroup sets the group identifier that will own the socket file. This is optional, and when
// negative the group is left as created by the kernel.
func (b *ListenerBuilder) SetGroup(value int) *ListenerBuilder {
	b.group = value
	return b
}

// SetMode sets the permission bits of the socket file. The default is 0660.
func (b *ListenerBuilder) SetMode(value fs.FileMode) *ListenerBuilder {
	b.mode = value
	return b
}

// SetFlags sets the command line flags that should be used to configure the listener. The name is
// used to select the options when there are multiple listeners. For example, if it is 'api' then
// it will only take into account the flags starting with '--api'. This is optional.
func (b *ListenerBuilder) SetFlags(flags *pflag.FlagSet, name string) *ListenerBuilder {
	if flags == nil {
		return b
	}

	path, err := flags.GetString(listenerFlagName(name, listenerPathFlagSuffix))
	if err == nil && path != "" {
		b.SetPath(path)
	}
	group, err := flags.GetInt(listenerFlagName(name, listenerGroupFlagSuffix))
	if err == nil {
		b.SetGroup(group)
	}

	return b
}

// Build uses the data stored in the builder to create a new listener.
func (b *ListenerBuilder) Build() (result net.Listener, err error) {
	// Check parameters:
	if b.logger == nil {
		err = errors.New("logger is mandatory")
		return
	}
	if b.path == "" {
		err = errors.New("socket path is mandatory")
		return
	}

	// A socket left behind by a previous run would make the bind fail, so remove it. A regular
	// file at the same path is suspicious and we refuse to clobber it.
	info, err := os.Lstat(b.path)
	if err == nil {
		if info.Mode()&fs.ModeSocket == 0 {
			err = errors.New("refusing to replace non-socket file " + b.path)
			return
		}
		err = os.Remove(b.path)
		if err != nil {
			return
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return
	}

	// Create the listener:
	listener, err := net.Listen("unix", b.path)
	if err != nil {
		return
	}

	// Fix up ownership and permissions before handing the listener out, so that no client can
	// connect through a window where the socket is more permissive than configured.
	if b.group >= 0 {
		err = os.Chown(b.path, -1, b.group)
		if err != nil {
			listener.Close()
			return
		}
	}
	err = os.Chmod(b.path, b.mode)
	if err != nil {
		listener.Close()
		return
	}

	b.logger.Info(
		"Listening on API socket",
		slog.String("path", b.path),
		slog.Int("group", b.group),
		slog.String("mode", b.mode.String()),
	)
	result = listener

	return
}

// Common listener names. The primary API listener has no prefix so its flags are the bare
// '--socket-path' and '--socket-gid'.
const (
	APIListener  = ""
	ExecListener = "exec"
)

// Default socket paths:
const (
	DefaultAPISocketPath  = "/run/api.sock"
	DefaultExecSocketPath = "/run/exec.sock"
)
