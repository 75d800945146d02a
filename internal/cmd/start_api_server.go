/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package cmd

import (
	"log/slog"
	"net/http"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/basalt-os/basalt/internal"
	"github.com/basalt-os/basalt/internal/datastore"
	"github.com/basalt-os/basalt/internal/exit"
	"github.com/basalt-os/basalt/internal/metrics"
	"github.com/basalt-os/basalt/internal/network"
	"github.com/basalt-os/basalt/internal/osrelease"
	"github.com/basalt-os/basalt/internal/server"
	"github.com/basalt-os/basalt/internal/updates"
)

// APIServer creates and returns the `start api-server` command.
func APIServer() *cobra.Command {
	c := NewAPIServerCommand()
	result := &cobra.Command{
		Use:   "api-server",
		Short: "Starts the settings API server",
		Args:  cobra.NoArgs,
		RunE:  c.run,
	}
	flags := result.Flags()
	network.AddListenerFlags(flags, network.APIListener, network.DefaultAPISocketPath)
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
	_ = flags.String(
		"exec-socket-path",
		"",
		"Unix socket of the container exec backend. When empty the /exec endpoint is "+
			"disabled.",
	)
	_ = flags.String(
		"updater-binary",
		updates.DefaultBinaryPath,
		"Path of the updater binary dispatched for update actions.",
	)
	_ = flags.StringSlice(
		"applier-command",
		[]string{"/usr/bin/basalt", "apply-settings"},
		"Command executed to apply committed settings changes.",
	)
	return result
}

// APIServerCommand contains the data and logic needed to run the `start api-server` command.
type APIServerCommand struct {
	logger *slog.Logger
}

// NewAPIServerCommand creates a new runner that knows how to execute the `start api-server`
// command.
func NewAPIServerCommand() *APIServerCommand {
	return &APIServerCommand{}
}

// run executes the `start api-server` command.
func (c *APIServerCommand) run(cmd *cobra.Command, argv []string) error {
	// Get the context:
	ctx := cmd.Context()

	// Get the dependencies from the context:
	c.logger = internal.LoggerFromContext(ctx)

	// Get the flags:
	flags := cmd.Flags()
	datastorePath, err := flags.GetString(datastorePathFlagName)
	if err != nil {
		return exit.Error(exit.CodeUsage)
	}
	osReleasePath, err := flags.GetString(osReleaseFlagName)
	if err != nil {
		return exit.Error(exit.CodeUsage)
	}
	execSocketPath, err := flags.GetString("exec-socket-path")
	if err != nil {
		return exit.Error(exit.CodeUsage)
	}
	updaterBinary, err := flags.GetString("updater-binary")
	if err != nil {
		return exit.Error(exit.CodeUsage)
	}
	applierCommand, err := flags.GetStringSlice("applier-command")
	if err != nil {
		return exit.Error(exit.CodeUsage)
	}

	// Create the exit handler:
	exitHandler, err := exit.NewHandler().
		SetLogger(c.logger).
		Build()
	if err != nil {
		c.logger.ErrorContext(
			ctx,
			"Failed to create exit handler",
			slog.String("error", err.Error()),
		)
		return exit.Error(1)
	}

	fs := afero.NewOsFs()

	// Read the release identity:
	release, err := osrelease.Load(fs, osReleasePath)
	if err != nil {
		c.logger.ErrorContext(
			ctx,
			"Failed to read os-release",
			slog.String("path", osReleasePath),
			slog.String("error", err.Error()),
		)
		return exit.Error(1)
	}

	// Create the update dispatcher:
	dispatcher, err := updates.NewDispatcher().
		SetLogger(c.logger).
		SetFs(fs).
		SetBinaryPath(updaterBinary).
		Build()
	if err != nil {
		c.logger.ErrorContext(
			ctx,
			"Failed to create update dispatcher",
			slog.String("error", err.Error()),
		)
		return exit.Error(1)
	}

	// Create the API server over the datastore:
	ds := datastore.NewFilesystemDataStore(fs, datastorePath)
	apiServer, err := server.NewServer().
		SetLogger(c.logger).
		SetDataStore(ds).
		SetRelease(release).
		SetUpdateDispatcher(dispatcher).
		SetApplierCommand(applierCommand...).
		SetExecBackendPath(execSocketPath).
		AddReportTool("cis", "/usr/bin/bloodhound").
		Build()
	if err != nil {
		c.logger.ErrorContext(
			ctx,
			"Failed to create server",
			slog.String("error", err.Error()),
		)
		return exit.Error(1)
	}

	// Create the metrics wrapper:
	metricsWrapper, err := metrics.NewHandlerWrapper().
		AddPaths(
			"/",
			"/settings",
			"/tx",
			"/tx/list",
			"/tx/commit",
			"/tx/apply",
			"/tx/commit_and_apply",
			"/metadata/-",
			"/services",
			"/configuration-files",
			"/os",
			"/updates/status",
			"/actions/-",
			"/report/-",
			"/exec",
			"/openapi",
		).
		SetSubsystem("inbound").
		Build()
	if err != nil {
		c.logger.ErrorContext(
			ctx,
			"Failed to create metrics wrapper",
			slog.String("error", err.Error()),
		)
		return exit.Error(1)
	}

	// The metrics endpoint sits next to the API on the same socket:
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", metricsWrapper(apiServer))

	// Bind the API socket:
	listener, err := network.NewListener().
		SetLogger(c.logger).
		SetFlags(flags, network.APIListener).
		Build()
	if err != nil {
		c.logger.ErrorContext(
			ctx,
			"Failed to create listener",
			slog.String("error", err.Error()),
		)
		return exit.Error(1)
	}

	httpServer := &http.Server{
		Addr:    listener.Addr().String(),
		Handler: mux,
	}
	exitHandler.AddServer(httpServer)
	go func() {
		err := httpServer.Serve(listener)
		if err != nil && err != http.ErrServerClosed {
			c.logger.ErrorContext(
				ctx,
				"Server finished with error",
				slog.String("error", err.Error()),
			)
		}
	}()

	// Tell the init system we are ready to serve:
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		c.logger.WarnContext(
			ctx,
			"Failed to notify readiness",
			slog.String("error", err.Error()),
		)
	}

	// Wait for exit signals:
	return exitHandler.Wait(ctx)
}
