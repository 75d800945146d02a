/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package cmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/basalt-os/basalt/internal"
	"github.com/basalt-os/basalt/internal/apiclient"
	"github.com/basalt-os/basalt/internal/datastore"
	"github.com/basalt-os/basalt/internal/exit"
	"github.com/basalt-os/basalt/internal/network"
)

// API creates and returns the `api` command, the command line client for the settings API.
func API() *cobra.Command {
	result := &cobra.Command{
		Use:   "api",
		Short: "Talks to the settings API",
		Args:  cobra.NoArgs,
	}
	result.PersistentFlags().String(
		"socket-path",
		network.DefaultAPISocketPath,
		"Path of the API socket.",
	)
	result.AddCommand(apiRaw())
	result.AddCommand(apiSet())
	return result
}

// clientFromFlags builds an API client from the shared flags.
func clientFromFlags(cmd *cobra.Command) (*apiclient.Client, *slog.Logger, error) {
	logger := internal.LoggerFromContext(cmd.Context())
	socketPath, err := cmd.Flags().GetString("socket-path")
	if err != nil {
		return nil, logger, exit.Error(exit.CodeUsage)
	}
	client, err := apiclient.NewClient().
		SetLogger(logger).
		SetSocketPath(socketPath).
		Build()
	if err != nil {
		return nil, logger, err
	}
	return client, logger, nil
}

// apiRaw creates the `api raw` command: send one request and print the response body.
func apiRaw() *cobra.Command {
	result := &cobra.Command{
		Use:   "raw",
		Short: "Sends a raw request to the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, argv []string) error {
			ctx := cmd.Context()
			client, logger, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			uri, err := cmd.Flags().GetString("uri")
			if err != nil || uri == "" {
				return exit.Error(exit.CodeUsage)
			}
			method, err := cmd.Flags().GetString("method")
			if err != nil {
				return exit.Error(exit.CodeUsage)
			}
			data, err := cmd.Flags().GetString("data")
			if err != nil {
				return exit.Error(exit.CodeUsage)
			}
			var body *strings.Reader
			if data != "" {
				body = strings.NewReader(data)
			} else {
				body = strings.NewReader("")
			}
			status, response, err := client.Raw(ctx, method, uri, nil, body)
			if err != nil {
				logger.ErrorContext(
					ctx,
					"Request failed",
					slog.String("uri", uri),
					slog.String("error", err.Error()),
				)
				return exit.Error(1)
			}
			if len(response) > 0 {
				fmt.Println(strings.TrimRight(string(response), "\n"))
			}
			if status >= 300 {
				return exit.Error(1)
			}
			return nil
		},
	}
	flags := result.Flags()
	_ = flags.StringP("uri", "u", "", "Path to request, like '/settings'.")
	_ = flags.StringP("method", "m", http.MethodGet, "HTTP method to use.")
	_ = flags.StringP("data", "d", "", "Body to send with the request.")
	return result
}

// apiSet creates the `api set` command: stage dotted key=value assignments in a transaction,
// commit it and apply the changes, the common way operators change one or two settings.
func apiSet() *cobra.Command {
	result := &cobra.Command{
		Use:   "set key=value ...",
		Short: "Changes settings and applies them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			ctx := cmd.Context()
			client, logger, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			tx, err := cmd.Flags().GetString("transaction")
			if err != nil {
				return exit.Error(exit.CodeUsage)
			}

			document, err := documentFromAssignments(argv)
			if err != nil {
				logger.ErrorContext(
					ctx,
					"Invalid assignment",
					slog.String("error", err.Error()),
				)
				return exit.Error(exit.CodeUsage)
			}

			query := url.Values{}
			query.Set("tx", tx)
			err = client.PatchJSON(ctx, "/settings", query, map[string]any{
				"settings": document,
			})
			if err != nil {
				logger.ErrorContext(
					ctx,
					"Failed to stage settings",
					slog.String("error", err.Error()),
				)
				return exit.Error(1)
			}

			var changed []string
			err = client.Post(ctx, "/tx/commit_and_apply", query, &changed)
			if err != nil {
				logger.ErrorContext(
					ctx,
					"Failed to commit settings",
					slog.String("error", err.Error()),
				)
				return exit.Error(1)
			}
			logger.InfoContext(
				ctx,
				"Settings committed",
				slog.Any("changed", changed),
			)
			return nil
		},
	}
	_ = result.Flags().String(
		"transaction",
		"cli",
		"Transaction the assignments are staged in.",
	)
	return result
}

// documentFromAssignments turns "a.b.c=value" arguments into the nested settings document the
// API expects. Assignments are relative to the settings root, so "motd=hello" sets
// settings.motd. Values are sent as strings; richer types go through `api raw`.
func documentFromAssignments(assignments []string) (map[string]any, error) {
	document := map[string]any{}
	for _, assignment := range assignments {
		equals := strings.Index(assignment, "=")
		if equals <= 0 {
			return nil, fmt.Errorf("assignment %q is not of the form key=value", assignment)
		}
		name := assignment[:equals]
		value := assignment[equals+1:]
		key, err := datastore.NewKey(datastore.Data, name)
		if err != nil {
			return nil, err
		}
		tree := document
		segments := key.Segments()
		for _, segment := range segments[:len(segments)-1] {
			child, ok := tree[segment].(map[string]any)
			if !ok {
				child = map[string]any{}
				tree[segment] = child
			}
			tree = child
		}
		tree[segments[len(segments)-1]] = value
	}
	return document, nil
}
