/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

// Package apiclient is the HTTP client for the settings API socket. Every on-host tool that
// talks to the API server goes through this package, so request plumbing, error mapping and
// socket configuration live in one place.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/kelseyhightower/envconfig"

	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

// Env holds the client settings that can come from the environment, so that tools invoked by
// other tools don't need to thread the socket path through every call site.
type Env struct {
	SocketPath string `envconfig:"API_SOCKET" default:"/run/api.sock"`
}

// SocketPathFromEnv returns the socket path configured in the environment, or the default.
func SocketPathFromEnv() string {
	var env Env
	if err := envconfig.Process("basalt", &env); err != nil {
		return "/run/api.sock"
	}
	return env.SocketPath
}

// ClientBuilder contains the data and logic needed to create an API client. Don't create
// instances of this directly, use the NewClient function instead.
type ClientBuilder struct {
	logger     *slog.Logger
	socketPath string
}

// Client talks to the settings API over its Unix domain socket.
type Client struct {
	logger *slog.Logger
	http   *http.Client
}

// NewClient creates a builder that can then be used to configure and create an API client.
func NewClient() *ClientBuilder {
	return &ClientBuilder{
		socketPath: SocketPathFromEnv(),
	}
}

// SetLogger sets the logger that the client will use to write to the log. This is mandatory.
func (b *ClientBuilder) SetLogger(value *slog.Logger) *ClientBuilder {
	b.logger = value
	return b
}

// SetSocketPath sets the path of the API socket. The default comes from the BASALT_API_SOCKET
// environment variable, falling back to /run/api.sock.
func (b *ClientBuilder) SetSocketPath(value string) *ClientBuilder {
	if value != "" {
		b.socketPath = value
	}
	return b
}

// Build uses the data stored in the builder to create a new API client.
func (b *ClientBuilder) Build() (result *Client, err error) {
	// Check parameters:
	if b.logger == nil {
		err = errors.New("logger is mandatory")
		return
	}
	if b.socketPath == "" {
		err = errors.New("socket path is mandatory")
		return
	}

	// The host in request URLs is ignored; the transport always dials the socket.
	socketPath := b.socketPath
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			var dialer net.Dialer
			return dialer.DialContext(ctx, "unix", socketPath)
		},
	}

	// Create and populate the object:
	result = &Client{
		logger: b.logger,
		http: &http.Client{
			Transport: transport,
		},
	}
	return
}

// Raw sends a request and returns the status code and response body. The uri is the path
// portion, like "/settings"; the query may be nil.
func (c *Client) Raw(ctx context.Context, method, uri string, query url.Values, body io.Reader) (int, []byte, error) {
	requestURL := "http://localhost" + uri
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}
	request, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return 0, nil, fmt.Errorf("can't create %s request for %s: %w", method, uri, err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	response, err := c.http.Do(request)
	if err != nil {
		return 0, nil, fmt.Errorf("can't %s %s: %w", method, uri, err)
	}
	defer response.Body.Close()
	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("can't read response of %s %s: %w", method, uri, err)
	}
	c.logger.DebugContext(
		ctx,
		"API request",
		slog.String("method", method),
		slog.String("uri", uri),
		slog.Int("status", response.StatusCode),
	)
	return response.StatusCode, responseBody, nil
}

// check maps non-success responses to errors carrying the server's message.
func check(method, uri string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	message := strings.TrimSpace(string(body))
	err := fmt.Errorf("%s %s returned %d: %s", method, uri, status, message)
	switch status {
	case http.StatusNotFound:
		return typederrors.NewMissingResourceError(err, "%v", err)
	case http.StatusUnprocessableEntity:
		return typederrors.NewNoPendingError(err, "%v", err)
	case http.StatusBadRequest:
		return typederrors.NewInvalidInputError(err, "%v", err)
	case http.StatusConflict:
		return typederrors.NewConflictError(err, "%v", err)
	default:
		return err
	}
}

// GetJSON sends a GET request and deserializes the JSON response into dest.
func (c *Client) GetJSON(ctx context.Context, uri string, query url.Values, dest any) error {
	status, body, err := c.Raw(ctx, http.MethodGet, uri, query, nil)
	if err != nil {
		return err
	}
	if err := check(http.MethodGet, uri, status, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return typederrors.NewInputError(
			"can't deserialize response of GET %s: %v", uri, err,
		)
	}
	return nil
}

// Post sends a POST request with no body and optionally deserializes the response into dest,
// which may be nil when the caller doesn't care about the response.
func (c *Client) Post(ctx context.Context, uri string, query url.Values, dest any) error {
	status, body, err := c.Raw(ctx, http.MethodPost, uri, query, nil)
	if err != nil {
		return err
	}
	if err := check(http.MethodPost, uri, status, body); err != nil {
		return err
	}
	if dest != nil && len(body) > 0 {
		if err := json.Unmarshal(body, dest); err != nil {
			return typederrors.NewInputError(
				"can't deserialize response of POST %s: %v", uri, err,
			)
		}
	}
	return nil
}

// PatchJSON sends a PATCH request carrying the given value as a JSON body.
func (c *Client) PatchJSON(ctx context.Context, uri string, query url.Values, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("can't serialize body of PATCH %s: %w", uri, err)
	}
	status, body, err := c.Raw(ctx, http.MethodPatch, uri, query, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	return check(http.MethodPatch, uri, status, body)
}

// Delete sends a DELETE request.
func (c *Client) Delete(ctx context.Context, uri string, query url.Values) error {
	status, body, err := c.Raw(ctx, http.MethodDelete, uri, query, nil)
	if err != nil {
		return err
	}
	return check(http.MethodDelete, uri, status, body)
}
