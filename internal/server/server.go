/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

// Package server implements the settings API served on the host's Unix domain socket: settings
// reads and writes, transactions, metadata queries, the service and configuration file tables,
// release identity, update actions, report tools and the exec channel.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/basalt-os/basalt/internal/datastore"
	"github.com/basalt-os/basalt/internal/osrelease"
	"github.com/basalt-os/basalt/internal/updates"
)

// The transaction used when a write doesn't name one.
const DefaultTransaction = "default"

// ServerBuilder contains the data and logic needed to create a server. Don't create instances
// of this directly, use the NewServer function instead.
type ServerBuilder struct {
	logger          *slog.Logger
	ds              datastore.DataStore
	release         *osrelease.Release
	dispatcher      *updates.Dispatcher
	applierCommand  []string
	rebootCommand   []string
	reportTools     map[string][]string
	execBackendPath string
}

// Server routes API requests to the datastore and its collaborators. A single reader/writer
// lock protects the datastore: reads take the reader side, writes and commits the writer side,
// so a commit is observed by every reader as one transition.
type Server struct {
	logger          *slog.Logger
	lock            sync.RWMutex
	ds              datastore.DataStore
	release         *osrelease.Release
	dispatcher      *updates.Dispatcher
	applierCommand  []string
	rebootCommand   []string
	reportTools     map[string][]string
	execBackendPath string
	router          *mux.Router
}

// NewServer creates a builder that can then be used to configure and create a server.
func NewServer() *ServerBuilder {
	return &ServerBuilder{
		rebootCommand: []string{"shutdown", "-r", "now"},
	}
}

// SetLogger sets the logger that the server will use to write to the log. This is mandatory.
func (b *ServerBuilder) SetLogger(value *slog.Logger) *ServerBuilder {
	b.logger = value
	return b
}

// SetDataStore sets the datastore that requests are served from. This is mandatory.
func (b *ServerBuilder) SetDataStore(value datastore.DataStore) *ServerBuilder {
	b.ds = value
	return b
}

// SetRelease sets the release identity served under /os. This is mandatory.
func (b *ServerBuilder) SetRelease(value *osrelease.Release) *ServerBuilder {
	b.release = value
	return b
}

// SetUpdateDispatcher sets the dispatcher for update actions. This is optional; without it the
// update endpoints respond with an error.
func (b *ServerBuilder) SetUpdateDispatcher(value *updates.Dispatcher) *ServerBuilder {
	b.dispatcher = value
	return b
}

// SetApplierCommand sets the command executed to apply settings changes. The changed keys are
// written to its standard input, one per line; with no arguments appended the command applies
// everything. This is optional; without it apply requests only commit.
func (b *ServerBuilder) SetApplierCommand(value ...string) *ServerBuilder {
	b.applierCommand = value
	return b
}

// SetRebootCommand sets the command executed for POST /actions/reboot.
func (b *ServerBuilder) SetRebootCommand(value ...string) *ServerBuilder {
	if len(value) > 0 {
		b.rebootCommand = value
	}
	return b
}

// AddReportTool registers a compliance report tool under the given name, reachable as
// GET /report/{name}.
func (b *ServerBuilder) AddReportTool(name string, argv ...string) *ServerBuilder {
	if b.reportTools == nil {
		b.reportTools = map[string][]string{}
	}
	b.reportTools[name] = argv
	return b
}

// SetExecBackendPath sets the Unix socket of the container exec backend that /exec channels are
// forwarded to. This is optional; without it /exec responds with an error.
func (b *ServerBuilder) SetExecBackendPath(value string) *ServerBuilder {
	b.execBackendPath = value
	return b
}

// Build uses the data stored in the builder to create a new server.
func (b *ServerBuilder) Build() (result *Server, err error) {
	// Check parameters:
	if b.logger == nil {
		err = errors.New("logger is mandatory")
		return
	}
	if b.ds == nil {
		err = errors.New("datastore is mandatory")
		return
	}
	if b.release == nil {
		err = errors.New("release is mandatory")
		return
	}

	// Check the embedded API description before serving it:
	err = ValidateOpenAPI()
	if err != nil {
		return
	}

	// Create and populate the object:
	result = &Server{
		logger:          b.logger,
		ds:              b.ds,
		release:         b.release,
		dispatcher:      b.dispatcher,
		applierCommand:  b.applierCommand,
		rebootCommand:   b.rebootCommand,
		reportTools:     b.reportTools,
		execBackendPath: b.execBackendPath,
	}
	result.router = result.createRouter()
	return
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) createRouter() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/", s.handleModel).Methods(http.MethodGet)

	router.HandleFunc("/settings", s.handleSettingsGet).Methods(http.MethodGet)
	router.HandleFunc("/settings", s.handleSettingsPatch).Methods(http.MethodPatch)
	router.HandleFunc("/settings", s.handleSettingsDelete).Methods(http.MethodDelete)

	router.HandleFunc("/tx", s.handleTransactionGet).Methods(http.MethodGet)
	router.HandleFunc("/tx", s.handleTransactionDelete).Methods(http.MethodDelete)
	router.HandleFunc("/tx/list", s.handleTransactionList).Methods(http.MethodGet)
	router.HandleFunc("/tx/commit", s.handleCommit).Methods(http.MethodPost)
	router.HandleFunc("/tx/apply", s.handleApply).Methods(http.MethodPost)
	router.HandleFunc("/tx/commit_and_apply", s.handleCommitAndApply).Methods(http.MethodPost)

	router.HandleFunc("/metadata/affected-services", s.handleAffectedServices).Methods(http.MethodGet)
	router.HandleFunc("/metadata/setting-generators", s.handleSettingGenerators).Methods(http.MethodGet)
	router.HandleFunc("/metadata/templates", s.handleTemplates).Methods(http.MethodGet)

	router.HandleFunc("/services", s.handleServices).Methods(http.MethodGet)
	router.HandleFunc("/configuration-files", s.handleConfigurationFiles).Methods(http.MethodGet)
	router.HandleFunc("/os", s.handleOS).Methods(http.MethodGet)

	router.HandleFunc("/updates/status", s.handleUpdateStatus).Methods(http.MethodGet)
	router.HandleFunc("/actions/refresh-updates", s.handleUpdateAction(updates.CommandRefresh)).Methods(http.MethodPost)
	router.HandleFunc("/actions/prepare-update", s.handleUpdateAction(updates.CommandPrepare)).Methods(http.MethodPost)
	router.HandleFunc("/actions/activate-update", s.handleUpdateAction(updates.CommandActivate)).Methods(http.MethodPost)
	router.HandleFunc("/actions/deactivate-update", s.handleUpdateAction(updates.CommandDeactivate)).Methods(http.MethodPost)
	router.HandleFunc("/actions/reboot", s.handleReboot).Methods(http.MethodPost)

	router.HandleFunc("/report/{name}", s.handleReport).Methods(http.MethodGet)
	router.HandleFunc("/exec", s.handleExec).Methods(http.MethodGet)
	router.HandleFunc("/openapi", s.handleOpenAPI).Methods(http.MethodGet)

	return router
}
