/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package server

import (
	"net/http"
	"strings"

	"github.com/basalt-os/basalt/internal/datastore"
	"github.com/basalt-os/basalt/internal/datastore/serialization"
	"github.com/basalt-os/basalt/internal/model"
	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

// loadServices decodes the service table from the datastore.
func (s *Server) loadServices() (model.Services, error) {
	pairs, err := s.collectPrefix("services", datastore.Live)
	if err != nil {
		return nil, err
	}
	tree, err := serialization.FromPairs(pairs)
	if err != nil {
		return nil, err
	}
	services := model.Services{}
	if branch, ok := tree["services"]; ok {
		if err := serialization.DecodeTree(&services, branch); err != nil {
			return nil, err
		}
	}
	return services, nil
}

// loadConfigurationFiles decodes the configuration file table from the datastore.
func (s *Server) loadConfigurationFiles() (model.ConfigurationFiles, error) {
	pairs, err := s.collectPrefix("configuration-files", datastore.Live)
	if err != nil {
		return nil, err
	}
	tree, err := serialization.FromPairs(pairs)
	if err != nil {
		return nil, err
	}
	files := model.ConfigurationFiles{}
	if branch, ok := tree["configuration-files"]; ok {
		if err := serialization.DecodeTree(&files, branch); err != nil {
			return nil, err
		}
	}
	return files, nil
}

// namesFilter parses the comma separated "names" parameter.
func namesFilter(r *http.Request) []string {
	raw := r.URL.Query().Get("names")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// handleServices serves GET /services: the service records, optionally filtered by name. Asking
// for an unknown service is an error rather than an empty answer, so that a typo in a service
// name doesn't silently restart nothing.
func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	services, err := s.loadServices()
	if err != nil {
		SendFailure(w, err)
		return
	}
	names := namesFilter(r)
	if names == nil {
		SendJSON(w, http.StatusOK, services)
		return
	}
	filtered := model.Services{}
	for _, name := range names {
		service, ok := services[model.Identifier(name)]
		if !ok {
			SendFailure(w, typederrors.NewMissingResourceError(nil, "no service named %q", name))
			return
		}
		filtered[model.Identifier(name)] = service
	}
	SendJSON(w, http.StatusOK, filtered)
}

// handleConfigurationFiles serves GET /configuration-files, optionally filtered by name.
func (s *Server) handleConfigurationFiles(w http.ResponseWriter, r *http.Request) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	files, err := s.loadConfigurationFiles()
	if err != nil {
		SendFailure(w, err)
		return
	}
	names := namesFilter(r)
	if names == nil {
		SendJSON(w, http.StatusOK, files)
		return
	}
	filtered := model.ConfigurationFiles{}
	for _, name := range names {
		file, ok := files[model.Identifier(name)]
		if !ok {
			SendFailure(w, typederrors.NewMissingResourceError(
				nil, "no configuration file named %q", name,
			))
			return
		}
		filtered[model.Identifier(name)] = file
	}
	SendJSON(w, http.StatusOK, filtered)
}

// handleOS serves GET /os: the release identity of the running image.
func (s *Server) handleOS(w http.ResponseWriter, r *http.Request) {
	SendJSON(w, http.StatusOK, s.release)
}
