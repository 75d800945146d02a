/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package server

import (
	"net/http"

	"github.com/basalt-os/basalt/internal/datastore"
)

// Well known metadata keys.
const (
	AffectedServicesMeta = "affected-services"
	SettingGeneratorMeta = "setting-generator"
	TemplateMeta         = "template"
)

func mustMetaKey(name string) datastore.Key {
	key, err := datastore.NewKey(datastore.Meta, name)
	if err != nil {
		panic(err)
	}
	return key
}

// handleAffectedServices serves GET /metadata/affected-services: for each requested data key,
// the list of services its changes affect, honouring metadata inheritance.
func (s *Server) handleAffectedServices(w http.ResponseWriter, r *http.Request) {
	keys, err := keysFromQuery(r, "keys")
	if err != nil {
		SendFailure(w, err)
		return
	}
	if len(keys) == 0 {
		SendError(w, http.StatusBadRequest, "the 'keys' query parameter is required")
		return
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	metaKey := mustMetaKey(AffectedServicesMeta)
	result := map[string][]string{}
	for _, key := range keys {
		value, found, err := datastore.GetMetadata(s.ds, metaKey, key)
		if err != nil {
			SendFailure(w, err)
			return
		}
		if !found {
			continue
		}
		var services []string
		if err := datastore.DeserializeScalar(value, &services); err != nil {
			SendFailure(w, err)
			return
		}
		result[key.Name()] = services
	}
	SendJSON(w, http.StatusOK, result)
}

// handleMetadataListing serves the metadata listing endpoints: every data key the given
// metadata key is attached to, with the deserialized value.
func (s *Server) handleMetadataListing(w http.ResponseWriter, metaName string) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	entries, err := s.ds.ListMetadata(mustMetaKey(metaName))
	if err != nil {
		SendFailure(w, err)
		return
	}
	result := map[string]any{}
	for key, value := range entries {
		deserialized, err := datastore.ScalarValue(value)
		if err != nil {
			SendFailure(w, err)
			return
		}
		result[key.Name()] = deserialized
	}
	SendJSON(w, http.StatusOK, result)
}

// handleSettingGenerators serves GET /metadata/setting-generators: the keys whose values are
// produced by an external generator at first boot.
func (s *Server) handleSettingGenerators(w http.ResponseWriter, r *http.Request) {
	s.handleMetadataListing(w, SettingGeneratorMeta)
}

// handleTemplates serves GET /metadata/templates: the template strings of derived settings.
func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	s.handleMetadataListing(w, TemplateMeta)
}
