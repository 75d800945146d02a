/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/basalt-os/basalt/internal/datastore"
	"github.com/basalt-os/basalt/internal/datastore/serialization"
	"github.com/basalt-os/basalt/internal/model"
	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

// settingsPatch is the body of PATCH /settings: the nested form of the settings schema, wrapped
// under "settings" so that a provider document can be sent as-is.
type settingsPatch struct {
	Settings *model.Settings `json:"settings"`
}

// committedFromQuery selects pending data when the request names a transaction and live data
// otherwise.
func committedFromQuery(r *http.Request) (datastore.Committed, error) {
	tx := r.URL.Query().Get("tx")
	if tx == "" {
		return datastore.Live, nil
	}
	return datastore.Pending(tx)
}

// keysFromQuery parses the comma separated "keys" parameter into validated data keys.
func keysFromQuery(r *http.Request, param string) ([]datastore.Key, error) {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		return nil, nil
	}
	var keys []datastore.Key
	for _, name := range strings.Split(raw, ",") {
		key, err := datastore.NewKey(datastore.Data, name)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// collectPairs reads the values of the given keys. Keys that aren't populated are skipped.
func (s *Server) collectPairs(keys []datastore.Key, committed datastore.Committed) (map[string]string, error) {
	pairs := map[string]string{}
	for _, key := range keys {
		value, found, err := s.ds.GetKey(key, committed)
		if err != nil {
			return nil, err
		}
		if found {
			pairs[key.Name()] = value
		}
	}
	return pairs, nil
}

// collectPrefix reads every populated key under the given prefix.
func (s *Server) collectPrefix(prefix string, committed datastore.Committed) (map[string]string, error) {
	keys, err := s.ds.ListPopulated(prefix, committed)
	if err != nil {
		return nil, err
	}
	pairs := map[string]string{}
	for key := range keys {
		value, _, err := s.ds.GetKey(key, committed)
		if err != nil {
			return nil, err
		}
		pairs[key.Name()] = value
	}
	return pairs, nil
}

// subtree returns the named branch of the nested tree the pairs decode to, so that callers see
// {"motd": ...} rather than {"settings": {"motd": ...}}.
func subtree(pairs map[string]string, branch string) (any, error) {
	tree, err := serialization.FromPairs(pairs)
	if err != nil {
		return nil, err
	}
	value, ok := tree[branch]
	if !ok {
		return map[string]any{}, nil
	}
	return value, nil
}

// handleModel serves GET /: the whole model, which is what templates render against.
func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	result := map[string]any{}
	for _, branch := range []string{"settings", "services", "configuration-files"} {
		pairs, err := s.collectPrefix(branch, datastore.Live)
		if err != nil {
			SendFailure(w, err)
			return
		}
		value, err := subtree(pairs, branch)
		if err != nil {
			SendFailure(w, err)
			return
		}
		result[branch] = value
	}
	result["os"] = s.release
	SendJSON(w, http.StatusOK, result)
}

// handleSettingsGet serves GET /settings: the settings subtree, from live data or from a
// pending transaction, filtered by "keys" or "prefix".
func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	committed, err := committedFromQuery(r)
	if err != nil {
		SendFailure(w, err)
		return
	}
	keys, err := keysFromQuery(r, "keys")
	if err != nil {
		SendFailure(w, err)
		return
	}
	prefix := r.URL.Query().Get("prefix")

	s.lock.RLock()
	defer s.lock.RUnlock()

	pairs := map[string]string{}
	if len(keys) > 0 {
		pairs, err = s.collectPairs(keys, committed)
	} else {
		fullPrefix := "settings"
		if prefix != "" {
			fullPrefix = "settings." + prefix
		}
		pairs, err = s.collectPrefix(fullPrefix, committed)
	}
	if err != nil {
		SendFailure(w, err)
		return
	}
	value, err := subtree(pairs, "settings")
	if err != nil {
		SendFailure(w, err)
		return
	}
	SendJSON(w, http.StatusOK, value)
}

// handleSettingsPatch serves PATCH /settings: applies a nested settings document to a pending
// transaction. Unknown fields and invalid values are rejected before anything is written.
func (s *Server) handleSettingsPatch(w http.ResponseWriter, r *http.Request) {
	tx := r.URL.Query().Get("tx")
	if tx == "" {
		tx = DefaultTransaction
	}
	committed, err := datastore.Pending(tx)
	if err != nil {
		SendFailure(w, err)
		return
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	var patch settingsPatch
	if err := decoder.Decode(&patch); err != nil {
		if typederrors.IsInvalidInputError(err) || typederrors.IsInvalidKeyError(err) {
			SendFailure(w, err)
			return
		}
		SendFailure(w, typederrors.NewInputError("can't deserialize settings document: %v", err))
		return
	}
	if patch.Settings == nil {
		SendFailure(w, typederrors.NewInputError("settings document has no 'settings' member"))
		return
	}

	pairs, err := serialization.ToPairsWithPrefix("settings", patch.Settings)
	if err != nil {
		SendFailure(w, err)
		return
	}
	if len(pairs) == 0 {
		SendError(w, http.StatusBadRequest, "settings document contains no settings")
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if err := datastore.SetKeys(s.ds, pairs, committed); err != nil {
		SendFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSettingsDelete serves DELETE /settings: explicit unset of live keys.
func (s *Server) handleSettingsDelete(w http.ResponseWriter, r *http.Request) {
	keys, err := keysFromQuery(r, "keys")
	if err != nil {
		SendFailure(w, err)
		return
	}
	if len(keys) == 0 {
		SendError(w, http.StatusBadRequest, "the 'keys' query parameter is required")
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	var unset []string
	for _, key := range keys {
		populated, err := s.ds.KeyPopulated(key, datastore.Live)
		if err != nil {
			SendFailure(w, err)
			return
		}
		if !populated {
			continue
		}
		if err := s.ds.UnsetKey(key, datastore.Live); err != nil {
			SendFailure(w, err)
			return
		}
		unset = append(unset, key.Name())
	}
	SendJSON(w, http.StatusOK, unset)
}
