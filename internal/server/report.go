/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package server

import (
	"net/http"
	"os/exec"

	"github.com/gorilla/mux"

	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

// handleReport serves GET /report/{name}: runs the named compliance tool and streams its
// output. Query parameters are forwarded to the tool as flags, so callers can select the report
// format or level without the server knowing each tool's options.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	argv, ok := s.reportTools[name]
	if !ok {
		SendFailure(w, typederrors.NewMissingResourceError(nil, "no report named %q", name))
		return
	}

	args := append([]string{}, argv[1:]...)
	for _, param := range []string{"format", "level"} {
		if value := r.URL.Query().Get(param); value != "" {
			args = append(args, "--"+param, value)
		}
	}

	cmd := exec.CommandContext(r.Context(), argv[0], args...)
	output, err := cmd.Output()
	if err != nil {
		SendError(w, http.StatusInternalServerError, "report %q failed: %v", name, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(output)
}
