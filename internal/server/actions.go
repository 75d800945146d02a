/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package server

import (
	"log/slog"
	"net/http"
	"os/exec"
)

// handleUpdateStatus serves GET /updates/status.
func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		SendError(w, http.StatusNotImplemented, "no updater is configured")
		return
	}
	status, err := s.dispatcher.Status()
	if err != nil {
		SendFailure(w, err)
		return
	}
	SendJSON(w, http.StatusOK, status)
}

// handleUpdateAction returns the handler for one of the POST /actions/... update endpoints,
// which dispatches the corresponding updater command.
func (s *Server) handleUpdateAction(command string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.dispatcher == nil {
			SendError(w, http.StatusNotImplemented, "no updater is configured")
			return
		}
		if err := s.dispatcher.Dispatch(r.Context(), command); err != nil {
			SendFailure(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleReboot serves POST /actions/reboot. The response is written before the reboot command
// runs so the caller learns the request was accepted.
func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	s.logger.InfoContext(r.Context(), "Reboot requested")
	w.WriteHeader(http.StatusNoContent)
	argv := s.rebootCommand
	go func() {
		output, err := exec.Command(argv[0], argv[1:]...).CombinedOutput()
		if err != nil {
			s.logger.Error(
				"Reboot command failed",
				slog.Any("argv", argv),
				slog.String("error", err.Error()),
				slog.String("output", string(output)),
			)
		}
	}()
}
