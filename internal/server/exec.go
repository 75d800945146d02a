/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package server

import (
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
)

var execUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The socket is local and protected by filesystem permissions; there is no origin to
	// check.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleExec serves GET /exec: upgrades the connection to a WebSocket and forwards frames to
// the container exec backend. The pumps run on their own goroutines so a long-lived exec
// session can't stall settings traffic.
func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	if s.execBackendPath == "" {
		SendError(w, http.StatusNotImplemented, "no exec backend is configured")
		return
	}

	backend, err := net.Dial("unix", s.execBackendPath)
	if err != nil {
		SendError(w, http.StatusBadGateway, "can't reach exec backend: %v", err)
		return
	}

	ws, err := execUpgrader.Upgrade(w, r, nil)
	if err != nil {
		backend.Close()
		s.logger.ErrorContext(
			r.Context(),
			"Failed to upgrade exec connection",
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.InfoContext(r.Context(), "Exec channel opened")
	go s.pumpToBackend(ws, backend)
	go s.pumpFromBackend(ws, backend)
}

// pumpToBackend copies WebSocket frames into the backend socket.
func (s *Server) pumpToBackend(ws *websocket.Conn, backend net.Conn) {
	defer backend.Close()
	defer ws.Close()
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if _, err := backend.Write(frame); err != nil {
			return
		}
	}
}

// pumpFromBackend copies backend output into WebSocket binary frames.
func (s *Server) pumpFromBackend(ws *websocket.Conn, backend net.Conn) {
	defer backend.Close()
	defer ws.Close()
	buffer := make([]byte, 4096)
	for {
		n, err := backend.Read(buffer)
		if n > 0 {
			if writeErr := ws.WriteMessage(websocket.BinaryMessage, buffer[:n]); writeErr != nil {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Error(
					"Exec backend read failed",
					slog.String("error", err.Error()),
				)
			}
			return
		}
	}
}
