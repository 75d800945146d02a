/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package server

import (
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/basalt-os/basalt/internal/files"
)

// ValidateOpenAPI checks that the embedded API description is a well formed OpenAPI document.
// The server runs this once at startup so a bad document is caught before the socket is bound.
func ValidateOpenAPI() error {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(files.OpenAPI)
	if err != nil {
		return err
	}
	return doc.Validate(loader.Context)
}

// handleOpenAPI serves GET /openapi: the API description document.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(files.OpenAPI)
}
