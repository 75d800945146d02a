/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

// problemDetails is the error body format: a status code and a human readable detail.
type problemDetails struct {
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// SendError writes an error response with the given status and a formatted detail message.
func SendError(w http.ResponseWriter, status int, msg string, args ...any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	body, err := json.Marshal(problemDetails{
		Status: status,
		Detail: fmt.Sprintf(msg, args...),
	})
	if err != nil {
		return
	}
	_, _ = w.Write(body)
}

// SendFailure maps an error to the HTTP status its kind calls for and writes the response.
// Client caused errors carry a marker so caller tooling can tell users to check their input.
func SendFailure(w http.ResponseWriter, err error) {
	switch {
	case typederrors.IsInvalidKeyError(err), typederrors.IsInvalidInputError(err):
		SendError(w, http.StatusBadRequest, "%v", err)
	case typederrors.IsInputError(err):
		SendError(w, http.StatusBadRequest, "check your input: %v", err)
	case typederrors.IsMissingResourceError(err):
		SendError(w, http.StatusNotFound, "%v", err)
	case typederrors.IsNoPendingError(err):
		SendError(w, http.StatusUnprocessableEntity, "%v", err)
	case typederrors.IsConflictError(err):
		SendError(w, http.StatusConflict, "%v", err)
	default:
		SendError(w, http.StatusInternalServerError, "%v", err)
	}
}

// SendJSON writes a success response carrying the given value as JSON.
func SendJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(value)
}
