/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

// Package files holds the assets compiled into the binary: the defaults document written into a
// fresh datastore and the OpenAPI description of the settings API.
package files

import _ "embed"

var (
	//go:embed defaults.yaml
	Defaults []byte

	//go:embed openapi.yaml
	OpenAPI []byte
)
