/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package exit

import (
	"errors"
	"fmt"
)

// Error is an error type that contains a process exit code. This is intended for situations where
// you want to call os.Exit only in one place, but also want some deeply nested functions to decide
// what should be the exit code.
type Error int

// Error is the implementation of the error interface.
func (e Error) Error() string {
	return fmt.Sprintf("%d", e)
}

// Code returns the exit code.
func (e Error) Code() int {
	return int(e)
}

// CodeFor extracts the exit code from an error. Errors that aren't exit errors map to code 1, and
// nil maps to zero.
func CodeFor(err error) int {
	if err == nil {
		return 0
	}
	var exitErr Error
	if errors.As(err, &exitErr) {
		return exitErr.Code()
	}
	return 1
}

// Conventional exit codes. Argument errors use code 2 so that they are distinguishable from
// runtime failures in unit files and test harnesses.
const (
	CodeFailure = 1
	CodeUsage   = 2
)
