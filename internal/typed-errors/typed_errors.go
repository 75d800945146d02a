/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package typederrors

import (
	"errors"
	"fmt"
)

// GenericError is an error structure containing common fields to be embedded by the specific
// error types defined below.
type GenericError struct {
	Message string
	Err     error
}

func (ge GenericError) Error() string {
	return ge.Message
}

func (ge GenericError) Unwrap() error {
	return ge.Err
}

// InvalidKeyError indicates a key name that doesn't satisfy the datastore key grammar.
type InvalidKeyError struct {
	GenericError
}

func NewInvalidKeyError(err error, format string, args ...interface{}) error {
	return InvalidKeyError{
		GenericError: GenericError{fmt.Sprintf(format, args...), err},
	}
}

func IsInvalidKeyError(target error) bool {
	var e InvalidKeyError
	return errors.As(target, &e)
}

// InvalidInputError indicates input that fails schema or scalar validation. This is the error a
// client sees when its request body is well formed but carries bad values.
type InvalidInputError struct {
	GenericError
}

func NewInvalidInputError(err error, format string, args ...interface{}) error {
	return InvalidInputError{
		GenericError: GenericError{fmt.Sprintf(format, args...), err},
	}
}

func IsInvalidInputError(target error) bool {
	var e InvalidInputError
	return errors.As(target, &e)
}

// MissingResourceError indicates a lookup of a service, configuration file or transaction that
// doesn't exist.
type MissingResourceError struct {
	GenericError
}

func NewMissingResourceError(err error, format string, args ...interface{}) error {
	return MissingResourceError{
		GenericError: GenericError{fmt.Sprintf(format, args...), err},
	}
}

func IsMissingResourceError(target error) bool {
	var e MissingResourceError
	return errors.As(target, &e)
}

// NoPendingError indicates a commit of a transaction that has no pending changes.
type NoPendingError struct {
	GenericError
}

func NewNoPendingError(err error, format string, args ...interface{}) error {
	return NoPendingError{
		GenericError: GenericError{fmt.Sprintf(format, args...), err},
	}
}

func IsNoPendingError(target error) bool {
	var e NoPendingError
	return errors.As(target, &e)
}

// DatastoreIOError indicates a filesystem failure underneath the datastore.
type DatastoreIOError struct {
	GenericError
}

func NewDatastoreIOError(err error, format string, args ...interface{}) error {
	return DatastoreIOError{
		GenericError: GenericError{fmt.Sprintf(format, args...), err},
	}
}

func IsDatastoreIOError(target error) bool {
	var e DatastoreIOError
	return errors.As(target, &e)
}

// ConflictError indicates that two writers raced on the same transaction.
type ConflictError struct {
	GenericError
}

func NewConflictError(err error, format string, args ...interface{}) error {
	return ConflictError{
		GenericError: GenericError{fmt.Sprintf(format, args...), err},
	}
}

func IsConflictError(target error) bool {
	var e ConflictError
	return errors.As(target, &e)
}

// PartitionDiscoveryError indicates that the OS disk partition layout doesn't match what the
// boot-slot state machine requires.
type PartitionDiscoveryError struct {
	GenericError
}

func NewPartitionDiscoveryError(err error, format string, args ...interface{}) error {
	return PartitionDiscoveryError{
		GenericError: GenericError{fmt.Sprintf(format, args...), err},
	}
}

func IsPartitionDiscoveryError(target error) bool {
	var e PartitionDiscoveryError
	return errors.As(target, &e)
}

// GptWriteError indicates a failure flushing the partition table back to the OS disk.
type GptWriteError struct {
	GenericError
}

func NewGptWriteError(err error, format string, args ...interface{}) error {
	return GptWriteError{
		GenericError: GenericError{fmt.Sprintf(format, args...), err},
	}
}

func IsGptWriteError(target error) bool {
	var e GptWriteError
	return errors.As(target, &e)
}

// MigrationError indicates a failure while running a migration binary.
type MigrationError struct {
	GenericError
}

func NewMigrationError(err error, format string, args ...interface{}) error {
	return MigrationError{
		GenericError: GenericError{fmt.Sprintf(format, args...), err},
	}
}

func IsMigrationError(target error) bool {
	var e MigrationError
	return errors.As(target, &e)
}

// TemplateRenderError indicates a template that failed to render against the live settings.
type TemplateRenderError struct {
	GenericError
}

func NewTemplateRenderError(err error, format string, args ...interface{}) error {
	return TemplateRenderError{
		GenericError: GenericError{fmt.Sprintf(format, args...), err},
	}
}

func IsTemplateRenderError(target error) bool {
	var e TemplateRenderError
	return errors.As(target, &e)
}

// RestartCommandError indicates a service restart command that could not be run or exited with a
// non-zero status.
type RestartCommandError struct {
	GenericError
}

func NewRestartCommandError(err error, format string, args ...interface{}) error {
	return RestartCommandError{
		GenericError: GenericError{fmt.Sprintf(format, args...), err},
	}
}

func IsRestartCommandError(target error) bool {
	var e RestartCommandError
	return errors.As(target, &e)
}

// InputError wraps a standard error and provides a custom error type for client caused
// serialization problems, so that caller tooling can distinguish "check your input" failures
// from server side bugs.
type InputError struct {
	err error
}

func (i *InputError) Error() string {
	return i.err.Error()
}

func NewInputError(format string, args ...interface{}) *InputError {
	return &InputError{
		err: fmt.Errorf(format, args...),
	}
}

func IsInputError(err error) bool {
	var inputErr *InputError

	return errors.As(err, &inputErr)
}
