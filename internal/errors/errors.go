// Package errors defines the coded application errors shared by the store,
// the bot runtime and the HTTP layer.
package errors

import (
	"errors"
	"fmt"
)

// Standard error codes for the application.
const (
	CodeUnknown    = "UNKNOWN"
	CodeNotFound   = "NOT_FOUND"
	CodeValidation = "VALIDATION"
	CodeConflict   = "CONFLICT"
	CodeDatabase   = "DATABASE"
	CodeRuntime    = "RUNTIME"
	CodeConfig     = "CONFIG"
)

// ApplicationError is the interface that all our custom errors implement.
type ApplicationError interface {
	error
	Code() string
	Unwrap() error
}

// Error is the single concrete application error; the code tells kinds apart.
type Error struct {
	code    string
	message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}

	return e.message
}

func (e *Error) Code() string {
	return e.code
}

// Message returns the message without the wrapped cause.
func (e *Error) Message() string {
	return e.message
}

func (e *Error) Unwrap() error {
	return e.err
}

// Code returns the code of the first ApplicationError in err's chain,
// or CodeUnknown if it doesn't carry one.
func Code(err error) string {
	var appErr ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Code()
	}

	return CodeUnknown
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return err != nil && Code(err) == code
}

// Message returns the caller-safe message of the first application error in
// err's chain, or fallback when there is none.
func Message(err error, fallback string) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.message
	}

	return fallback
}

func newError(code, message string, cause error) error {
	return &Error{code: code, message: message, err: cause}
}

func NewNotFoundError(message string) error {
	return newError(CodeNotFound, message, nil)
}

func NewValidationError(message string, cause error) error {
	return newError(CodeValidation, message, cause)
}

func NewConflictError(message string, cause error) error {
	return newError(CodeConflict, message, cause)
}

func NewDatabaseError(message string, cause error) error {
	return newError(CodeDatabase, message, cause)
}

func NewRuntimeError(message string, cause error) error {
	return newError(CodeRuntime, message, cause)
}

func NewConfigError(message string, cause error) error {
	return newError(CodeConfig, message, cause)
}
