// Package apperr defines the coded error taxonomy shared by the flow engine,
// the stores and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure.
type Code string

const (
	CodeValidation         Code = "VALIDATION"          // 400
	CodeInvalidPath        Code = "INVALID_PATH"        // 400
	CodeInvalidSelection   Code = "INVALID_SELECTION"   // 422
	CodeTerminalState      Code = "TERMINAL_STATE"      // 409
	CodeNotFound           Code = "NOT_FOUND"           // 404
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE" // 503
	CodePersistence        Code = "PERSISTENCE"         // 503
	CodeUnconfigured       Code = "UNCONFIGURED"        // 500
	CodeUpstream           Code = "UPSTREAM"            // 502
	CodeInternal           Code = "INTERNAL"            // 500
)

// Error is a structured error with a code, an HTTP status and optional details.
type Error struct {
	Code    Code
	Status  int
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidation reports malformed caller input.
func NewValidation(msg string) *Error {
	return &Error{Code: CodeValidation, Status: http.StatusBadRequest, Message: msg}
}

// NewInvalidPath reports a parent token that is not valid for a flow step.
func NewInvalidPath(step, parent string) *Error {
	return &Error{
		Code:    CodeInvalidPath,
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf("%q is not a valid parent for step %s", parent, step),
		Details: map[string]any{"step": step, "parent": parent},
	}
}

// NewInvalidSelection reports an option that is not legal for the current step.
func NewInvalidSelection(step, option string, allowed []string) *Error {
	return &Error{
		Code:    CodeInvalidSelection,
		Status:  http.StatusUnprocessableEntity,
		Message: fmt.Sprintf("%q is not a valid selection for step %s", option, step),
		Details: map[string]any{"step": step, "option": option, "allowed": allowed},
	}
}

// NewTerminalState reports an advance attempted on a completed flow.
func NewTerminalState() *Error {
	return &Error{
		Code:    CodeTerminalState,
		Status:  http.StatusConflict,
		Message: "flow is complete; restart to begin a new session",
	}
}

// NewNotFound reports a missing resource.
func NewNotFound(kind, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Status:  http.StatusNotFound,
		Message: fmt.Sprintf("%s not found: %s", kind, id),
		Details: map[string]any{"kind": kind, "id": id},
	}
}

// NewStorageUnavailable wraps a persona or history store failure.
func NewStorageUnavailable(op string, err error) *Error {
	return &Error{
		Code:    CodeStorageUnavailable,
		Status:  http.StatusServiceUnavailable,
		Message: op,
		Err:     err,
	}
}

// NewPersistence wraps an assistant state store failure.
func NewPersistence(op string, err error) *Error {
	return &Error{
		Code:    CodePersistence,
		Status:  http.StatusServiceUnavailable,
		Message: op,
		Err:     err,
	}
}

// NewUnconfigured reports a feature whose credentials are missing.
func NewUnconfigured(feature string) *Error {
	return &Error{
		Code:    CodeUnconfigured,
		Status:  http.StatusInternalServerError,
		Message: feature + " is not configured",
	}
}

// NewUpstream wraps a failure of a third-party service.
func NewUpstream(service string, err error) *Error {
	return &Error{
		Code:    CodeUpstream,
		Status:  http.StatusBadGateway,
		Message: service + " request failed",
		Err:     err,
	}
}

// NewInternal wraps an unexpected failure.
func NewInternal(err error) *Error {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Code: CodeInternal, Status: http.StatusInternalServerError, Message: msg, Err: err}
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of err, CodeInternal for foreign errors and "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// StatusOf returns the HTTP status for err.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}
