// Package apperr holds the error taxonomy shared by the remote client, the
// stores and the orchestrator.
package apperr

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Match them with errors.Is.
var (
	ErrAuth       = errors.New("authentication failed")
	ErrUpload     = errors.New("upload failed")
	ErrRemote     = errors.New("remote call failed")
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
)

// Error is a classified failure. Status is the remote HTTP status code when
// the failure came from a response, zero otherwise.
type Error struct {
	Kind    error
	Op      string
	Message string
	Status  int
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// New builds a classified error without a cause.
func New(kind error, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies cause under kind. A nil cause yields nil.
func Wrap(kind error, op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Status builds a classified error for a non-2xx remote response.
func Status(kind error, op string, status int, body string) *Error {
	return &Error{Kind: kind, Op: op, Status: status, Message: truncate(body, 512)}
}

// NotFound reports a missing entity by id.
func NotFound(entity, id string) *Error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf("%s %s", entity, id)}
}

// StatusCode returns the remote status code carried by err, if any.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
