// Package apperr defines the error taxonomy shared by every component of the daemon.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	// KindDependencyMissing means an optional native component is absent.
	KindDependencyMissing Kind = "dependency_missing"
	// KindNotReady means the transcription model has not finished loading.
	KindNotReady Kind = "not_ready"
	// KindLoadFailure is terminal until the process restarts.
	KindLoadFailure  Kind = "load_failure"
	KindInvalidInput Kind = "invalid_input"
	KindInternal     Kind = "internal"
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap attaches a kind to err. An error that already carries a kind is returned unchanged.
func Wrap(kind Kind, op, message string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: kind, Op: op, Message: message, Cause: err}
}

// KindOf returns the first kind found in the chain, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// Message returns the client-facing text for err.
func Message(err error) string {
	var typed *Error
	if errors.As(err, &typed) {
		if typed.Cause != nil && typed.Kind != KindInvalidInput {
			return fmt.Sprintf("%s: %v", typed.Message, typed.Cause)
		}
		return typed.Message
	}
	return err.Error()
}

// HTTPStatus maps err onto the status both transports answer with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindDependencyMissing, KindNotReady:
		return http.StatusServiceUnavailable
	case KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
