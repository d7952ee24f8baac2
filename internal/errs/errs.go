// Package errs classifies engine failures so callers can decide between
// retrying, ignoring and surfacing them.
package errs

import (
	"context"
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// ValidationError is a malformed or forbidden request. Never retried.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ConflictError is a request that contradicts already recorded state.
type ConflictError struct {
	Err error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %v", e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

type NotFoundError struct {
	Resource   string
	Identifier string
	Err        error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Identifier)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// TransientStoreError is an I/O failure talking to the document store.
type TransientStoreError struct {
	Operation string
	Err       error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("store error during %s: %v", e.Operation, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

func Validation(err error) error {
	return &ValidationError{Err: err}
}

func Conflict(err error) error {
	return &ConflictError{Err: err}
}

func NotFound(resource, identifier string, err error) error {
	return &NotFoundError{Resource: resource, Identifier: identifier, Err: err}
}

func Transient(operation string, err error) error {
	return &TransientStoreError{Operation: operation, Err: err}
}

func KindOf(err error) Kind {
	var (
		validationErr *ValidationError
		conflictErr   *ConflictError
		notFoundErr   *NotFoundError
		transientErr  *TransientStoreError
	)

	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &validationErr):
		return KindValidation
	case errors.As(err, &conflictErr):
		return KindConflict
	case errors.As(err, &notFoundErr):
		return KindNotFound
	case errors.As(err, &transientErr),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	default:
		return KindUnknown
	}
}

// IsRetryable reports whether err may be retried for idempotent operations.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}
