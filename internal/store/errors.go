package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for store operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotImplemented is returned by a hook that has no implementation
	// for its record kind. A nil hook behaves the same way.
	ErrNotImplemented = errors.New("store: not implemented")

	// ErrNotSupported is returned by Factory.Create for an unregistered payload type.
	ErrNotSupported = errors.New("store: payload type not supported")

	// ErrMissingRequiredField is returned by a persistence hook when the mapped
	// document lacks an identifying field. It is never retried.
	ErrMissingRequiredField = errors.New("store: missing required field")

	// ErrTransient marks a persistence failure that a later redelivery may fix,
	// such as database lock contention.
	ErrTransient = errors.New("store: transient persistence failure")

	// ErrDuplicateResponsibility is returned by NewFactory when two managers
	// claim the same payload type.
	ErrDuplicateResponsibility = errors.New("store: duplicate responsibility")
)

// MissingFieldError names the document kind and field that failed the
// persistence-time required field check.
type MissingFieldError struct {
	Document string
	Field    string
}

// Error implements error.
func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: %s is required", ErrMissingRequiredField.Error(), e.Document+"."+e.Field)
}

// Unwrap allows errors.Is(err, ErrMissingRequiredField).
func (e *MissingFieldError) Unwrap() error {
	return ErrMissingRequiredField
}

// MissingField returns a *MissingFieldError for document.field.
func MissingField(document, field string) error {
	return &MissingFieldError{Document: document, Field: field}
}

// isPermanent reports whether retrying err cannot succeed.
func isPermanent(err error) bool {
	return errors.Is(err, ErrMissingRequiredField) || errors.Is(err, ErrNotImplemented)
}
