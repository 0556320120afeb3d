// Package errors holds the sentinel errors shared across packages.
// Kind-specific error types live with the packages that produce them.
package errors

import "errors"

var (
	// ErrNotFound indicates that a requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal failure with no more specific kind.
	ErrInternal = errors.New("internal error")
)
