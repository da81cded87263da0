// Package apperr holds the sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation marks input rejected before any state changed.
	ErrValidation = errors.New("validation failed")
	// ErrConfig marks a component that cannot start with its configuration.
	ErrConfig = errors.New("invalid configuration")

	ErrSessionActive     = errors.New("a session is already active")
	ErrNoActiveSession   = errors.New("no active session")
	ErrInvalidTransition = errors.New("invalid status transition")
)
