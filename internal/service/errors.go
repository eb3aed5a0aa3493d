// Package service holds the report lifecycle: report submission, the status
// transition service shared by every process, the caller-facing transition
// rules and notification listing.
package service

import "errors"

var (
	// ErrInvalidStatus is returned when a status is not one of the known
	// lifecycle states.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrInvalidInput is returned when a request fails validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrTransitionNotAllowed is returned when the caller may not move a
	// report from its current status to the requested one.
	ErrTransitionNotAllowed = errors.New("transition not allowed")
)
