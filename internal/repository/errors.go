// Package repository implements MySQL persistence for reports, their status
// history and anonymous owner mappings, departments and notifications. The
// sentinel errors below let higher layers distinguish failure scenarios
// without inspecting driver errors.
package repository

import "errors"

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller may not act on a resource it
// does not own. Handlers translate this into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an update cannot proceed because of the
// resource's current state, such as changing a cancelled report. Handlers
// translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")
