// Package store holds the sentinel errors shared by every storage backend.
// Backends in store/memory and store/postgres translate driver errors into
// these so callers can branch with errors.Is regardless of backend.
package store

import "errors"

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a uniqueness constraint.
var ErrConflict = errors.New("conflict")
