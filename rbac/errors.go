package rbac

import (
	"errors"

	"github.com/MrEthical07/goIdentity/store"
)

// ErrForbidden is returned when the actor lacks the permission or level
// an operation requires.
var ErrForbidden = errors.New("forbidden")

// ErrNotFound is returned for unknown roles, permissions or assignments.
var ErrNotFound = store.ErrNotFound

// ErrConflict is returned when a catalog name is already taken.
var ErrConflict = store.ErrConflict

// ErrSystemEntry is returned when deleting a role or permission marked
// IsSystem.
var ErrSystemEntry = errors.New("system entry cannot be deleted")

// ErrInvalidInput is returned for malformed catalog entries.
var ErrInvalidInput = errors.New("invalid input")

// Permissions that gate administrative operations.
const (
	PermRolesAssign       = "roles.assign"
	PermRolesCreate       = "roles.create"
	PermRolesUpdate       = "roles.update"
	PermRolesDelete       = "roles.delete"
	PermPermissionsGrant  = "permissions.grant"
	PermPermissionsCreate = "permissions.create"
	PermPermissionsUpdate = "permissions.update"
	PermPermissionsDelete = "permissions.delete"
)
