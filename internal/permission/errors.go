package permission

import "errors"

var (
	// ErrNotFound indicates a slug or id lookup failed.
	ErrNotFound = errors.New("permission: not found")
	// ErrAlreadyExists indicates an explicit create hit a slug that is taken.
	ErrAlreadyExists = errors.New("permission: already exists")
	// ErrInvalidReference indicates a role, permission or tenant argument
	// could not be normalized to an identifier. It always propagates to the
	// caller and is never converted into a deny.
	ErrInvalidReference = errors.New("permission: invalid reference")
	// ErrGuardMismatch indicates a grant crosses incompatible guards.
	ErrGuardMismatch = errors.New("permission: guard mismatch")
)
