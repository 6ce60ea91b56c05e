package memory

import "errors"

// Error taxonomy. Transport maps these onto caller-facing results; the
// distinction between ErrNotFound and ErrUnauthorized is deliberately
// collapsed for callers and preserved only in server-side logs.
var (
	// ErrNotFound means no record matched the requested id.
	ErrNotFound = errors.New("memory not found")

	// ErrUnauthorized means the record exists but belongs to another user.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrValidation means the input violated a record invariant and was
	// rejected before any storage or embedding call.
	ErrValidation = errors.New("validation error")
)
