package gecwatch

import "errors"

// Sentinel errors for API callers to branch on.
var (
	// ErrInvalidInput marks a malformed or missing argument.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound marks a lookup that matched nothing.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateSource marks a source whose normalized URL is already
	// registered.
	ErrDuplicateSource = errors.New("source already exists")
)
