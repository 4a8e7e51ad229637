package models

import "errors"

// Domain error taxonomy. Storage failures are not enumerated here; they wrap
// the underlying store error and surface to the caller as retryable.
var (
	// ErrNotAuthenticated means no verified identity accompanied the call.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrNotParticipant means the caller is not a member of the thread.
	ErrNotParticipant = errors.New("not a thread participant")
	// ErrNotFound means the referenced thread or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation covers malformed input that is a caller bug, as opposed
	// to empty content which is silently skipped.
	ErrValidation = errors.New("validation failed")
)
