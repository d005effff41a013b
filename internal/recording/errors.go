package recording

import "errors"

var (
	// ErrAlreadyActive is returned when a user tries to start a second
	// recording while one is still active.
	ErrAlreadyActive = errors.New("user already has an active recording")

	// ErrNotFound is returned when no recording exists for the given id.
	ErrNotFound = errors.New("recording not found")

	// ErrForbidden is returned when a recording belongs to another user.
	ErrForbidden = errors.New("recording belongs to another user")

	// ErrSessionUnavailable is returned when starting a recording requires
	// a connected device session and none exists.
	ErrSessionUnavailable = errors.New("no connected device session")
)
