package store

import "errors"

var (
	// ErrSessionNotFound indicates the upload session record could not be found.
	ErrSessionNotFound = errors.New("upload session not found")

	// ErrFileNotFound indicates the file record could not be found.
	ErrFileNotFound = errors.New("file not found")

	// ErrStatusConflict indicates the session was not in a state that permits
	// the attempted mutation.
	ErrStatusConflict = errors.New("session status conflict")
)
