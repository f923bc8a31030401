package repository

import "errors"

// Repository errors
var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrLockExists indicates a lock record for the localID is already
	// present, whichever process owns it.
	ErrLockExists = errors.New("lock record already exists")

	// ErrLockBackendUnavailable indicates the shared lock backend cannot
	// be reached.
	ErrLockBackendUnavailable = errors.New("lock backend unavailable")
)
