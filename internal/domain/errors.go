package domain

import (
	"errors"
	"fmt"
)

// Upload error kinds. These drive the scheduler's propagation rules: some
// fail a single item, some tear down the whole session, and one parks the
// item for the background process.

var (
	// ErrWiFiUnavailable indicates the connectivity gate rejected the
	// upload: not on Wi-Fi and mobile-data uploads are disabled.
	ErrWiFiUnavailable = errors.New("wifi unavailable and mobile uploads disabled")

	// ErrLockAlreadyAcquired indicates the other process holds the per-file
	// lock. The scheduler parks the item in the inBackground state.
	ErrLockAlreadyAcquired = errors.New("file lock already acquired")

	// ErrInvalidFile indicates the media extractor could not produce upload
	// data for the file. Terminal for the item.
	ErrInvalidFile = errors.New("invalid file")

	// ErrNoActiveSubscription indicates the server rejected the URL refill
	// with 402. Session-terminal.
	ErrNoActiveSubscription = errors.New("no active subscription")

	// ErrStorageLimitExceeded indicates the server returned 426 on URL
	// refill or catalog commit. Session-terminal.
	ErrStorageLimitExceeded = errors.New("storage limit exceeded")

	// ErrFileTooLargeForPlan indicates the catalog create returned 413.
	// Terminal for the item, never retried.
	ErrFileTooLargeForPlan = errors.New("file too large for plan")

	// ErrSyncStopRequested indicates a cooperative stop was requested.
	// Session-terminal for every notStarted item.
	ErrSyncStopRequested = errors.New("sync stop requested")

	// ErrSilentlyCancelUploads indicates the background process released a
	// lock without producing a remote record; the item is dropped quietly.
	ErrSilentlyCancelUploads = errors.New("silently cancel uploads")

	// ErrUploadTimedOut indicates the per-upload hard deadline expired.
	ErrUploadTimedOut = errors.New("upload timed out")

	// ErrFileNotFound indicates the local files catalog has no such row.
	ErrFileNotFound = errors.New("file not found")
)

// SessionTerminal reports whether an error tears down the whole upload
// session, rejecting every notStarted item with the same kind.
func SessionTerminal(err error) bool {
	return errors.Is(err, ErrNoActiveSubscription) ||
		errors.Is(err, ErrStorageLimitExceeded) ||
		errors.Is(err, ErrSyncStopRequested)
}

// ExpectedUploadError reports whether an error is a normal user-visible
// outcome that should be logged without stack context.
func ExpectedUploadError(err error) bool {
	return SessionTerminal(err) ||
		errors.Is(err, ErrWiFiUnavailable) ||
		errors.Is(err, ErrFileTooLargeForPlan) ||
		errors.Is(err, ErrSilentlyCancelUploads) ||
		errors.Is(err, ErrLockAlreadyAcquired)
}

// UploadError wraps an upload error kind with file context.
type UploadError struct {
	// Err is the underlying error kind.
	Err error

	// LocalID identifies the affected file.
	LocalID string

	// Title is the file's display name, may be empty.
	Title string
}

// Error implements the error interface.
func (e *UploadError) Error() string {
	if e.Title != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Title, e.LocalID)
	}
	if e.LocalID != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.LocalID)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *UploadError) Unwrap() error {
	return e.Err
}

// NewUploadError creates an UploadError with file context.
func NewUploadError(err error, localID, title string) *UploadError {
	return &UploadError{Err: err, LocalID: localID, Title: title}
}
