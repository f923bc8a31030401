// Package repository defines data access interfaces for lumen-sync.
// These interfaces abstract database operations, allowing for different
// implementations (SQLite for on-device state, PostgreSQL or Redis for
// shared lock tables, mocks for testing) while keeping the upload engine
// clean.
package repository

import (
	"context"

	"github.com/prn-tf/lumen-sync/internal/domain"
)

// =============================================================================
// File Repository
// =============================================================================

// FileRepository is the local files catalog: every media item known on this
// device and, for uploaded items, the remote record it maps to.
type FileRepository interface {
	// Insert creates a new file row. The GeneratedID is assigned by the
	// store and written back to the struct.
	Insert(ctx context.Context, file *domain.File) error

	// GetByGeneratedID retrieves a file by its local row id.
	// Returns ErrNotFound if no such row exists.
	GetByGeneratedID(ctx context.Context, generatedID int64) (*domain.File, error)

	// GetByLocalID retrieves the first file row with the given device-side
	// identifier.
	GetByLocalID(ctx context.Context, localID string) (*domain.File, error)

	// Update persists all mutable fields of an existing row.
	Update(ctx context.Context, file *domain.File) error

	// Delete removes a row by generated id.
	Delete(ctx context.Context, generatedID int64) error

	// GetUploadedFilesWithHashes returns remote-present rows owned by
	// ownerID whose type matches and whose hash is any of hashes, in
	// insertion order.
	GetUploadedFilesWithHashes(ctx context.Context, hashes []string, fileType domain.FileType, ownerID int64) ([]*domain.File, error)

	// UpdateAcrossCollections propagates the uploaded fields of file to
	// every row sharing its UploadedFileID, regardless of collection.
	UpdateAcrossCollections(ctx context.Context, file *domain.File) error

	// MarkInvalid flags a row the media extractor rejected so it is not
	// offered for upload again.
	MarkInvalid(ctx context.Context, generatedID int64) error
}

// =============================================================================
// Lock Repository
// =============================================================================

// LockRepository persists per-file advisory lock records shared between the
// foreground and background processes. Implementations must reject a second
// insert for the same localID with ErrLockExists.
type LockRepository interface {
	// Insert writes a lock record. Returns ErrLockExists when any record
	// for localID is already present.
	Insert(ctx context.Context, localID string, owner domain.ProcessType, acquiredAtMicro int64) error

	// Delete removes the record for localID if it is owned by owner.
	// Absent or foreign records are left untouched.
	Delete(ctx context.Context, localID string, owner domain.ProcessType) error

	// DeleteByOwnerBefore removes every record of owner acquired strictly
	// before cutoffMicro.
	DeleteByOwnerBefore(ctx context.Context, owner domain.ProcessType, cutoffMicro int64) error

	// DeleteAllBefore removes every record acquired strictly before
	// cutoffMicro regardless of owner.
	DeleteAllBefore(ctx context.Context, cutoffMicro int64) error

	// Exists reports whether owner holds a record for localID.
	Exists(ctx context.Context, localID string, owner domain.ProcessType) (bool, error)
}

// =============================================================================
// Settings Repository
// =============================================================================

// SettingsRepository is a small persisted key-value store shared between
// the two processes (background heartbeat, cursors).
type SettingsRepository interface {
	// GetInt64 returns the stored value, or ErrNotFound.
	GetInt64(ctx context.Context, key string) (int64, error)

	// SetInt64 stores or replaces the value for key.
	SetInt64(ctx context.Context, key string, value int64) error
}
