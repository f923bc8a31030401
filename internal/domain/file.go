// Package domain contains the core business entities for the lumen-sync
// upload engine.
package domain

import "time"

// NoRemoteID is the sentinel for a file that has never been uploaded.
const NoRemoteID int64 = -1

// ReuploadSentinel marks a remote file whose content must be uploaded again.
// A file with a valid remote ID and UpdationTime == ReuploadSentinel is
// treated as an update rather than a fresh create.
const ReuploadSentinel int64 = -1

// FileType classifies a local media file.
type FileType int

const (
	FileTypeImage FileType = iota
	FileTypeVideo
	FileTypeLivePhoto
	FileTypeOther
)

func (t FileType) String() string {
	switch t {
	case FileTypeImage:
		return "image"
	case FileTypeVideo:
		return "video"
	case FileTypeLivePhoto:
		return "livePhoto"
	default:
		return "other"
	}
}

// File is a row of the local files catalog. It describes a device-local
// media item and, once uploaded, the remote record it maps to.
type File struct {
	// GeneratedID is the local database row identifier.
	GeneratedID int64

	// LocalID is the stable device-side identifier of the source file.
	// Empty for rows that were created from a remote-only record.
	LocalID string

	// Title is the display name, usually the original file name.
	Title string

	// Type classifies the file (image, video, live photo).
	Type FileType

	// CollectionID is the destination album on the server. Zero when the
	// row is not associated with a collection yet.
	CollectionID int64

	// OwnerID is the account that owns the remote record.
	OwnerID int64

	// UploadedFileID is the remote identifier assigned by the catalog
	// service, or NoRemoteID when the file was never uploaded.
	UploadedFileID int64

	// UpdationTime is the server-side modification timestamp in
	// microseconds. ReuploadSentinel flags a pending content re-upload.
	UpdationTime int64

	// Hash is the content hash of the source file, when known.
	Hash string

	// Metadata is the plaintext metadata map that gets encrypted and
	// attached to the remote record on upload.
	Metadata map[string]any

	// EncryptedKey and KeyDecryptionNonce hold the file key wrapped under
	// the collection key. Set after a successful create.
	EncryptedKey       string
	KeyDecryptionNonce string

	// FileDecryptionHeader and ThumbnailDecryptionHeader are the
	// base64-encoded secret-stream headers of the uploaded blobs.
	FileDecryptionHeader      string
	ThumbnailDecryptionHeader string

	// MetadataDecryptionHeader is the header of the encrypted metadata blob.
	MetadataDecryptionHeader string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasUploadedFile reports whether the file maps to a remote record.
func (f *File) HasUploadedFile() bool {
	return f.UploadedFileID > 0
}

// IsUpdate reports whether the file is a pending content re-upload of an
// existing remote record, as opposed to a fresh create.
func (f *File) IsUpdate() bool {
	return f.HasUploadedFile() && f.UpdationTime == ReuploadSentinel
}

// Clone returns a shallow copy with its own metadata map.
func (f *File) Clone() *File {
	c := *f
	if f.Metadata != nil {
		c.Metadata = make(map[string]any, len(f.Metadata))
		for k, v := range f.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
