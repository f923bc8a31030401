// Package media turns a catalog row into the concrete bytes an upload needs:
// a readable source path, a thumbnail, and content hashes.
package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/prn-tf/lumen-sync/internal/domain"
	"github.com/prn-tf/lumen-sync/internal/pkg/crypto"
)

// UploadData is everything the worker needs to upload one file.
type UploadData struct {
	// SourcePath points at the plaintext bytes to encrypt and upload.
	SourcePath string

	// IsSourceTemp marks SourcePath as a copy owned by the engine. Temp
	// copies are deleted after the upload attempt, originals never are.
	IsSourceTemp bool

	// Thumbnail is the plaintext thumbnail blob.
	Thumbnail []byte

	// FileHash is the blake2b content hash of the source file.
	FileHash string

	// ZipHash is the hash of the motion component of a live photo, empty
	// for plain images and videos.
	ZipHash string

	// Size is the source file size in bytes.
	Size int64

	// IsDeleted reports that the original local file disappeared between
	// enqueue and extraction; the upload proceeds from the temp copy but
	// the row must not keep claiming a local identifier.
	IsDeleted bool
}

// Extractor produces upload data for a catalog row. Implementations return
// domain.ErrInvalidFile (possibly wrapped) when the source cannot yield a
// valid upload, which is terminal for the item.
type Extractor interface {
	Extract(ctx context.Context, file *domain.File) (*UploadData, error)
}

// FilesystemExtractor resolves local IDs to paths under a media root and
// builds thumbnails from sidecar files when present.
type FilesystemExtractor struct {
	root      string
	thumbRoot string
	logger    zerolog.Logger
}

// NewFilesystemExtractor creates an extractor rooted at mediaRoot. Sidecar
// thumbnails are looked up under thumbRoot by local ID.
func NewFilesystemExtractor(mediaRoot, thumbRoot string, logger zerolog.Logger) *FilesystemExtractor {
	return &FilesystemExtractor{
		root:      mediaRoot,
		thumbRoot: thumbRoot,
		logger:    logger.With().Str("service", "media").Logger(),
	}
}

// Extract stats the source, hashes it and loads the thumbnail.
func (e *FilesystemExtractor) Extract(ctx context.Context, file *domain.File) (*UploadData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if file.LocalID == "" {
		return nil, domain.NewUploadError(domain.ErrInvalidFile, file.LocalID, file.Title)
	}

	srcPath := filepath.Join(e.root, filepath.FromSlash(file.LocalID))
	info, err := os.Stat(srcPath)
	if err != nil {
		return nil, domain.NewUploadError(
			fmt.Errorf("%w: %v", domain.ErrInvalidFile, err), file.LocalID, file.Title)
	}
	if info.IsDir() || info.Size() == 0 {
		return nil, domain.NewUploadError(domain.ErrInvalidFile, file.LocalID, file.Title)
	}

	hash, size, err := crypto.HashFile(srcPath)
	if err != nil {
		return nil, domain.NewUploadError(
			fmt.Errorf("%w: %v", domain.ErrInvalidFile, err), file.LocalID, file.Title)
	}

	data := &UploadData{
		SourcePath: srcPath,
		FileHash:   hash,
		Size:       size,
	}

	if file.Type == domain.FileTypeLivePhoto {
		zipHash, _, err := crypto.HashFile(srcPath + ".mov")
		if err != nil {
			return nil, domain.NewUploadError(
				fmt.Errorf("%w: missing motion component: %v", domain.ErrInvalidFile, err),
				file.LocalID, file.Title)
		}
		data.ZipHash = zipHash
	}

	thumb, err := e.loadThumbnail(file.LocalID)
	if err != nil {
		return nil, domain.NewUploadError(
			fmt.Errorf("%w: %v", domain.ErrInvalidFile, err), file.LocalID, file.Title)
	}
	data.Thumbnail = thumb

	return data, nil
}

// loadThumbnail reads the sidecar thumbnail, falling back to a leading slice
// of the source when no sidecar exists. Servers require a thumbnail object
// on every create, so there is always one.
func (e *FilesystemExtractor) loadThumbnail(localID string) ([]byte, error) {
	sidecar := filepath.Join(e.thumbRoot, filepath.FromSlash(localID)+".thumb")
	if thumb, err := os.ReadFile(sidecar); err == nil && len(thumb) > 0 {
		return thumb, nil
	}

	src, err := os.Open(filepath.Join(e.root, filepath.FromSlash(localID)))
	if err != nil {
		return nil, err
	}
	defer src.Close()

	const fallbackThumbSize = 32 * 1024
	buf := make([]byte, fallbackThumbSize)
	n, err := src.Read(buf)
	if n == 0 && err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Ensure FilesystemExtractor implements Extractor.
var _ Extractor = (*FilesystemExtractor)(nil)
