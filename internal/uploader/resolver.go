package uploader

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/prn-tf/lumen-sync/internal/domain"
	"github.com/prn-tf/lumen-sync/internal/media"
	"github.com/prn-tf/lumen-sync/internal/repository"
)

// Resolver decides whether a candidate upload can be satisfied by a remote
// record that already holds the same content, avoiding a re-upload.
type Resolver struct {
	files   repository.FileRepository
	linker  *Linker
	ownerID int64
	logger  zerolog.Logger
}

// NewResolver creates a mapping resolver for ownerID's files.
func NewResolver(files repository.FileRepository, linker *Linker, ownerID int64, logger zerolog.Logger) *Resolver {
	return &Resolver{
		files:   files,
		linker:  linker,
		ownerID: ownerID,
		logger:  logger.With().Str("service", "resolver").Logger(),
	}
}

// Resolve returns true when the candidate was mapped onto an existing remote
// record and must not be uploaded. The cases are ranked; within a case, the
// first match in query order wins:
//
//  1. same localID, same collection: the candidate row is a duplicate of the
//     match, delete it and skip.
//  2. same collection, match has no localID: stamp the match with the
//     candidate's localID, delete the candidate row, skip.
//  3. match lives in a different collection: link the uploaded file into the
//     target collection and skip.
//
// Matches that carry a different, non-empty localID in the same collection
// are treated as device-side duplicates: upload anew.
func (r *Resolver) Resolve(ctx context.Context, candidate *domain.File, data *media.UploadData, collectionID int64) (bool, error) {
	// Already-uploaded candidates were short-circuited upstream; seeing one
	// here means proceed normally.
	if candidate.HasUploadedFile() {
		return false, nil
	}

	hashes := []string{data.FileHash}
	if candidate.Type == domain.FileTypeLivePhoto && data.ZipHash != "" {
		hashes = append(hashes, data.ZipHash)
	}

	matches, err := r.files.GetUploadedFilesWithHashes(ctx, hashes, candidate.Type, r.ownerID)
	if err != nil {
		return false, err
	}
	if len(matches) == 0 {
		return false, nil
	}

	for _, match := range matches {
		if match.CollectionID == collectionID && match.LocalID == candidate.LocalID {
			if err := r.files.Delete(ctx, candidate.GeneratedID); err != nil {
				return false, err
			}
			r.logger.Info().
				Str("local_id", candidate.LocalID).
				Int64("uploaded_file_id", match.UploadedFileID).
				Msg("candidate already uploaded in target collection, dropped duplicate row")
			return true, nil
		}
	}

	for _, match := range matches {
		if match.CollectionID == collectionID && match.LocalID == "" {
			match.LocalID = candidate.LocalID
			if err := r.files.Update(ctx, match); err != nil {
				return false, err
			}
			if err := r.files.Delete(ctx, candidate.GeneratedID); err != nil {
				return false, err
			}
			r.logger.Info().
				Str("local_id", candidate.LocalID).
				Int64("uploaded_file_id", match.UploadedFileID).
				Msg("stamped local id onto existing uploaded record")
			return true, nil
		}
	}

	for _, match := range matches {
		if match.CollectionID != collectionID {
			if _, err := r.linker.Link(ctx, candidate, match, collectionID); err != nil {
				return false, err
			}
			return true, nil
		}
	}

	// All matches carry a different non-empty localID in the same
	// collection: likely distinct device copies of identical content.
	return false, nil
}
