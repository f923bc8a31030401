package uploader

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prn-tf/lumen-sync/internal/domain"
	"github.com/prn-tf/lumen-sync/internal/pkg/crypto"
	"github.com/prn-tf/lumen-sync/internal/repository"
)

// CollectionService is what the engine needs from the collections client.
type CollectionService interface {
	GetCollectionKey(ctx context.Context, collectionID int64) ([]byte, error)
	AddToCollection(ctx context.Context, collectionID, fileID int64, encryptedKey, keyDecryptionNonce string) error
}

// Linker maps an already-uploaded file into another collection: it recovers
// the file key from the source record, re-wraps it under the destination
// collection key, registers the mapping remotely and persists it locally.
type Linker struct {
	files       repository.FileRepository
	collections CollectionService
	logger      zerolog.Logger
}

// NewLinker creates a collection linker.
func NewLinker(files repository.FileRepository, collections CollectionService, logger zerolog.Logger) *Linker {
	return &Linker{
		files:       files,
		collections: collections,
		logger:      logger.With().Str("service", "linker").Logger(),
	}
}

// Link points candidate at the remote record of uploaded, inside
// collectionID. candidate is mutated and persisted; the returned record is
// the candidate after linking.
func (l *Linker) Link(ctx context.Context, candidate, uploaded *domain.File, collectionID int64) (*domain.File, error) {
	fileKey, err := l.recoverFileKey(ctx, uploaded)
	if err != nil {
		return nil, err
	}

	dstKey, err := l.collections.GetCollectionKey(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	sealed, nonce, err := crypto.WrapKey(fileKey, dstKey)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap file key: %w", err)
	}
	encryptedKey := base64.StdEncoding.EncodeToString(sealed)
	keyNonce := base64.StdEncoding.EncodeToString(nonce)

	if err := l.collections.AddToCollection(ctx, collectionID, uploaded.UploadedFileID, encryptedKey, keyNonce); err != nil {
		return nil, err
	}

	candidate.UploadedFileID = uploaded.UploadedFileID
	candidate.OwnerID = uploaded.OwnerID
	candidate.CollectionID = collectionID
	candidate.UpdationTime = uploaded.UpdationTime
	candidate.EncryptedKey = encryptedKey
	candidate.KeyDecryptionNonce = keyNonce
	candidate.FileDecryptionHeader = uploaded.FileDecryptionHeader
	candidate.ThumbnailDecryptionHeader = uploaded.ThumbnailDecryptionHeader
	candidate.MetadataDecryptionHeader = uploaded.MetadataDecryptionHeader
	if candidate.Hash == "" {
		candidate.Hash = uploaded.Hash
	}

	if err := l.files.Update(ctx, candidate); err != nil {
		return nil, err
	}

	l.logger.Info().
		Str("local_id", candidate.LocalID).
		Int64("uploaded_file_id", uploaded.UploadedFileID).
		Int64("collection_id", collectionID).
		Msg("linked local file to existing uploaded file")
	return candidate, nil
}

// recoverFileKey unwraps a record's file key using its collection key.
func (l *Linker) recoverFileKey(ctx context.Context, file *domain.File) ([]byte, error) {
	srcKey, err := l.collections.GetCollectionKey(ctx, file.CollectionID)
	if err != nil {
		return nil, err
	}
	sealed, err := base64.StdEncoding.DecodeString(file.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted key: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(file.KeyDecryptionNonce)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key nonce: %w", err)
	}
	fileKey, err := crypto.UnwrapKey(sealed, nonce, srcKey)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap file key: %w", err)
	}
	return fileKey, nil
}
