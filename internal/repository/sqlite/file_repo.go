package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prn-tf/lumen-sync/internal/domain"
	"github.com/prn-tf/lumen-sync/internal/repository"
)

// fileRepository implements repository.FileRepository for SQLite.
type fileRepository struct {
	db *DB
}

// NewFileRepository creates a new SQLite file repository.
func NewFileRepository(db *DB) repository.FileRepository {
	return &fileRepository{db: db}
}

const fileColumns = `generated_id, local_id, title, file_type, collection_id, owner_id,
	uploaded_file_id, updation_time, hash, metadata, encrypted_key, key_decryption_nonce,
	file_decryption_header, thumbnail_decryption_header, metadata_decryption_header,
	created_at, updated_at`

// Insert creates a new file row and writes the generated id back.
func (r *fileRepository) Insert(ctx context.Context, file *domain.File) error {
	metadata, err := marshalMetadata(file.Metadata)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO files (local_id, title, file_type, collection_id, owner_id,
			uploaded_file_id, updation_time, hash, metadata, encrypted_key,
			key_decryption_nonce, file_decryption_header, thumbnail_decryption_header,
			metadata_decryption_header, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, query,
		file.LocalID, file.Title, int(file.Type), file.CollectionID, file.OwnerID,
		file.UploadedFileID, file.UpdationTime, file.Hash, metadata, file.EncryptedKey,
		file.KeyDecryptionNonce, file.FileDecryptionHeader, file.ThumbnailDecryptionHeader,
		file.MetadataDecryptionHeader, now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert file: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get generated id: %w", err)
	}
	file.GeneratedID = id
	file.CreatedAt = now
	file.UpdatedAt = now
	return nil
}

// GetByGeneratedID retrieves a file by its local row id.
func (r *fileRepository) GetByGeneratedID(ctx context.Context, generatedID int64) (*domain.File, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE generated_id = ?`, generatedID)
	return scanFile(row)
}

// GetByLocalID retrieves the first row with the given device identifier.
func (r *fileRepository) GetByLocalID(ctx context.Context, localID string) (*domain.File, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE local_id = ? ORDER BY generated_id LIMIT 1`, localID)
	return scanFile(row)
}

// Update persists all mutable fields of an existing row.
func (r *fileRepository) Update(ctx context.Context, file *domain.File) error {
	metadata, err := marshalMetadata(file.Metadata)
	if err != nil {
		return err
	}

	query := `
		UPDATE files SET local_id = ?, title = ?, file_type = ?, collection_id = ?,
			owner_id = ?, uploaded_file_id = ?, updation_time = ?, hash = ?, metadata = ?,
			encrypted_key = ?, key_decryption_nonce = ?, file_decryption_header = ?,
			thumbnail_decryption_header = ?, metadata_decryption_header = ?, updated_at = ?
		WHERE generated_id = ?
	`
	res, err := r.db.ExecContext(ctx, query,
		file.LocalID, file.Title, int(file.Type), file.CollectionID, file.OwnerID,
		file.UploadedFileID, file.UpdationTime, file.Hash, metadata,
		file.EncryptedKey, file.KeyDecryptionNonce, file.FileDecryptionHeader,
		file.ThumbnailDecryptionHeader, file.MetadataDecryptionHeader,
		time.Now().UTC().Format(time.RFC3339), file.GeneratedID,
	)
	if err != nil {
		return fmt.Errorf("failed to update file: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete removes a row by generated id.
func (r *fileRepository) Delete(ctx context.Context, generatedID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE generated_id = ?`, generatedID)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// GetUploadedFilesWithHashes returns remote-present rows owned by ownerID
// matching type and any of the hashes, in insertion order.
func (r *fileRepository) GetUploadedFilesWithHashes(ctx context.Context, hashes []string, fileType domain.FileType, ownerID int64) ([]*domain.File, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(hashes))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, 0, len(hashes)+2)
	for _, h := range hashes {
		args = append(args, h)
	}
	args = append(args, int(fileType), ownerID)

	query := `SELECT ` + fileColumns + ` FROM files
		WHERE hash IN (` + placeholders + `)
		AND file_type = ? AND owner_id = ?
		AND uploaded_file_id > 0 AND is_invalid = 0
		ORDER BY generated_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query files by hash: %w", err)
	}
	defer rows.Close()

	var files []*domain.File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// UpdateAcrossCollections propagates uploaded fields to every row sharing
// the file's remote id.
func (r *fileRepository) UpdateAcrossCollections(ctx context.Context, file *domain.File) error {
	if !file.HasUploadedFile() {
		return fmt.Errorf("file %d has no uploaded file id", file.GeneratedID)
	}

	query := `
		UPDATE files SET updation_time = ?, hash = ?,
			file_decryption_header = ?, thumbnail_decryption_header = ?,
			metadata_decryption_header = ?, updated_at = ?
		WHERE uploaded_file_id = ?
	`
	_, err := r.db.ExecContext(ctx, query,
		file.UpdationTime, file.Hash, file.FileDecryptionHeader,
		file.ThumbnailDecryptionHeader, file.MetadataDecryptionHeader,
		time.Now().UTC().Format(time.RFC3339), file.UploadedFileID,
	)
	if err != nil {
		return fmt.Errorf("failed to update across collections: %w", err)
	}
	return nil
}

// MarkInvalid flags a row the media extractor rejected.
func (r *fileRepository) MarkInvalid(ctx context.Context, generatedID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE files SET is_invalid = 1, updated_at = ? WHERE generated_id = ?`,
		time.Now().UTC().Format(time.RFC3339), generatedID)
	if err != nil {
		return fmt.Errorf("failed to mark file invalid: %w", err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanFile maps one result row to a domain.File.
func scanFile(row rowScanner) (*domain.File, error) {
	var (
		f         domain.File
		fileType  int
		metadata  string
		createdAt string
		updatedAt string
	)
	err := row.Scan(
		&f.GeneratedID, &f.LocalID, &f.Title, &fileType, &f.CollectionID, &f.OwnerID,
		&f.UploadedFileID, &f.UpdationTime, &f.Hash, &metadata, &f.EncryptedKey,
		&f.KeyDecryptionNonce, &f.FileDecryptionHeader, &f.ThumbnailDecryptionHeader,
		&f.MetadataDecryptionHeader, &createdAt, &updatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan file: %w", err)
	}

	f.Type = domain.FileType(fileType)
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &f.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode file metadata: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		f.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		f.UpdatedAt = t
	}
	return &f, nil
}

// marshalMetadata encodes the metadata map for storage.
func marshalMetadata(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode file metadata: %w", err)
	}
	return string(data), nil
}
