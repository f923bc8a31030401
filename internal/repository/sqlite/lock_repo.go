package sqlite

import (
	"context"
	"fmt"

	"github.com/prn-tf/lumen-sync/internal/domain"
	"github.com/prn-tf/lumen-sync/internal/repository"
)

// lockRepository implements repository.LockRepository for SQLite.
// The file_locks primary key enforces at most one active record per file,
// across both processes sharing the database.
type lockRepository struct {
	db *DB
}

// NewLockRepository creates a new SQLite lock repository.
func NewLockRepository(db *DB) repository.LockRepository {
	return &lockRepository{db: db}
}

// Insert writes a lock record, failing with ErrLockExists when any record
// for localID is already present.
func (r *lockRepository) Insert(ctx context.Context, localID string, owner domain.ProcessType, acquiredAtMicro int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO file_locks (local_id, owner, acquired_at_micros) VALUES (?, ?, ?)`,
		localID, string(owner), acquiredAtMicro)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrLockExists
		}
		return fmt.Errorf("failed to insert lock record: %w", err)
	}
	return nil
}

// Delete removes the record for localID if owned by owner.
func (r *lockRepository) Delete(ctx context.Context, localID string, owner domain.ProcessType) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM file_locks WHERE local_id = ? AND owner = ?`,
		localID, string(owner))
	if err != nil {
		return fmt.Errorf("failed to delete lock record: %w", err)
	}
	return nil
}

// DeleteByOwnerBefore removes owner's records acquired before cutoffMicro.
func (r *lockRepository) DeleteByOwnerBefore(ctx context.Context, owner domain.ProcessType, cutoffMicro int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM file_locks WHERE owner = ? AND acquired_at_micros < ?`,
		string(owner), cutoffMicro)
	if err != nil {
		return fmt.Errorf("failed to delete lock records by owner: %w", err)
	}
	return nil
}

// DeleteAllBefore removes every record acquired before cutoffMicro.
func (r *lockRepository) DeleteAllBefore(ctx context.Context, cutoffMicro int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM file_locks WHERE acquired_at_micros < ?`, cutoffMicro)
	if err != nil {
		return fmt.Errorf("failed to delete stale lock records: %w", err)
	}
	return nil
}

// Exists reports whether owner holds a record for localID.
func (r *lockRepository) Exists(ctx context.Context, localID string, owner domain.ProcessType) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM file_locks WHERE local_id = ? AND owner = ?`,
		localID, string(owner)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to probe lock record: %w", err)
	}
	return count > 0, nil
}
