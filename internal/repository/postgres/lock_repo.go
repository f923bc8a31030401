package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prn-tf/lumen-sync/internal/domain"
	"github.com/prn-tf/lumen-sync/internal/repository"
)

// lockRepository implements repository.LockRepository on PostgreSQL.
type lockRepository struct {
	db *DB
}

// NewLockRepository creates a new PostgreSQL lock repository.
func NewLockRepository(db *DB) repository.LockRepository {
	return &lockRepository{db: db}
}

// Insert writes a lock record, failing with ErrLockExists when any record
// for localID is already present.
func (r *lockRepository) Insert(ctx context.Context, localID string, owner domain.ProcessType, acquiredAtMicro int64) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO file_locks (local_id, owner, acquired_at_micros) VALUES ($1, $2, $3)`,
		localID, string(owner), acquiredAtMicro)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return repository.ErrLockExists
		}
		return fmt.Errorf("failed to insert lock record: %w", err)
	}
	return nil
}

// Delete removes the record for localID if owned by owner.
func (r *lockRepository) Delete(ctx context.Context, localID string, owner domain.ProcessType) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM file_locks WHERE local_id = $1 AND owner = $2`,
		localID, string(owner))
	if err != nil {
		return fmt.Errorf("failed to delete lock record: %w", err)
	}
	return nil
}

// DeleteByOwnerBefore removes owner's records acquired before cutoffMicro.
func (r *lockRepository) DeleteByOwnerBefore(ctx context.Context, owner domain.ProcessType, cutoffMicro int64) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM file_locks WHERE owner = $1 AND acquired_at_micros < $2`,
		string(owner), cutoffMicro)
	if err != nil {
		return fmt.Errorf("failed to delete lock records by owner: %w", err)
	}
	return nil
}

// DeleteAllBefore removes every record acquired before cutoffMicro.
func (r *lockRepository) DeleteAllBefore(ctx context.Context, cutoffMicro int64) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM file_locks WHERE acquired_at_micros < $1`, cutoffMicro)
	if err != nil {
		return fmt.Errorf("failed to delete stale lock records: %w", err)
	}
	return nil
}

// Exists reports whether owner holds a record for localID.
func (r *lockRepository) Exists(ctx context.Context, localID string, owner domain.ProcessType) (bool, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(1) FROM file_locks WHERE local_id = $1 AND owner = $2`,
		localID, string(owner)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to probe lock record: %w", err)
	}
	return count > 0, nil
}
