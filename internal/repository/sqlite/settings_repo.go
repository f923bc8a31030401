package sqlite

import (
	"context"
	"fmt"

	"github.com/prn-tf/lumen-sync/internal/repository"
)

// settingsRepository implements repository.SettingsRepository for SQLite.
type settingsRepository struct {
	db *DB
}

// NewSettingsRepository creates a new SQLite settings repository.
func NewSettingsRepository(db *DB) repository.SettingsRepository {
	return &settingsRepository{db: db}
}

// GetInt64 returns the stored value for key, or ErrNotFound.
func (r *settingsRepository) GetInt64(ctx context.Context, key string) (int64, error) {
	var value int64
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if isNoRows(err) {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("failed to read setting %q: %w", key, err)
	}
	return value, nil
}

// SetInt64 stores or replaces the value for key.
func (r *settingsRepository) SetInt64(ctx context.Context, key string, value int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write setting %q: %w", key, err)
	}
	return nil
}
