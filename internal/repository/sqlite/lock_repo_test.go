package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/lumen-sync/internal/domain"
	"github.com/prn-tf/lumen-sync/internal/repository"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	db, err := NewDB(ctx, DefaultConfig(":memory:"), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLockRepositorySingleHolder(t *testing.T) {
	ctx := context.Background()
	repo := NewLockRepository(newTestDB(t))

	now := time.Now().UnixMicro()
	require.NoError(t, repo.Insert(ctx, "LA", domain.ProcessForeground, now))

	// Second insert for the same file fails regardless of owner.
	err := repo.Insert(ctx, "LA", domain.ProcessBackground, now)
	require.ErrorIs(t, err, repository.ErrLockExists)
	err = repo.Insert(ctx, "LA", domain.ProcessForeground, now)
	require.ErrorIs(t, err, repository.ErrLockExists)

	held, err := repo.Exists(ctx, "LA", domain.ProcessForeground)
	require.NoError(t, err)
	require.True(t, held)

	held, err = repo.Exists(ctx, "LA", domain.ProcessBackground)
	require.NoError(t, err)
	require.False(t, held)
}

func TestLockRepositoryDeleteIsOwnerScoped(t *testing.T) {
	ctx := context.Background()
	repo := NewLockRepository(newTestDB(t))

	now := time.Now().UnixMicro()
	require.NoError(t, repo.Insert(ctx, "LA", domain.ProcessForeground, now))

	// Foreign delete is a no-op.
	require.NoError(t, repo.Delete(ctx, "LA", domain.ProcessBackground))
	held, err := repo.Exists(ctx, "LA", domain.ProcessForeground)
	require.NoError(t, err)
	require.True(t, held)

	require.NoError(t, repo.Delete(ctx, "LA", domain.ProcessForeground))
	held, err = repo.Exists(ctx, "LA", domain.ProcessForeground)
	require.NoError(t, err)
	require.False(t, held)

	// Absent record delete is a no-op.
	require.NoError(t, repo.Delete(ctx, "LA", domain.ProcessForeground))
}

func TestLockRepositoryStalenessCutoff(t *testing.T) {
	ctx := context.Background()
	repo := NewLockRepository(newTestDB(t))

	expiry := 24 * time.Hour
	now := time.Now()

	// Just over the expiry window vs just under it.
	stale := now.Add(-expiry - time.Second).UnixMicro()
	fresh := now.Add(-expiry + time.Second).UnixMicro()

	require.NoError(t, repo.Insert(ctx, "stale", domain.ProcessBackground, stale))
	require.NoError(t, repo.Insert(ctx, "fresh", domain.ProcessBackground, fresh))

	cutoff := now.Add(-expiry).UnixMicro()
	require.NoError(t, repo.DeleteAllBefore(ctx, cutoff))

	held, err := repo.Exists(ctx, "stale", domain.ProcessBackground)
	require.NoError(t, err)
	require.False(t, held)

	held, err = repo.Exists(ctx, "fresh", domain.ProcessBackground)
	require.NoError(t, err)
	require.True(t, held)
}

func TestLockRepositoryDeleteByOwnerBefore(t *testing.T) {
	ctx := context.Background()
	repo := NewLockRepository(newTestDB(t))

	now := time.Now().UnixMicro()
	require.NoError(t, repo.Insert(ctx, "fg", domain.ProcessForeground, now-10))
	require.NoError(t, repo.Insert(ctx, "bg", domain.ProcessBackground, now-10))

	require.NoError(t, repo.DeleteByOwnerBefore(ctx, domain.ProcessForeground, now))

	held, err := repo.Exists(ctx, "fg", domain.ProcessForeground)
	require.NoError(t, err)
	require.False(t, held)

	held, err = repo.Exists(ctx, "bg", domain.ProcessBackground)
	require.NoError(t, err)
	require.True(t, held)
}
