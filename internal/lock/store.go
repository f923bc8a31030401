// Package lock provides the cross-process per-file lock store.
// The foreground daemon and the background task never share memory; mutual
// exclusion at file granularity comes entirely from persisted lock records
// in a shared backend (SQLite by default, PostgreSQL or Redis for fleets).
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/lumen-sync/internal/domain"
	"github.com/prn-tf/lumen-sync/internal/repository"
)

// HeartbeatKey is the settings key the background process stamps while it
// is alive. A missed beat longer than the death timeout lets the foreground
// reclaim background-owned locks at startup.
const HeartbeatKey = "LastBGTaskHeartBeatTime"

// Store layers ownership and staleness policy over a LockRepository.
type Store struct {
	repo     repository.LockRepository
	settings repository.SettingsRepository
	process  domain.ProcessType
	expiry   time.Duration
	death    time.Duration
	logger   zerolog.Logger
}

// Config contains lock store settings.
type Config struct {
	// Process tags every record this store acquires.
	Process domain.ProcessType

	// Expiry is the global staleness window for lock records.
	Expiry time.Duration

	// DeathTimeout is how long the background heartbeat may be silent
	// before its locks are reclaimed.
	DeathTimeout time.Duration
}

// DefaultConfig returns sensible defaults for a foreground process.
func DefaultConfig() Config {
	return Config{
		Process:      domain.ProcessForeground,
		Expiry:       24 * time.Hour,
		DeathTimeout: 5 * time.Second,
	}
}

// NewStore creates a lock store bound to one process identity.
func NewStore(repo repository.LockRepository, settings repository.SettingsRepository, cfg Config, logger zerolog.Logger) *Store {
	return &Store{
		repo:     repo,
		settings: settings,
		process:  cfg.Process,
		expiry:   cfg.Expiry,
		death:    cfg.DeathTimeout,
		logger:   logger.With().Str("service", "lock").Str("process", string(cfg.Process)).Logger(),
	}
}

// Process returns the process identity this store acquires under.
func (s *Store) Process() domain.ProcessType {
	return s.process
}

// Acquire takes the lock for localID on behalf of this process.
// Returns domain.ErrLockAlreadyAcquired when any active record exists.
func (s *Store) Acquire(ctx context.Context, localID string) error {
	err := s.repo.Insert(ctx, localID, s.process, time.Now().UnixMicro())
	if err != nil {
		if errors.Is(err, repository.ErrLockExists) {
			return domain.ErrLockAlreadyAcquired
		}
		return err
	}
	return nil
}

// Release drops this process's lock for localID. Absent or foreign records
// are left untouched.
func (s *Store) Release(ctx context.Context, localID string) error {
	return s.repo.Delete(ctx, localID, s.process)
}

// IsLockedBy reports whether owner currently holds localID.
func (s *Store) IsLockedBy(ctx context.Context, localID string, owner domain.ProcessType) (bool, error) {
	return s.repo.Exists(ctx, localID, owner)
}

// ReleaseLocksAcquiredByOwnerBefore bulk-releases owner's records acquired
// before cutoffMicro. Used for crash recovery at process start.
func (s *Store) ReleaseLocksAcquiredByOwnerBefore(ctx context.Context, owner domain.ProcessType, cutoffMicro int64) error {
	return s.repo.DeleteByOwnerBefore(ctx, owner, cutoffMicro)
}

// ReleaseAllLocksAcquiredBefore sweeps globally expired records.
func (s *Store) ReleaseAllLocksAcquiredBefore(ctx context.Context, cutoffMicro int64) error {
	return s.repo.DeleteAllBefore(ctx, cutoffMicro)
}

// SweepAtStartup applies the foreground startup policy:
// release own locks left over from a previous run, sweep globally expired
// records, then reclaim background-owned locks if the background process
// has missed its heartbeat for longer than the death timeout.
func (s *Store) SweepAtStartup(ctx context.Context) error {
	now := time.Now()

	if err := s.repo.DeleteByOwnerBefore(ctx, s.process, now.UnixMicro()); err != nil {
		return err
	}

	if err := s.repo.DeleteAllBefore(ctx, now.Add(-s.expiry).UnixMicro()); err != nil {
		return err
	}

	if s.process != domain.ProcessForeground {
		return nil
	}

	beat, err := s.settings.GetInt64(ctx, HeartbeatKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Background process never ran; nothing to reclaim.
			return nil
		}
		return err
	}

	silence := now.UnixMicro() - beat
	if silence > s.death.Microseconds() {
		s.logger.Info().
			Int64("silence_micros", silence).
			Msg("background heartbeat missed, reclaiming its locks")
		return s.repo.DeleteByOwnerBefore(ctx, domain.ProcessBackground, now.UnixMicro())
	}
	return nil
}

// StampHeartbeat records that the background process is alive.
func (s *Store) StampHeartbeat(ctx context.Context) error {
	return s.settings.SetInt64(ctx, HeartbeatKey, time.Now().UnixMicro())
}
