// Package redis provides a Redis-backed lock table for daemon fleets that
// coordinate uploads across hosts. Like the PostgreSQL backend, only lock
// records live here; the files catalog always stays on-device.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/prn-tf/lumen-sync/internal/domain"
	"github.com/prn-tf/lumen-sync/internal/repository"
)

const lockKeyPrefix = "lumen:lock:file:"

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// lockRepository implements repository.LockRepository on Redis.
// Records are plain keys holding "owner:acquiredAtMicros"; acquisition uses
// SETNX so at most one process can hold a file.
type lockRepository struct {
	client *goredis.Client
}

// NewLockRepository creates a Redis lock repository.
func NewLockRepository(ctx context.Context, cfg Config) (repository.LockRepository, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrLockBackendUnavailable, err)
	}
	return &lockRepository{client: client}, nil
}

func lockKey(localID string) string {
	return lockKeyPrefix + localID
}

func encodeRecord(owner domain.ProcessType, acquiredAtMicro int64) string {
	return string(owner) + ":" + strconv.FormatInt(acquiredAtMicro, 10)
}

func decodeRecord(value string) (domain.ProcessType, int64, bool) {
	idx := strings.LastIndexByte(value, ':')
	if idx < 0 {
		return "", 0, false
	}
	micros, err := strconv.ParseInt(value[idx+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return domain.ProcessType(value[:idx]), micros, true
}

// Insert writes a lock record, failing with ErrLockExists when any record
// for localID is already present.
func (r *lockRepository) Insert(ctx context.Context, localID string, owner domain.ProcessType, acquiredAtMicro int64) error {
	ok, err := r.client.SetNX(ctx, lockKey(localID), encodeRecord(owner, acquiredAtMicro), 0).Result()
	if err != nil {
		return fmt.Errorf("failed to insert lock record: %w", err)
	}
	if !ok {
		return repository.ErrLockExists
	}
	return nil
}

// Delete removes the record for localID if owned by owner.
func (r *lockRepository) Delete(ctx context.Context, localID string, owner domain.ProcessType) error {
	// Check-and-delete; losing a race here only leaves the other process's
	// record in place, which is the desired outcome.
	value, err := r.client.Get(ctx, lockKey(localID)).Result()
	if err == goredis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read lock record: %w", err)
	}
	recOwner, _, ok := decodeRecord(value)
	if !ok || recOwner != owner {
		return nil
	}
	if err := r.client.Del(ctx, lockKey(localID)).Err(); err != nil {
		return fmt.Errorf("failed to delete lock record: %w", err)
	}
	return nil
}

// DeleteByOwnerBefore removes owner's records acquired before cutoffMicro.
func (r *lockRepository) DeleteByOwnerBefore(ctx context.Context, owner domain.ProcessType, cutoffMicro int64) error {
	return r.sweep(ctx, func(recOwner domain.ProcessType, micros int64) bool {
		return recOwner == owner && micros < cutoffMicro
	})
}

// DeleteAllBefore removes every record acquired before cutoffMicro.
func (r *lockRepository) DeleteAllBefore(ctx context.Context, cutoffMicro int64) error {
	return r.sweep(ctx, func(_ domain.ProcessType, micros int64) bool {
		return micros < cutoffMicro
	})
}

// Exists reports whether owner holds a record for localID.
func (r *lockRepository) Exists(ctx context.Context, localID string, owner domain.ProcessType) (bool, error) {
	value, err := r.client.Get(ctx, lockKey(localID)).Result()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to probe lock record: %w", err)
	}
	recOwner, _, ok := decodeRecord(value)
	return ok && recOwner == owner, nil
}

// sweep scans all lock keys and deletes those matching the predicate.
func (r *lockRepository) sweep(ctx context.Context, match func(domain.ProcessType, int64) bool) error {
	iter := r.client.Scan(ctx, 0, lockKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		value, err := r.client.Get(ctx, key).Result()
		if err == goredis.Nil {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read lock record during sweep: %w", err)
		}
		owner, micros, ok := decodeRecord(value)
		if !ok {
			continue
		}
		if match(owner, micros) {
			if err := r.client.Del(ctx, key).Err(); err != nil {
				return fmt.Errorf("failed to delete lock record during sweep: %w", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan lock records: %w", err)
	}
	return nil
}
