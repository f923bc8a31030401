package lock

import (
	"context"
	"sync"

	"github.com/prn-tf/lumen-sync/internal/domain"
	"github.com/prn-tf/lumen-sync/internal/repository"
)

// MemoryRepository implements repository.LockRepository in memory.
// The records are NOT shared across processes, so this is only suitable for
// tests and single-process runs where no background task exists.
type MemoryRepository struct {
	mu    sync.Mutex
	locks map[string]*memoryRecord
}

// memoryRecord represents a single lock record.
type memoryRecord struct {
	owner           domain.ProcessType
	acquiredAtMicro int64
}

// NewMemoryRepository creates a new in-memory lock repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		locks: make(map[string]*memoryRecord),
	}
}

// Insert writes a lock record, failing when one already exists.
func (m *MemoryRepository) Insert(ctx context.Context, localID string, owner domain.ProcessType, acquiredAtMicro int64) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.locks[localID]; exists {
		return repository.ErrLockExists
	}
	m.locks[localID] = &memoryRecord{owner: owner, acquiredAtMicro: acquiredAtMicro}
	return nil
}

// Delete removes the record for localID if owned by owner.
func (m *MemoryRepository) Delete(ctx context.Context, localID string, owner domain.ProcessType) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, exists := m.locks[localID]; exists && rec.owner == owner {
		delete(m.locks, localID)
	}
	return nil
}

// DeleteByOwnerBefore removes owner's records acquired before cutoffMicro.
func (m *MemoryRepository) DeleteByOwnerBefore(ctx context.Context, owner domain.ProcessType, cutoffMicro int64) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for localID, rec := range m.locks {
		if rec.owner == owner && rec.acquiredAtMicro < cutoffMicro {
			delete(m.locks, localID)
		}
	}
	return nil
}

// DeleteAllBefore removes every record acquired before cutoffMicro.
func (m *MemoryRepository) DeleteAllBefore(ctx context.Context, cutoffMicro int64) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for localID, rec := range m.locks {
		if rec.acquiredAtMicro < cutoffMicro {
			delete(m.locks, localID)
		}
	}
	return nil
}

// Exists reports whether owner holds a record for localID.
func (m *MemoryRepository) Exists(ctx context.Context, localID string, owner domain.ProcessType) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.locks[localID]
	return exists && rec.owner == owner, nil
}

// Ensure MemoryRepository implements LockRepository.
var _ repository.LockRepository = (*MemoryRepository)(nil)
