package progress

import (
	"context"
	"fmt"
	"sync"
)

// Store persists progress records, one per (learner, course).
//
// Upsert is a compare-and-swap on Revision: the stored revision must equal
// rec.Revision (0 creates a new record), otherwise ErrConflict is returned
// and nothing is written. The returned record carries the new revision.
// Implementations hand out copies; callers never alias stored state.
type Store interface {
	Get(ctx context.Context, key Key) (*Record, error)
	Upsert(ctx context.Context, rec *Record) (*Record, error)
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	records map[Key]*Record
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory progress store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[Key]*Record),
	}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, key)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Upsert(_ context.Context, rec *Record) (*Record, error) {
	if rec == nil {
		return nil, fmt.Errorf("record is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	var current int64
	if existing, ok := s.records[key]; ok {
		current = existing.Revision
	}
	if current != rec.Revision {
		return nil, fmt.Errorf("%w: %s at revision %d, have %d", ErrConflict, key, current, rec.Revision)
	}

	stored := rec.Clone()
	stored.Revision = current + 1
	s.records[key] = stored
	return stored.Clone(), nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
