package idempotency

import (
	"context"
	"sync"
	"time"

	domain "bnpl-engine/internal/domain/idempotency"
)

var _ domain.Store = (*MemoryStore)(nil)

// MemoryStore keeps entries in process. Used when Redis is not configured
// and in engine tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	entry     domain.Entry
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]memEntry{}, now: time.Now}
}

func (s *MemoryStore) live(key string) (memEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return e, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return e, false
	}
	return e, true
}

func (s *MemoryStore) Reserve(_ context.Context, key string, entry domain.Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.entries[key] = memEntry{entry: entry, expiresAt: s.now().Add(provisionalLockTTL)}
	return true, nil
}

func (s *MemoryStore) Load(_ context.Context, key string) (domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return domain.Entry{}, domain.ErrEntryNotFound
	}
	return e.entry, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, entry domain.Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	me := memEntry{entry: entry}
	if ttl > 0 {
		me.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = me
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
