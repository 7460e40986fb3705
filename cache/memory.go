package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStorage is an unbounded in-process Storage with native TTL.
// Expired entries are dropped lazily on access.
type MemoryStorage struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// Get returns a copy of the stored value. Returns (nil, false, nil) on miss or expiry.
func (s *MemoryStorage) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if entry.expired(s.now()) {
		s.evictExpired(key)
		return nil, false, nil
	}

	cp := make([]byte, len(entry.value))
	copy(cp, entry.value)
	return cp, true, nil
}

// Set stores a copy of value. ttl <= 0 stores without expiry.
func (s *MemoryStorage) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	cp := make([]byte, len(value))
	copy(cp, value)

	entry := &memoryEntry{value: cp}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

// Delete removes a value. Idempotent.
func (s *MemoryStorage) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	delete(s.entries, key)
	return !entry.expired(s.now()), nil
}

// Has reports whether a live value is stored under key.
func (s *MemoryStorage) Has(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if entry.expired(s.now()) {
		s.evictExpired(key)
		return false, nil
	}
	return true, nil
}

// SupportsTTL reports native TTL support.
func (s *MemoryStorage) SupportsTTL() bool { return true }

// Len returns the number of stored entries, including expired ones not yet evicted.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear removes every entry.
func (s *MemoryStorage) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]*memoryEntry)
	s.mu.Unlock()
}

// evictExpired removes key if it is still expired under the write lock.
func (s *MemoryStorage) evictExpired(key string) {
	s.mu.Lock()
	if entry, ok := s.entries[key]; ok && entry.expired(s.now()) {
		delete(s.entries, key)
	}
	s.mu.Unlock()
}

var (
	_ Storage     = (*MemoryStorage)(nil)
	_ TTLReporter = (*MemoryStorage)(nil)
)
