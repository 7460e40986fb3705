package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultLRUCapacity is used when NewLRUStorage receives a non-positive size.
const DefaultLRUCapacity = 10_000

// LRUStorage is a bounded in-process Storage that evicts the least recently
// used entry when full. It ignores ttl: SupportsTTL reports false so the
// engine arms its own expiry timers for temporal entries.
//
// Only entries written with ttl > 0 count against the bound and can be
// evicted. Entries written without expiry (persistent values, child indexes
// and kind tags) are pinned until deleted.
type LRUStorage struct {
	mu      sync.RWMutex
	entries *lru.Cache[string, []byte]
	pinned  map[string][]byte
}

// NewLRUStorage creates a storage holding at most size expiring entries.
// onEvict, if non-nil, is called whenever an expiring entry leaves the
// storage, including explicit deletes. It must not call back into the storage.
func NewLRUStorage(size int, onEvict func(key string)) (*LRUStorage, error) {
	if size <= 0 {
		size = DefaultLRUCapacity
	}

	var (
		entries *lru.Cache[string, []byte]
		err     error
	)
	if onEvict != nil {
		entries, err = lru.NewWithEvict(size, func(key string, _ []byte) { onEvict(key) })
	} else {
		entries, err = lru.New[string, []byte](size)
	}
	if err != nil {
		return nil, errors.Join(ErrNilStorage, err)
	}
	return &LRUStorage{entries: entries, pinned: make(map[string][]byte)}, nil
}

// Get returns a copy of the stored value and marks it recently used.
func (s *LRUStorage) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	v, ok := s.pinned[key]
	if !ok {
		v, ok = s.entries.Get(key)
	}
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

// Set stores a copy of value. A positive ttl makes the entry evictable; the
// duration itself is ignored.
func (s *LRUStorage) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	cp := make([]byte, len(value))
	copy(cp, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl <= 0 {
		s.entries.Remove(key)
		s.pinned[key] = cp
		return nil
	}
	delete(s.pinned, key)
	s.entries.Add(key, cp)
	return nil
}

// Delete removes a value.
func (s *LRUStorage) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pinned[key]; ok {
		delete(s.pinned, key)
		return true, nil
	}
	return s.entries.Remove(key), nil
}

// Has reports presence without updating recency.
func (s *LRUStorage) Has(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.pinned[key]; ok {
		return true, nil
	}
	return s.entries.Contains(key), nil
}

// SupportsTTL reports that ttl passed to Set is not honored.
func (s *LRUStorage) SupportsTTL() bool { return false }

// Len returns the number of stored entries, pinned ones included.
func (s *LRUStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.Len() + len(s.pinned)
}

var (
	_ Storage     = (*LRUStorage)(nil)
	_ TTLReporter = (*LRUStorage)(nil)
)
