package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrFull is returned by a pinned MemoryStore when every slot holds a live entry.
var ErrFull = errors.New("platform/cache: store full")

type memoryEntry struct {
	value   string
	expires time.Time
}

// MemoryStore is a bounded in-process Store for single-instance deployments and tests.
type MemoryStore struct {
	mu     sync.Mutex
	items  *lru.Cache[string, memoryEntry]
	size   int
	pinned bool
	now    func() time.Time
}

// NewMemoryStore creates a store holding at most size keys; the least recently used key is evicted first.
func NewMemoryStore(size int) (*MemoryStore, error) {
	items, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("platform/cache: memory store: %w", err)
	}
	return &MemoryStore{items: items, size: size, now: time.Now}, nil
}

// NewPinnedMemoryStore creates a store that never evicts a live entry. When all size slots
// are live, Set drops expired entries and fails with ErrFull if none was expired.
func NewPinnedMemoryStore(size int) (*MemoryStore, error) {
	store, err := NewMemoryStore(size)
	if err != nil {
		return nil, err
	}
	store.pinned = true
	return store, nil
}

// Get returns the live value stored under key or ErrMiss.
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.lookup(key)
	if !ok {
		return "", ErrMiss
	}
	return entry.value, nil
}

// Set stores value under key. A non-positive ttl keeps the key until evicted.
func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expires = s.now().Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pinned && !s.items.Contains(key) && s.items.Len() >= s.size {
		s.sweep()
		if s.items.Len() >= s.size {
			return fmt.Errorf("%w: %d live keys", ErrFull, s.size)
		}
	}
	s.items.Add(key, entry)
	return nil
}

// Exists reports whether a live entry is stored under key.
func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lookup(key)
	return ok, nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	s.items.Remove(key)
	s.mu.Unlock()
	return nil
}

// Flush removes every entry.
func (s *MemoryStore) Flush(context.Context) error {
	s.mu.Lock()
	s.items.Purge()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) lookup(key string) (memoryEntry, bool) {
	entry, ok := s.items.Get(key)
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expires.IsZero() && !s.now().Before(entry.expires) {
		s.items.Remove(key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (s *MemoryStore) sweep() {
	now := s.now()
	for _, key := range s.items.Keys() {
		entry, ok := s.items.Peek(key)
		if ok && !entry.expires.IsZero() && !now.Before(entry.expires) {
			s.items.Remove(key)
		}
	}
}

var _ Store = (*MemoryStore)(nil)
