package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in development mode and tests.
// Expired items are removed lazily on access.
type MemoryStore struct {
	mu    sync.Mutex
	items map[Key]Item
	now   func() time.Time
}

// NewMemoryStore returns an empty MemoryStore using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock returns an empty MemoryStore reading time from now.
//
// Precondition: now must be non-nil.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{items: make(map[Key]Item), now: now}
}

// getLocked returns the live item at key, evicting it if expired.
func (s *MemoryStore) getLocked(key Key) (Item, bool) {
	it, ok := s.items[key]
	if !ok {
		return Item{}, false
	}
	if it.Expired(s.now()) {
		delete(s.items, key)
		return Item{}, false
	}
	return it, true
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key Key) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.getLocked(key)
	if !ok {
		return Item{}, ErrNotFound
	}
	return cloneItem(it), nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, key Key, v any, ttl time.Duration) error {
	body, err := Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = Item{Key: key, Body: append([]byte(nil), body...), ExpiresAt: ExpiryFor(s.now(), ttl)}
	return nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, key Key, muts ...Mutation) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.getLocked(key)
	if !ok {
		return Item{}, ErrNotFound
	}
	body, err := ApplyMutations(it.Body, muts)
	if err != nil {
		return Item{}, err
	}
	it.Body = body
	s.items[key] = it
	return cloneItem(it), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.getLocked(key); !ok {
		return ErrNotFound
	}
	delete(s.items, key)
	return nil
}

// Touch implements Store.
func (s *MemoryStore) Touch(_ context.Context, key Key, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.getLocked(key)
	if !ok {
		return ErrNotFound
	}
	it.ExpiresAt = ExpiryFor(s.now(), ttl)
	s.items[key] = it
	return nil
}

// Query implements Store.
func (s *MemoryStore) Query(_ context.Context, partition string, kind Kind) ([]Item, error) {
	prefix := SortPrefix(kind)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Item
	for key := range s.items {
		if key.Partition != partition || !strings.HasPrefix(key.Sort, prefix) {
			continue
		}
		if it, ok := s.getLocked(key); ok {
			out = append(out, cloneItem(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Sort < out[j].Key.Sort })
	return out, nil
}

// Ping implements Store. A MemoryStore is always reachable.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Len returns the number of live items. Intended for tests.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.items {
		if _, ok := s.getLocked(key); ok {
			n++
		}
	}
	return n
}

func cloneItem(it Item) Item {
	it.Body = append([]byte(nil), it.Body...)
	return it
}
