// Package cache holds the advisory, in-process caches used to avoid repeated
// store queries. Correctness never depends on a cache hit; Noop is always a
// valid substitute.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ConnectionCache caches the connection ids present in a room.
type ConnectionCache interface {
	// Get returns the cached connection list for room, if present and fresh.
	Get(roomID string) ([]string, bool)
	// Set replaces the cached connection list for room.
	Set(roomID string, connIDs []string)
	// Invalidate drops the cached list for room.
	Invalidate(roomID string)
}

// StaleSet remembers connection ids known to be gone so broadcasts can skip
// them without a failed push.
type StaleSet interface {
	Mark(connID string)
	IsStale(connID string) bool
}

// ConnectionLRU is a size-bounded ConnectionCache whose entries expire after a
// fixed TTL.
type ConnectionLRU struct {
	lru *expirable.LRU[string, []string]
}

// NewConnectionLRU creates a ConnectionLRU.
//
// Precondition: size must be > 0; ttl must be > 0.
func NewConnectionLRU(size int, ttl time.Duration) *ConnectionLRU {
	return &ConnectionLRU{lru: expirable.NewLRU[string, []string](size, nil, ttl)}
}

// Get implements ConnectionCache. The returned slice is a copy.
func (c *ConnectionLRU) Get(roomID string) ([]string, bool) {
	ids, ok := c.lru.Get(roomID)
	if !ok {
		return nil, false
	}
	return append([]string(nil), ids...), true
}

// Set implements ConnectionCache.
func (c *ConnectionLRU) Set(roomID string, connIDs []string) {
	c.lru.Add(roomID, append([]string(nil), connIDs...))
}

// Invalidate implements ConnectionCache.
func (c *ConnectionLRU) Invalidate(roomID string) {
	c.lru.Remove(roomID)
}

// StaleLRU is a size-bounded StaleSet whose marks expire after a fixed TTL.
type StaleLRU struct {
	lru *expirable.LRU[string, struct{}]
}

// NewStaleLRU creates a StaleLRU.
//
// Precondition: size must be > 0; ttl must be > 0.
func NewStaleLRU(size int, ttl time.Duration) *StaleLRU {
	return &StaleLRU{lru: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// Mark implements StaleSet.
func (s *StaleLRU) Mark(connID string) {
	s.lru.Add(connID, struct{}{})
}

// IsStale implements StaleSet.
func (s *StaleLRU) IsStale(connID string) bool {
	return s.lru.Contains(connID)
}

// Noop implements both ConnectionCache and StaleSet and never stores anything.
type Noop struct{}

// Get implements ConnectionCache.
func (Noop) Get(string) ([]string, bool) { return nil, false }

// Set implements ConnectionCache.
func (Noop) Set(string, []string) {}

// Invalidate implements ConnectionCache.
func (Noop) Invalidate(string) {}

// Mark implements StaleSet.
func (Noop) Mark(string) {}

// IsStale implements StaleSet.
func (Noop) IsStale(string) bool { return false }
