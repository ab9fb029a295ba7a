package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a key is absent or its item has expired.
var ErrNotFound = errors.New("storage: item not found")

// ErrConflict is returned when an optimistic update lost a race too many times.
var ErrConflict = errors.New("storage: concurrent modification")

// Item is a stored document.
type Item struct {
	Key  Key
	Body json.RawMessage
	// ExpiresAt is the zero time for items that never expire.
	ExpiresAt time.Time
}

// Decode unmarshals the item body into v.
func (i Item) Decode(v any) error {
	if err := json.Unmarshal(i.Body, v); err != nil {
		return fmt.Errorf("decoding %s: %w", i.Key, err)
	}
	return nil
}

// Expired reports whether the item has passed its expiry at now.
func (i Item) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// Store is the persistence collaborator.
//
// Implementations MUST be safe for concurrent use and MUST hide expired items
// from every operation.
type Store interface {
	// Get returns the item at key or ErrNotFound.
	Get(ctx context.Context, key Key) (Item, error)
	// Put writes v (JSON encoded) at key, replacing any existing item.
	// A ttl of zero stores the item without expiry.
	Put(ctx context.Context, key Key, v any, ttl time.Duration) error
	// Update applies muts atomically to the existing item and returns the
	// updated item. The item's expiry is preserved. Returns ErrNotFound when
	// the key is absent.
	Update(ctx context.Context, key Key, muts ...Mutation) (Item, error)
	// Delete removes the item at key. Returns ErrNotFound when the key was
	// already absent, which lets callers use Delete as an atomic claim.
	Delete(ctx context.Context, key Key) error
	// Touch resets the expiry of an existing item to ttl from now without
	// changing its body. A ttl of zero removes the expiry. Returns
	// ErrNotFound when the key is absent.
	Touch(ctx context.Context, key Key, ttl time.Duration) error
	// Query returns every live item in partition whose sort key starts with
	// the kind prefix, ordered by sort key.
	Query(ctx context.Context, partition string, kind Kind) ([]Item, error)
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// Marshal encodes v for storage, passing through values that are already
// raw JSON.
func Marshal(v any) (json.RawMessage, error) {
	switch b := v.(type) {
	case json.RawMessage:
		return b, nil
	case []byte:
		return json.RawMessage(b), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("storage: encoding value: %w", err)
	}
	return data, nil
}

// ExpiryFor returns the absolute expiry for ttl measured from now, or the zero
// time when ttl is not positive.
func ExpiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
