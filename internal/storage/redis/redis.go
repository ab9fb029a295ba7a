// Package redis provides the Redis-backed storage.Store used in production.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/cory-johannsen/grove/internal/config"
	"github.com/cory-johannsen/grove/internal/storage"
)

const (
	keyPrefix      = "grove:"
	scanBatch      = 200
	maxTxnAttempts = 100
)

// Store implements storage.Store on a Redis server. Items are JSON strings
// with native key expiry; updates run as WATCH/MULTI optimistic transactions.
type Store struct {
	client *goredis.Client
}

// NewClient connects to Redis and verifies the connection with PING.
//
// Postcondition: returns a live client or a non-nil error.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Address, err)
	}
	return client, nil
}

// New wraps an existing client.
//
// Precondition: client must be non-nil.
func New(client *goredis.Client) *Store {
	return &Store{client: client}
}

func redisKey(k storage.Key) string {
	return keyPrefix + k.String()
}

func parseRedisKey(s string) (storage.Key, error) {
	return storage.ParseKey(strings.TrimPrefix(s, keyPrefix))
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key storage.Key) (storage.Item, error) {
	rk := redisKey(key)
	pipe := s.client.Pipeline()
	get := pipe.Get(ctx, rk)
	ttl := pipe.PTTL(ctx, rk)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return storage.Item{}, fmt.Errorf("redis get %s: %w", key, err)
	}
	body, err := get.Bytes()
	if errors.Is(err, goredis.Nil) {
		return storage.Item{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Item{}, fmt.Errorf("redis get %s: %w", key, err)
	}
	return storage.Item{Key: key, Body: body, ExpiresAt: expiryFromTTL(ttl.Val())}, nil
}

// Put implements storage.Store.
func (s *Store) Put(ctx context.Context, key storage.Key, v any, ttl time.Duration) error {
	body, err := storage.Marshal(v)
	if err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, redisKey(key), []byte(body), ttl).Err(); err != nil {
		return fmt.Errorf("redis put %s: %w", key, err)
	}
	return nil
}

// Update implements storage.Store.
func (s *Store) Update(ctx context.Context, key storage.Key, muts ...storage.Mutation) (storage.Item, error) {
	rk := redisKey(key)
	var out storage.Item
	txn := func(tx *goredis.Tx) error {
		current, err := tx.Get(ctx, rk).Bytes()
		if errors.Is(err, goredis.Nil) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		ttl, err := tx.PTTL(ctx, rk).Result()
		if err != nil {
			return err
		}
		body, err := storage.ApplyMutations(current, muts)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, rk, []byte(body), goredis.KeepTTL)
			return nil
		})
		if err != nil {
			return err
		}
		out = storage.Item{Key: key, Body: body, ExpiresAt: expiryFromTTL(ttl)}
		return nil
	}

	for attempt := 0; attempt < maxTxnAttempts; attempt++ {
		err := s.client.Watch(ctx, txn, rk)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Item{}, err
		}
		return storage.Item{}, fmt.Errorf("redis update %s: %w", key, err)
	}
	return storage.Item{}, fmt.Errorf("redis update %s: %w", key, storage.ErrConflict)
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, key storage.Key) error {
	n, err := s.client.Del(ctx, redisKey(key)).Result()
	if err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Touch implements storage.Store.
func (s *Store) Touch(ctx context.Context, key storage.Key, ttl time.Duration) error {
	rk := redisKey(key)
	if ttl > 0 {
		ok, err := s.client.PExpire(ctx, rk, ttl).Result()
		if err != nil {
			return fmt.Errorf("redis touch %s: %w", key, err)
		}
		if !ok {
			return storage.ErrNotFound
		}
		return nil
	}
	// PERSIST reports false both for a missing key and for a key without
	// expiry, so existence is checked separately.
	pipe := s.client.TxPipeline()
	exists := pipe.Exists(ctx, rk)
	pipe.Persist(ctx, rk)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis touch %s: %w", key, err)
	}
	if exists.Val() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Ping implements storage.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

// Query implements storage.Store using SCAN with a prefix MATCH pattern.
func (s *Store) Query(ctx context.Context, partition string, kind storage.Kind) ([]storage.Item, error) {
	prefix := keyPrefix + partition + "|" + storage.SortPrefix(kind)
	pattern := escapeGlob(prefix) + "*"
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan %s: %w", pattern, err)
		}
		for _, k := range batch {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	gets := make([]*goredis.StringCmd, len(keys))
	ttls := make([]*goredis.DurationCmd, len(keys))
	for i, k := range keys {
		gets[i] = pipe.Get(ctx, k)
		ttls[i] = pipe.PTTL(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("redis query %s: %w", partition, err)
	}

	seen := make(map[string]bool, len(keys))
	out := make([]storage.Item, 0, len(keys))
	for i, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		body, err := gets[i].Bytes()
		if errors.Is(err, goredis.Nil) {
			// Expired between SCAN and GET.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis query %s: %w", k, err)
		}
		key, err := parseRedisKey(k)
		if err != nil {
			return nil, err
		}
		out = append(out, storage.Item{Key: key, Body: body, ExpiresAt: expiryFromTTL(ttls[i].Val())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Sort < out[j].Key.Sort })
	return out, nil
}

// expiryFromTTL converts a PTTL reply into an absolute expiry; keys without
// an expiry report a non-positive TTL.
func expiryFromTTL(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
