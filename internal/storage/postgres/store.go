package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/grove/internal/storage"
)

// Store implements storage.Store on a single kv_items table. Expired rows are
// invisible to every operation and are removed by the Sweeper.
type Store struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewStore creates a Store backed by the given pool.
//
// Precondition: db must be a valid, open connection pool with migrations applied.
func NewStore(db *pgxpool.Pool) *Store {
	return NewStoreWithClock(db, time.Now)
}

// NewStoreWithClock creates a Store whose expiry checks use now.
//
// Precondition: db and now must be non-nil.
func NewStoreWithClock(db *pgxpool.Pool, now func() time.Time) *Store {
	return &Store{db: db, now: now}
}

const liveClause = `(expires_at IS NULL OR expires_at > $3)`

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key storage.Key) (storage.Item, error) {
	var body []byte
	var expires *time.Time
	err := s.db.QueryRow(ctx, `
		SELECT body, expires_at FROM kv_items
		WHERE partition = $1 AND sort = $2 AND `+liveClause,
		key.Partition, key.Sort, s.now(),
	).Scan(&body, &expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Item{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Item{}, fmt.Errorf("selecting %s: %w", key, err)
	}
	return storage.Item{Key: key, Body: body, ExpiresAt: derefTime(expires)}, nil
}

// Put implements storage.Store.
func (s *Store) Put(ctx context.Context, key storage.Key, v any, ttl time.Duration) error {
	body, err := storage.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO kv_items (partition, sort, body, expires_at, updated_at)
		VALUES ($1, $2, $3::jsonb, $4, NOW())
		ON CONFLICT (partition, sort) DO UPDATE
		SET body = EXCLUDED.body, expires_at = EXCLUDED.expires_at, updated_at = NOW()`,
		key.Partition, key.Sort, string(body), nullTime(storage.ExpiryFor(s.now(), ttl)),
	)
	if err != nil {
		return fmt.Errorf("upserting %s: %w", key, err)
	}
	return nil
}

// Update implements storage.Store. The row is locked for the duration of the
// read-modify-write so concurrent updates serialize.
func (s *Store) Update(ctx context.Context, key storage.Key, muts ...storage.Mutation) (storage.Item, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return storage.Item{}, fmt.Errorf("beginning update of %s: %w", key, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current []byte
	var expires *time.Time
	err = tx.QueryRow(ctx, `
		SELECT body, expires_at FROM kv_items
		WHERE partition = $1 AND sort = $2 AND `+liveClause+`
		FOR UPDATE`,
		key.Partition, key.Sort, s.now(),
	).Scan(&current, &expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Item{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Item{}, fmt.Errorf("locking %s: %w", key, err)
	}

	body, err := storage.ApplyMutations(json.RawMessage(current), muts)
	if err != nil {
		return storage.Item{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE kv_items SET body = $3::jsonb, updated_at = NOW()
		WHERE partition = $1 AND sort = $2`,
		key.Partition, key.Sort, string(body),
	); err != nil {
		return storage.Item{}, fmt.Errorf("updating %s: %w", key, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return storage.Item{}, fmt.Errorf("committing update of %s: %w", key, err)
	}
	return storage.Item{Key: key, Body: body, ExpiresAt: derefTime(expires)}, nil
}

// Delete implements storage.Store. Exactly one of several concurrent callers
// observes a nil error.
func (s *Store) Delete(ctx context.Context, key storage.Key) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM kv_items
		WHERE partition = $1 AND sort = $2 AND `+liveClause,
		key.Partition, key.Sort, s.now(),
	)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Touch implements storage.Store.
func (s *Store) Touch(ctx context.Context, key storage.Key, ttl time.Duration) error {
	now := s.now()
	tag, err := s.db.Exec(ctx, `
		UPDATE kv_items SET expires_at = $4, updated_at = NOW()
		WHERE partition = $1 AND sort = $2 AND `+liveClause,
		key.Partition, key.Sort, now, nullTime(storage.ExpiryFor(now, ttl)),
	)
	if err != nil {
		return fmt.Errorf("touching %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Query implements storage.Store.
func (s *Store) Query(ctx context.Context, partition string, kind storage.Kind) ([]storage.Item, error) {
	rows, err := s.db.Query(ctx, `
		SELECT sort, body, expires_at FROM kv_items
		WHERE partition = $1 AND starts_with(sort, $2) AND `+liveClause+`
		ORDER BY sort ASC`,
		partition, storage.SortPrefix(kind), s.now(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying %s %s: %w", partition, kind, err)
	}
	defer rows.Close()

	var out []storage.Item
	for rows.Next() {
		var sortKey string
		var body []byte
		var expires *time.Time
		if err := rows.Scan(&sortKey, &body, &expires); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", partition, err)
		}
		out = append(out, storage.Item{
			Key:       storage.Key{Partition: partition, Sort: sortKey},
			Body:      body,
			ExpiresAt: derefTime(expires),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s rows: %w", partition, err)
	}
	return out, nil
}

// Ping implements storage.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("pinging postgres: %w", err)
	}
	return nil
}

// DeleteExpired removes every row whose expiry has passed.
//
// Postcondition: Returns the number of rows removed.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM kv_items WHERE expires_at IS NOT NULL AND expires_at <= $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("sweeping expired rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
