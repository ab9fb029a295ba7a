// Package push delivers server messages to client connections.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cory-johannsen/grove/internal/cache"
	"github.com/cory-johannsen/grove/internal/observability"
)

// ErrGone reports that the target connection no longer exists. A gone
// connection is never retried; its records should be purged.
var ErrGone = errors.New("push: connection gone")

// Channel posts a payload to one connection.
type Channel interface {
	// PostToConnection delivers payload to connID. Returns ErrGone (possibly
	// wrapped) when the connection no longer exists.
	PostToConnection(ctx context.Context, connID string, payload []byte) error
}

// Failure records one connection a broadcast could not reach.
type Failure struct {
	ConnectionID string
	Gone         bool
	Err          error
}

// Report summarizes a settled broadcast.
type Report struct {
	Sent     int
	Skipped  int
	Failures []Failure
}

// GoneFunc is invoked once for every connection found to be gone.
type GoneFunc func(ctx context.Context, connID string)

// Broadcaster fans a message out to many connections in parallel and waits
// for every send to settle. One failed send never affects the others.
type Broadcaster struct {
	ch     Channel
	stale  cache.StaleSet
	limit  int
	logger *zap.Logger

	mu     sync.RWMutex
	onGone GoneFunc
}

// NewBroadcaster creates a Broadcaster.
//
// Precondition: ch, stale, and logger must be non-nil; limit must be >= 1.
func NewBroadcaster(ch Channel, stale cache.StaleSet, limit int, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{ch: ch, stale: stale, limit: limit, logger: logger}
}

// OnGone registers fn to be called for each connection reported gone.
func (b *Broadcaster) OnGone(fn GoneFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onGone = fn
}

// Send marshals msg and posts it to a single connection.
//
// Postcondition: a gone connection is marked stale and OnGone fires before
// ErrGone is returned.
func (b *Broadcaster) Send(ctx context.Context, connID string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding push message: %w", err)
	}
	return b.post(ctx, connID, payload)
}

// Broadcast marshals msg once and posts it to every connection in connIDs.
// Duplicate ids are sent once; ids in the stale set are skipped.
//
// Postcondition: every send has settled when Broadcast returns. The error is
// non-nil only when msg cannot be encoded.
func (b *Broadcaster) Broadcast(ctx context.Context, connIDs []string, msg any) (Report, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return Report{}, fmt.Errorf("encoding push message: %w", err)
	}

	var (
		report Report
		mu     sync.Mutex
		g      errgroup.Group
		seen   = make(map[string]struct{}, len(connIDs))
	)
	g.SetLimit(b.limit)
	for _, id := range connIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if b.stale.IsStale(id) {
			report.Skipped++
			continue
		}
		g.Go(func() error {
			err := b.post(ctx, id, payload)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failures = append(report.Failures, Failure{
					ConnectionID: id,
					Gone:         errors.Is(err, ErrGone),
					Err:          err,
				})
				return nil
			}
			report.Sent++
			return nil
		})
	}
	_ = g.Wait()
	return report, nil
}

func (b *Broadcaster) post(ctx context.Context, connID string, payload []byte) error {
	err := b.ch.PostToConnection(ctx, connID, payload)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrGone) {
		observability.PushFailures.WithLabelValues(observability.KindGone).Inc()
		b.stale.Mark(connID)
		b.mu.RLock()
		fn := b.onGone
		b.mu.RUnlock()
		if fn != nil {
			fn(ctx, connID)
		}
		b.logger.Debug("connection gone", zap.String("connection_id", connID))
		return err
	}
	observability.PushFailures.WithLabelValues(observability.KindError).Inc()
	b.logger.Warn("push failed", zap.String("connection_id", connID), zap.Error(err))
	return err
}
