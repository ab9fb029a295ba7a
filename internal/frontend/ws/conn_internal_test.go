package ws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/grove/internal/push"
)

func TestEnqueue_FullBufferIsNotGone(t *testing.T) {
	c := newConn("c1", nil, 1, time.Second, time.Second)
	require.NoError(t, c.enqueue([]byte("a")))
	err := c.enqueue([]byte("b"))
	assert.True(t, errors.Is(err, ErrSendBufferFull))
	assert.False(t, errors.Is(err, push.ErrGone))
}

func TestEnqueue_ClosedIsGone(t *testing.T) {
	c := newConn("c1", nil, 4, time.Second, time.Second)
	c.Close()
	c.Close()
	assert.True(t, errors.Is(c.enqueue([]byte("a")), push.ErrGone))
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := NewHub()
	c := newConn("c1", nil, 1, time.Second, time.Second)
	hub.register(c)
	assert.Equal(t, 1, hub.Len())
	require.NoError(t, hub.PostToConnection(context.Background(), "c1", []byte("x")))
	assert.Equal(t, []byte("x"), <-c.send)

	// A stale handle must not evict a newer connection with the same id.
	replacement := newConn("c1", nil, 1, time.Second, time.Second)
	hub.register(replacement)
	hub.unregister(c)
	assert.Equal(t, 1, hub.Len())
	hub.unregister(replacement)
	assert.Equal(t, 0, hub.Len())
}
