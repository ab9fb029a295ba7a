package ws

import (
	"context"
	"fmt"
	"sync"

	"github.com/cory-johannsen/grove/internal/observability"
	"github.com/cory-johannsen/grove/internal/push"
)

// Hub tracks the live connections of this process and implements
// push.Channel over them.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]*Conn)}
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	observability.ConnectionsActive.Inc()
}

func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	current, ok := h.conns[c.id]
	if ok && current == c {
		delete(h.conns, c.id)
	}
	h.mu.Unlock()
	if ok && current == c {
		observability.ConnectionsActive.Dec()
	}
}

// PostToConnection implements push.Channel.
//
// Postcondition: returns push.ErrGone for an unknown or closed connection
// and ErrSendBufferFull when its queue is full.
func (h *Hub) PostToConnection(_ context.Context, connID string, payload []byte) error {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("connection %s: %w", connID, push.ErrGone)
	}
	if err := c.enqueue(payload); err != nil {
		return fmt.Errorf("connection %s: %w", connID, err)
	}
	return nil
}

// Len returns the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll closes every registered connection.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.Close()
	}
}
