// Package ws accepts WebSocket clients and delivers server messages to them.
package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cory-johannsen/grove/internal/push"
)

// ErrSendBufferFull is returned when a connection's outbound queue has no room.
// The connection is still alive; the message is dropped.
var ErrSendBufferFull = errors.New("ws: send buffer full")

// maxMessageSize bounds a single inbound frame.
const maxMessageSize = 16 * 1024

// Conn is one client WebSocket. Reads happen on the acceptor's read loop;
// writes are queued and drained by a dedicated write loop.
type Conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once

	writeTimeout time.Duration
	pongWait     time.Duration
}

func newConn(id string, raw *websocket.Conn, buffer int, writeTimeout, pongWait time.Duration) *Conn {
	return &Conn{
		id:           id,
		ws:           raw,
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		pongWait:     pongWait,
	}
}

// ID returns the connection id assigned at upgrade.
func (c *Conn) ID() string { return c.id }

// enqueue queues payload for the write loop without blocking.
//
// Postcondition: returns push.ErrGone once the connection is closed and
// ErrSendBufferFull when the queue is full.
func (c *Conn) enqueue(payload []byte) error {
	select {
	case <-c.done:
		return push.ErrGone
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return push.ErrGone
	default:
		return ErrSendBufferFull
	}
}

// readLoop hands every text frame to fn in arrival order until the peer
// disconnects or stops answering pings.
func (c *Conn) readLoop(fn func(raw []byte)) error {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
	})
	for {
		kind, raw, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}
		fn(raw)
	}
}

// writeLoop drains the send queue and pings the peer well inside pongWait.
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.pongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}

// Close marks the connection done. The write loop sends a close frame and
// releases the socket, which ends the read loop. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
