package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/grove/internal/config"
)

// disconnectTimeout bounds the cleanup run after a client goes away.
const disconnectTimeout = 10 * time.Second

// Dispatcher processes the messages of a connection.
type Dispatcher interface {
	// Dispatch handles one inbound message. Calls for a single connection
	// never overlap.
	Dispatch(ctx context.Context, connID string, raw []byte)
	// Disconnect runs once after the connection's last message.
	Disconnect(ctx context.Context, connID string)
}

// Acceptor upgrades HTTP requests to WebSockets, registers each connection
// with the Hub, and feeds its messages to a Dispatcher.
type Acceptor struct {
	cfg        config.HTTPConfig
	hub        *Hub
	dispatcher Dispatcher
	upgrader   websocket.Upgrader
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewAcceptor creates an Acceptor.
//
// Precondition: hub, dispatcher, and logger must be non-nil; cfg.PongWait and
// cfg.SendBuffer must be > 0.
func NewAcceptor(cfg config.HTTPConfig, hub *Hub, dispatcher Dispatcher, logger *zap.Logger) *Acceptor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Acceptor{
		cfg:        cfg,
		hub:        hub,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ServeHTTP upgrades the request and serves the connection in the background.
func (a *Acceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()

	raw, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.wg.Done()
		a.logger.Debug("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}
	c := newConn(uuid.NewString(), raw, a.cfg.SendBuffer, a.cfg.WriteTimeout, a.cfg.PongWait)
	go a.serve(c, r.RemoteAddr)
}

// serve runs one connection until the client leaves or the acceptor stops.
func (a *Acceptor) serve(c *Conn, addr string) {
	defer a.wg.Done()
	start := time.Now()
	log := a.logger.With(zap.String("connection_id", c.id), zap.String("remote_addr", addr))
	log.Info("client connected")

	a.hub.register(c)
	go c.writeLoop()

	err := c.readLoop(func(raw []byte) {
		a.dispatcher.Dispatch(a.ctx, c.id, raw)
	})

	a.hub.unregister(c)
	c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	a.dispatcher.Disconnect(ctx, c.id)

	if err != nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
		!errors.Is(err, websocket.ErrCloseSent) {
		log.Debug("session ended", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}
	log.Info("session ended cleanly", zap.Duration("duration", time.Since(start)))
}

// Stop refuses new upgrades, closes every connection, and waits for their
// disconnect handling to finish.
//
// Postcondition: no connection goroutine started by ServeHTTP is running.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	a.cancel()
	a.hub.CloseAll()
	a.wg.Wait()
	a.logger.Info("websocket acceptor stopped")
}
