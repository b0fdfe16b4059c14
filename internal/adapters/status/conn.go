package status

import (
	"errors"
	"sync"

	"github.com/dkeye/roomlink/internal/core"
	"github.com/gorilla/websocket"
)

var ErrConnClosed = errors.New("connection closed")

// WsConn is one observer's websocket with a bounded send queue.
type WsConn struct {
	id   string
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*WsConn)(nil)

func newWsConn(id string, ws *websocket.Conn, buffer int) *WsConn {
	return &WsConn{id: id, conn: ws, send: make(chan core.Frame, buffer)}
}

func (c *WsConn) ID() string { return c.id }

func (c *WsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}
