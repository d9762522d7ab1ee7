package ws

import (
	"sync"

	"github.com/dkeye/Chat/internal/core"
	"github.com/gorilla/websocket"
)

// WsConn is the outbound half of a chat socket. Frames are queued on a bounded
// channel drained by writePump; TrySend never blocks.
type WsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func NewWsConn(conn *websocket.Conn, buffer int) *WsConn {
	if buffer <= 0 {
		buffer = 256
	}
	return &WsConn{
		conn: conn,
		send: make(chan core.Frame, buffer),
	}
}

func (c *WsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

// Close is idempotent. It stops the queue and closes the socket, which also
// unblocks a pending read.
func (c *WsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *WsConn) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
