package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/ws-audio-echo/internal/session"
)

// wsConn adapts a gorilla connection to session.Conn. gorilla allows one
// concurrent writer, so writes are serialized.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func newWSConn(ws *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{ws: ws, writeTimeout: writeTimeout}
}

func (c *wsConn) SendBinary(ctx context.Context, data []byte) error {
	return c.send(ctx, websocket.BinaryMessage, data)
}

func (c *wsConn) SendText(ctx context.Context, data []byte) error {
	return c.send(ctx, websocket.TextMessage, data)
}

func (c *wsConn) send(ctx context.Context, messageType int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return websocket.ErrCloseSent
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}

// Close sends a going-away close frame and closes the socket. It is safe to
// call more than once.
func (c *wsConn) Close() error {
	return c.closeWith(websocket.CloseGoingAway, "server shutdown")
}

// closeWith sends one close frame with code and reason, then closes the
// socket. Only the first close of a connection writes a frame.
func (c *wsConn) closeWith(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

var _ session.Conn = (*wsConn)(nil)
