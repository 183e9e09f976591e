package tcp

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/vovakirdan/roomchat-server/internal/proto"
	"github.com/vovakirdan/roomchat-server/internal/session"
)

// Conn adapts a net.Conn to length-prefixed Message frames.
type Conn struct {
	conn     net.Conn
	r        *bufio.Reader
	maxFrame int

	closeOnce sync.Once
	closeErr  error
}

var _ session.Conn = (*Conn)(nil)

// NewConn wraps c; frames above maxFrame bytes are rejected.
func NewConn(c net.Conn, maxFrame int) *Conn {
	return &Conn{conn: c, r: bufio.NewReader(c), maxFrame: maxFrame}
}

// ReadMessage blocks for the next frame until the deadline of ctx.
func (c *Conn) ReadMessage(ctx context.Context) (*proto.Message, error) {
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	return proto.ReadFrame(c.r, c.maxFrame)
}

// WriteMessage writes msg as one frame before the deadline of ctx.
func (c *Conn) WriteMessage(ctx context.Context, msg *proto.Message) error {
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return proto.WriteFrame(c.conn, msg)
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
