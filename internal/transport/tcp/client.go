package tcp

import (
	"context"
	"fmt"
	"net"

	"github.com/vovakirdan/roomchat-server/internal/proto"
)

// Client is a minimal protocol client used by the control commands.
type Client struct {
	conn *Conn
}

// Dial connects to a server at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: NewConn(nc, proto.DefaultMaxFrameSize)}, nil
}

// Send writes one request.
func (c *Client) Send(ctx context.Context, msg *proto.Message) error {
	return c.conn.WriteMessage(ctx, msg)
}

// Receive reads the next message from the server.
func (c *Client) Receive(ctx context.Context) (*proto.Message, error) {
	return c.conn.ReadMessage(ctx)
}

// Request sends msg and returns the first message that is not a push.
func (c *Client) Request(ctx context.Context, msg *proto.Message) (*proto.Message, error) {
	if err := c.Send(ctx, msg); err != nil {
		return nil, err
	}
	for {
		resp, err := c.Receive(ctx)
		if err != nil {
			return nil, err
		}
		if !resp.Kind.IsPush() {
			return resp, nil
		}
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}
