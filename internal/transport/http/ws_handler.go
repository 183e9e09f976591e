package http

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat-server/internal/proto"
	"github.com/vovakirdan/roomchat-server/internal/session"
)

// WSHandler upgrades HTTP connections and runs a protocol session on each.
type WSHandler struct {
	sessions *session.Manager
	maxFrame int
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(sessions *session.Manager, maxFrame int, logger *zerolog.Logger) stdhttp.Handler {
	if maxFrame <= 0 {
		maxFrame = proto.DefaultMaxFrameSize
	}
	return &WSHandler{sessions: sessions, maxFrame: maxFrame, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	conn.SetReadLimit(int64(h.maxFrame))

	h.sessions.Serve(r.Context(), &wsConn{conn: conn, remote: r.RemoteAddr})
}

// wsConn carries one JSON Message per websocket text frame.
type wsConn struct {
	conn   *websocket.Conn
	remote string
}

var _ session.Conn = (*wsConn)(nil)

func (c *wsConn) ReadMessage(ctx context.Context) (*proto.Message, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageText {
		return nil, fmt.Errorf("%w: binary frame", proto.ErrMalformed)
	}
	return proto.Decode(data)
}

func (c *wsConn) WriteMessage(ctx context.Context, msg *proto.Message) error {
	return wsjson.Write(ctx, c.conn, msg)
}

func (c *wsConn) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "closing")
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return nil
	}
	return err
}

func (c *wsConn) RemoteAddr() string { return c.remote }
