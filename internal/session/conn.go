package session

import (
	"context"

	"github.com/vovakirdan/roomchat-server/internal/proto"
)

// Conn is a framed, message-oriented connection provided by a transport.
//
// ReadMessage must honour the deadline of ctx and may return errors wrapping
// proto.ErrMalformed or proto.ErrFrameTooLarge, after which the connection is
// still usable. Any other error ends the session. Close must unblock a
// pending ReadMessage.
type Conn interface {
	ReadMessage(ctx context.Context) (*proto.Message, error)
	WriteMessage(ctx context.Context, msg *proto.Message) error
	Close() error
	RemoteAddr() string
}
