package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat-server/internal/proto"
)

const (
	unexpectedFailure = "Unexpected failure"
	reloginNotice     = "Please, re-login on the server"
)

// HandlerFunc handles one request and returns exactly one response.
type HandlerFunc func(ctx context.Context, s *Session, msg *proto.Message) *proto.Message

// Dispatcher routes requests to handlers by operation kind.
type Dispatcher struct {
	handlers map[proto.Kind]HandlerFunc
	log      *zerolog.Logger
}

// NewDispatcher builds the dispatch table for h.
func NewDispatcher(h *Handlers, logger *zerolog.Logger) *Dispatcher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "dispatcher").Logger()
	d := &Dispatcher{handlers: make(map[proto.Kind]HandlerFunc), log: &l}

	if h == nil {
		return d
	}
	d.Handle(proto.KindAuth, h.handleAuth)
	d.Handle(proto.KindRegistration, h.handleRegistration)
	d.Handle(proto.KindMessage, h.handleMessage)
	d.Handle(proto.KindCreateRoom, h.handleCreateRoom)
	d.Handle(proto.KindDeleteRoom, h.handleDeleteRoom)
	d.Handle(proto.KindInviteClient, h.handleInvite)
	d.Handle(proto.KindUninviteClient, h.handleUninvite)
	d.Handle(proto.KindRoomList, h.handleRoomList)
	d.Handle(proto.KindRoomMembers, h.handleRoomMembers)
	d.Handle(proto.KindMessageHistory, h.handleMessageHistory)
	d.Handle(proto.KindGetClientName, h.handleGetClientName)
	d.Handle(proto.KindClientBan, h.handleBan)
	d.Handle(proto.KindClientUnban, h.handleUnban)
	d.Handle(proto.KindStopServer, h.handleStop)
	d.Handle(proto.KindRestartServer, h.handleRestart)
	d.Handle(proto.KindAddFriend, h.handleAddFriend)
	d.Handle(proto.KindRemoveFriend, h.handleRemoveFriend)
	d.Handle(proto.KindFriendList, h.handleFriendList)
	return d
}

// Handle registers fn for kind, replacing any previous handler.
func (d *Dispatcher) Handle(kind proto.Kind, fn HandlerFunc) {
	d.handlers[kind] = fn
}

// Dispatch runs the handler for msg and writes its response. Exactly one
// response is written per request. A successful registration is followed by
// a re-login notice and the end of the session.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, msg *proto.Message) {
	resp := d.invoke(ctx, s, msg)

	if err := s.Send(resp); err != nil {
		d.log.Debug().Err(err).Str("session_id", s.SessionID()).Str("kind", string(msg.Kind)).Msg("failed to send response")
	}
	if fn := s.takeAfterReply(); fn != nil {
		fn()
	}

	if msg.Kind == proto.KindRegistration && resp.Kind == proto.KindAccepted {
		s.Kick(reloginNotice)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, s *Session, msg *proto.Message) (resp *proto.Message) {
	fn, ok := d.handlers[msg.Kind]
	if !ok {
		return proto.Error(fmt.Sprintf("Unsupported operation %q", msg.Kind))
	}

	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error().
				Str("session_id", s.SessionID()).
				Str("kind", string(msg.Kind)).
				Interface("panic", rec).
				Msg("handler panicked")
			resp = proto.Error(unexpectedFailure)
		}
	}()

	resp = fn(ctx, s, msg)
	if resp == nil {
		d.log.Error().Str("kind", string(msg.Kind)).Msg("handler returned no response")
		resp = proto.Error(unexpectedFailure)
	}
	return resp
}
