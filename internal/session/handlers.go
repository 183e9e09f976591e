package session

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat-server/internal/auth"
	"github.com/vovakirdan/roomchat-server/internal/core"
	"github.com/vovakirdan/roomchat-server/internal/proto"
)

// Controller stops or restarts the whole server.
type Controller interface {
	Stop()
	Restart()
}

// Deps groups the collaborators of Handlers.
type Deps struct {
	Registry    *core.Registry
	Auth        *auth.Service
	Credentials auth.ServerCredentials
	Control     Controller
	Logger      *zerolog.Logger
}

// Handlers implements one method per operation kind.
type Handlers struct {
	registry *core.Registry
	auth     *auth.Service
	creds    auth.ServerCredentials
	control  Controller
	log      *zerolog.Logger
}

// NewHandlers constructs the operation handlers.
func NewHandlers(d Deps) *Handlers {
	logger := d.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "handlers").Logger()
	return &Handlers{
		registry: d.Registry,
		auth:     d.Auth,
		creds:    d.Credentials,
		control:  d.Control,
		log:      &l,
	}
}

// requireSelf returns a DENIED response unless msg comes from the session's
// own authenticated client.
func requireSelf(s *Session, msg *proto.Message) *proto.Message {
	if !s.RejectIfNotSelf(msg) {
		return nil
	}
	if _, ok := s.clientID(); !ok {
		return proto.Denied("You are not logged in")
	}
	return proto.Denied("fromId does not match the logged in client")
}

// requireLogin returns a DENIED response for unauthenticated sessions.
func requireLogin(s *Session) (*core.Client, *proto.Message) {
	if _, ok := s.clientID(); !ok {
		return nil, proto.Denied("You are not logged in")
	}
	return s.Client(), nil
}

// privileged reports whether msg carries the server credentials or comes
// from an authenticated admin.
func (h *Handlers) privileged(s *Session, msg *proto.Message) bool {
	if h.creds.Match(msg.Login, msg.Password) {
		return true
	}
	if s.RejectIfNotSelf(msg) {
		return false
	}
	c := s.Client()
	return c != nil && c.IsAdmin()
}

// failure converts a domain error into the response the caller sees:
// not-found is an ERROR, other business rules are DENIED.
func (h *Handlers) failure(s *Session, op proto.Kind, err error) *proto.Message {
	var ce *core.CoreError
	switch {
	case errors.Is(err, core.ErrPersist):
		h.log.Error().Err(err).Str("session_id", s.SessionID()).Str("kind", string(op)).Msg("change not persisted")
		return proto.Error(core.ErrPersist.Message)
	case errors.As(err, &ce):
		switch ce.Code {
		case core.ErrCodeRoomNotFound, core.ErrCodeClientNotFound:
			return proto.Error(ce.Message)
		default:
			return proto.Denied(ce.Message)
		}
	default:
		h.log.Error().Err(err).Str("session_id", s.SessionID()).Str("kind", string(op)).Msg("request failed")
		return proto.Error("Internal server error")
	}
}

func missing(kind proto.Kind, fields string) *proto.Message {
	return proto.Error("Malformed " + string(kind) + " request: " + fields + " required")
}
