package session

import (
	"context"
	"errors"
	"time"

	"github.com/vovakirdan/roomchat-server/internal/auth"
	"github.com/vovakirdan/roomchat-server/internal/core"
	"github.com/vovakirdan/roomchat-server/internal/proto"
)

func (h *Handlers) handleAuth(ctx context.Context, s *Session, msg *proto.Message) *proto.Message {
	if msg.FromID != nil || !msg.HasCredentials() {
		return missing(msg.Kind, "login and password are")
	}
	if s.State() != StateUnauthenticated {
		return proto.Denied("Already logged in")
	}

	var (
		bound bool
		prev  core.Peer
	)
	c, err := h.auth.Login(ctx, msg.Login, msg.Password, func(c *core.Client) {
		if bound = s.bind(c); bound {
			prev = h.registry.Register(s)
		}
	})
	if err != nil {
		var banned *auth.BannedError
		switch {
		case errors.As(err, &banned):
			if banned.Until.IsZero() {
				return proto.Denied("You are banned")
			}
			return proto.Denied("You are banned until " + banned.Until.UTC().Format(time.RFC3339))
		case errors.Is(err, auth.ErrInvalidCredentials):
			return proto.Denied("Wrong login or password")
		default:
			return h.failure(s, msg.Kind, err)
		}
	}
	if !bound {
		return proto.Error("Session is closed")
	}

	if prev != nil {
		prev.Kick("Logged in from another location")
	}
	h.registry.NotifyFriends(proto.KindClientOnline, c.ID())
	s.log.Info().Int64("client_id", c.ID()).Str("login", c.Login()).Msg("client logged in")

	return proto.Accepted().WithFromID(c.ID())
}

func (h *Handlers) handleRegistration(ctx context.Context, s *Session, msg *proto.Message) *proto.Message {
	if !msg.HasCredentials() {
		return missing(msg.Kind, "login and password are")
	}
	if s.State() != StateUnauthenticated {
		return proto.Denied("Already logged in")
	}

	c, err := h.auth.Register(ctx, msg.Login, msg.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserExists):
			return proto.Denied("Login is already taken")
		case errors.Is(err, auth.ErrInvalidLogin):
			return proto.Error("Login must not be blank")
		default:
			return h.failure(s, msg.Kind, err)
		}
	}

	// the session is not bound: the dispatcher ends it and the client logs in again
	s.log.Info().Int64("client_id", c.ID()).Str("login", c.Login()).Msg("client registered")
	return proto.Accepted().WithFromID(c.ID())
}
