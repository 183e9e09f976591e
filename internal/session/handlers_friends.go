package session

import (
	"context"
	"errors"

	"github.com/vovakirdan/roomchat-server/internal/core"
	"github.com/vovakirdan/roomchat-server/internal/proto"
)

func (h *Handlers) handleAddFriend(ctx context.Context, s *Session, msg *proto.Message) *proto.Message {
	if resp := requireSelf(s, msg); resp != nil {
		return resp
	}
	if msg.ToID == nil {
		return missing(msg.Kind, "toId is")
	}

	err := h.registry.AddFriend(ctx, *msg.FromID, *msg.ToID)
	if errors.Is(err, core.ErrClientNotFound) {
		return proto.Denied("Unknown client")
	}
	if err != nil {
		return h.failure(s, msg.Kind, err)
	}
	return proto.Accepted().WithToID(*msg.ToID)
}

func (h *Handlers) handleRemoveFriend(ctx context.Context, s *Session, msg *proto.Message) *proto.Message {
	if resp := requireSelf(s, msg); resp != nil {
		return resp
	}
	if msg.ToID == nil {
		return missing(msg.Kind, "toId is")
	}

	if err := h.registry.RemoveFriend(ctx, *msg.FromID, *msg.ToID); err != nil {
		return h.failure(s, msg.Kind, err)
	}
	return proto.Accepted().WithToID(*msg.ToID)
}

func (h *Handlers) handleFriendList(_ context.Context, s *Session, _ *proto.Message) *proto.Message {
	c, resp := requireLogin(s)
	if resp != nil {
		return resp
	}
	return proto.New(proto.KindFriendList).WithToID(c.ID()).WithText(proto.JoinIDs(c.Friends()))
}
