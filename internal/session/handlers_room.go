package session

import (
	"context"
	"errors"

	"github.com/vovakirdan/roomchat-server/internal/core"
	"github.com/vovakirdan/roomchat-server/internal/proto"
)

func (h *Handlers) handleMessage(ctx context.Context, s *Session, msg *proto.Message) *proto.Message {
	if resp := requireSelf(s, msg); resp != nil {
		return resp
	}
	if msg.Text == "" || msg.RoomID == nil {
		return missing(msg.Kind, "text and roomId are")
	}

	if err := h.registry.PostMessage(ctx, *msg.RoomID, *msg.FromID, msg.Text); err != nil {
		return h.failure(s, msg.Kind, err)
	}
	return proto.Accepted().WithRoomID(*msg.RoomID)
}

func (h *Handlers) handleCreateRoom(ctx context.Context, s *Session, msg *proto.Message) *proto.Message {
	if resp := requireSelf(s, msg); resp != nil {
		return resp
	}

	room, err := h.registry.CreateRoom(ctx, *msg.FromID)
	if err != nil {
		return h.failure(s, msg.Kind, err)
	}
	s.log.Info().Int64("room_id", room.ID()).Int64("admin_id", room.AdminID()).Msg("room created")
	return proto.Accepted().WithRoomID(room.ID())
}

func (h *Handlers) handleDeleteRoom(ctx context.Context, s *Session, msg *proto.Message) *proto.Message {
	if resp := requireSelf(s, msg); resp != nil {
		return resp
	}
	if msg.RoomID == nil {
		return missing(msg.Kind, "roomId is")
	}

	if err := h.registry.DeleteRoom(ctx, *msg.RoomID, *msg.FromID); err != nil {
		return h.failure(s, msg.Kind, err)
	}
	s.log.Info().Int64("room_id", *msg.RoomID).Msg("room deleted")
	return proto.Accepted().WithRoomID(*msg.RoomID)
}

func (h *Handlers) handleInvite(ctx context.Context, s *Session, msg *proto.Message) *proto.Message {
	if resp := requireSelf(s, msg); resp != nil {
		return resp
	}
	if msg.RoomID == nil || msg.ToID == nil {
		return missing(msg.Kind, "roomId and toId are")
	}

	err := h.registry.Invite(ctx, *msg.RoomID, *msg.FromID, *msg.ToID)
	if errors.Is(err, core.ErrClientNotFound) {
		return proto.Denied("Missing client")
	}
	if err != nil {
		return h.failure(s, msg.Kind, err)
	}
	return proto.Accepted().WithRoomID(*msg.RoomID).WithToID(*msg.ToID)
}

func (h *Handlers) handleUninvite(ctx context.Context, s *Session, msg *proto.Message) *proto.Message {
	if resp := requireSelf(s, msg); resp != nil {
		return resp
	}
	if msg.RoomID == nil || msg.ToID == nil {
		return missing(msg.Kind, "roomId and toId are")
	}

	if err := h.registry.Uninvite(ctx, *msg.RoomID, *msg.FromID, *msg.ToID); err != nil {
		return h.failure(s, msg.Kind, err)
	}
	return proto.Accepted().WithRoomID(*msg.RoomID).WithToID(*msg.ToID)
}

func (h *Handlers) handleRoomList(_ context.Context, s *Session, _ *proto.Message) *proto.Message {
	c, resp := requireLogin(s)
	if resp != nil {
		return resp
	}
	return proto.New(proto.KindRoomList).WithToID(c.ID()).WithText(proto.JoinIDs(c.Rooms()))
}

func (h *Handlers) handleRoomMembers(ctx context.Context, s *Session, msg *proto.Message) *proto.Message {
	if _, resp := requireLogin(s); resp != nil {
		return resp
	}
	if msg.RoomID == nil {
		return missing(msg.Kind, "roomId is")
	}

	members, err := h.registry.RoomMembers(ctx, *msg.RoomID)
	if err != nil {
		return h.failure(s, msg.Kind, err)
	}
	return proto.Accepted().WithRoomID(*msg.RoomID).WithText(proto.JoinIDs(members))
}

// handleMessageHistory streams every stored message before the terminal ACCEPTED.
func (h *Handlers) handleMessageHistory(ctx context.Context, s *Session, msg *proto.Message) *proto.Message {
	c, resp := requireLogin(s)
	if resp != nil {
		return resp
	}
	if msg.RoomID == nil {
		return missing(msg.Kind, "roomId is")
	}

	history, err := h.registry.RoomHistory(ctx, *msg.RoomID, c.ID())
	if err != nil {
		return h.failure(s, msg.Kind, err)
	}
	for i := range history {
		if err := s.Send(&history[i]); err != nil {
			return proto.Error("History transfer interrupted")
		}
	}
	return proto.Accepted().WithRoomID(*msg.RoomID)
}

func (h *Handlers) handleGetClientName(ctx context.Context, s *Session, msg *proto.Message) *proto.Message {
	if _, resp := requireLogin(s); resp != nil {
		return resp
	}
	if msg.ToID == nil {
		return missing(msg.Kind, "toId is")
	}

	login, err := h.registry.ClientName(ctx, *msg.ToID)
	if errors.Is(err, core.ErrClientNotFound) {
		return proto.Denied("Unknown client")
	}
	if err != nil {
		return h.failure(s, msg.Kind, err)
	}
	return proto.Accepted().WithFromID(*msg.ToID).WithText(login)
}
