package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/vovakirdan/roomchat-server/internal/core"
	"github.com/vovakirdan/roomchat-server/internal/proto"
)

// banTimeLayouts are tried in order; layouts without a zone use local time.
var banTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

func parseBanTime(text string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	for _, layout := range banTimeLayouts {
		if t, err := time.ParseInLocation(layout, text, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (h *Handlers) handleBan(ctx context.Context, s *Session, msg *proto.Message) *proto.Message {
	if !h.privileged(s, msg) {
		return proto.Denied("Insufficient rights")
	}
	if msg.ToID == nil || msg.Text == "" {
		return missing(msg.Kind, "toId and text (ban end time) are")
	}
	until, ok := parseBanTime(msg.Text)
	if !ok {
		return proto.Denied("Malformed ban end time, expected ISO-8601")
	}

	err := h.registry.Ban(ctx, *msg.ToID, until)
	if errors.Is(err, core.ErrClientNotFound) {
		return proto.Error("Unknown client")
	}
	if err != nil {
		return h.failure(s, msg.Kind, err)
	}
	s.log.Info().Int64("target_id", *msg.ToID).Time("until", until).Msg("client banned")
	return proto.Accepted().WithToID(*msg.ToID)
}

func (h *Handlers) handleUnban(ctx context.Context, s *Session, msg *proto.Message) *proto.Message {
	if !h.privileged(s, msg) {
		return proto.Denied("Insufficient rights")
	}
	if msg.ToID == nil {
		return missing(msg.Kind, "toId is")
	}

	err := h.registry.Unban(ctx, *msg.ToID)
	if errors.Is(err, core.ErrClientNotFound) {
		return proto.Error("Unknown client")
	}
	if err != nil {
		return h.failure(s, msg.Kind, err)
	}
	s.log.Info().Int64("target_id", *msg.ToID).Msg("client unbanned")
	return proto.Accepted().WithToID(*msg.ToID)
}

func (h *Handlers) handleStop(_ context.Context, s *Session, msg *proto.Message) *proto.Message {
	if !h.privileged(s, msg) || h.control == nil {
		return proto.Denied("Insufficient rights")
	}
	s.log.Warn().Msg("stop requested")
	s.AfterReply(h.control.Stop)
	return proto.Accepted()
}

func (h *Handlers) handleRestart(_ context.Context, s *Session, msg *proto.Message) *proto.Message {
	if !h.privileged(s, msg) || h.control == nil {
		return proto.Denied("Insufficient rights")
	}
	s.log.Warn().Msg("restart requested")
	s.AfterReply(h.control.Restart)
	return proto.Accepted()
}
