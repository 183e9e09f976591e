package session

import (
	"context"
	"testing"
	"time"

	"github.com/vovakirdan/roomchat-server/internal/core"
	"github.com/vovakirdan/roomchat-server/internal/proto"
)

func TestConcurrentInvitesOfSameClient(t *testing.T) {
	h := newHarness(t)
	a := h.login(t, "alice")
	c := h.login(t, "carol")
	bob := h.register(t, "bob", "pw")

	resp := a.call(a.request(proto.KindCreateRoom))
	expectKind(t, resp, proto.KindAccepted)
	roomID := *resp.RoomID
	expectKind(t, a.call(a.request(proto.KindInviteClient).WithRoomID(roomID).WithToID(c.id)), proto.KindAccepted)
	c.mustEvent(proto.KindInviteClient)

	a.send(a.request(proto.KindInviteClient).WithRoomID(roomID).WithToID(bob))
	c.send(c.request(proto.KindInviteClient).WithRoomID(roomID).WithToID(bob))

	var accepted, denied int
	for _, resp := range []*proto.Message{a.response(), c.response()} {
		switch resp.Kind {
		case proto.KindAccepted:
			accepted++
		case proto.KindDenied:
			if resp.Text != core.ErrAlreadyMember.Message {
				t.Fatalf("unexpected denial %q", resp.Text)
			}
			denied++
		default:
			t.Fatalf("unexpected response %s (%q)", resp.Kind, resp.Text)
		}
	}
	if accepted != 1 || denied != 1 {
		t.Fatalf("accepted=%d denied=%d, want one of each", accepted, denied)
	}

	members, err := h.registry.RoomMembers(context.Background(), roomID)
	if err != nil {
		t.Fatalf("room members: %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("expected 3 members, got %v", members)
	}
}

func TestConcurrentBansOfSameClient(t *testing.T) {
	h := newHarness(t)
	x := h.register(t, "mallory", "pw")

	ends := []time.Time{
		time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second),
	}
	clients := []*testClient{h.dial(t), h.dial(t)}
	for i, c := range clients {
		c.send(credentials(proto.KindClientBan, testServerLogin, testServerPassword).
			WithToID(x).WithText(ends[i].Format(time.RFC3339)))
	}

	winner := -1
	for i, c := range clients {
		resp := c.response()
		switch resp.Kind {
		case proto.KindAccepted:
			if winner >= 0 {
				t.Fatalf("both bans accepted")
			}
			winner = i
		case proto.KindDenied:
			if resp.Text != core.ErrAlreadyBanned.Message {
				t.Fatalf("unexpected denial %q", resp.Text)
			}
		default:
			t.Fatalf("unexpected response %s (%q)", resp.Kind, resp.Text)
		}
	}
	if winner < 0 {
		t.Fatalf("no ban accepted")
	}

	loaded, err := h.registry.LoadClient(context.Background(), x)
	if err != nil {
		t.Fatalf("load mallory: %v", err)
	}
	until, banned := loaded.ActiveBan(time.Now())
	if !banned || !until.Equal(ends[winner]) {
		t.Fatalf("ban until %v (banned=%v), want %v", until, banned, ends[winner])
	}
}

func TestDeleteRoomRacingMessages(t *testing.T) {
	h := newHarness(t)
	a := h.login(t, "alice")
	c := h.login(t, "carol")

	resp := a.call(a.request(proto.KindCreateRoom))
	expectKind(t, resp, proto.KindAccepted)
	roomID := *resp.RoomID
	expectKind(t, a.call(a.request(proto.KindInviteClient).WithRoomID(roomID).WithToID(c.id)), proto.KindAccepted)
	c.mustEvent(proto.KindInviteClient)

	c.send(c.request(proto.KindMessage).WithRoomID(roomID).WithText("first"))
	a.send(a.request(proto.KindDeleteRoom).WithRoomID(roomID))
	c.send(c.request(proto.KindMessage).WithRoomID(roomID).WithText("second"))

	expectKind(t, a.response(), proto.KindAccepted)
	// carol gets one reply per message plus the deletion notice in between
	for replies := 0; replies < 2; {
		switch resp := c.response(); resp.Kind {
		case proto.KindDeleteRoom:
		case proto.KindAccepted, proto.KindError:
			replies++
		default:
			t.Fatalf("unexpected response %s (%q)", resp.Kind, resp.Text)
		}
	}

	if h.registry.IsRoomOnline(roomID) {
		t.Fatalf("deleted room %d is online", roomID)
	}
	if _, err := h.registry.RoomMembers(context.Background(), roomID); err == nil {
		t.Fatalf("deleted room %d can still be loaded", roomID)
	}
	loaded, err := h.registry.LoadClient(context.Background(), c.id)
	if err != nil {
		t.Fatalf("load carol: %v", err)
	}
	if loaded.HasRoom(roomID) {
		t.Fatalf("carol still lists deleted room %d", roomID)
	}
}
