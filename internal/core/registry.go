package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat-server/internal/proto"
	"github.com/vovakirdan/roomchat-server/internal/store"
	"github.com/vovakirdan/roomchat-server/internal/utils"
)

// Peer is a live connection as seen by the registry.
type Peer interface {
	// SessionID identifies the connection in logs.
	SessionID() string
	// Client returns the bound client, nil before authentication.
	Client() *Client
	// Send writes a message to the connection.
	Send(msg *proto.Message) error
	// Kick notifies the peer with reason and closes it.
	Kick(reason string)
	Close() error
	Closed() bool
}

// Options tunes a Registry.
type Options struct {
	HistorySize int
	// NewRoomID generates candidate ids for new rooms.
	NewRoomID func() int64
}

// Registry owns the online sessions and online rooms and implements every
// operation that has to keep rooms, clients and the store consistent.
//
// Lock order: Room.opMu, then clientsMu, then sessionsMu. roomsMu, Room.mu
// and Client.mu are never held while acquiring another lock.
type Registry struct {
	store       store.Store
	historySize int
	newRoomID   func() int64
	log         *zerolog.Logger

	sessionsMu sync.RWMutex
	sessions   map[int64]Peer

	roomsMu sync.Mutex
	rooms   map[int64]*Room
	// dropGen counts removals from rooms.
	dropGen uint64

	// clientsMu serializes load-mutate-save of client records.
	clientsMu sync.Mutex
}

// NewRegistry constructs an empty registry on top of st.
func NewRegistry(st store.Store, opts Options, logger *zerolog.Logger) *Registry {
	if opts.HistorySize <= 0 {
		opts.HistorySize = 100
	}
	if opts.NewRoomID == nil {
		opts.NewRoomID = utils.RandomRoomID
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "registry").Logger()
	return &Registry{
		store:       st,
		historySize: opts.HistorySize,
		newRoomID:   opts.NewRoomID,
		log:         &l,
		sessions:    make(map[int64]Peer),
		rooms:       make(map[int64]*Room),
	}
}

// Bootstrap provisions the common room when missing and loads it.
func (r *Registry) Bootstrap(ctx context.Context) error {
	if err := store.Provision(ctx, r.store); err != nil {
		return fmt.Errorf("provision store: %w", err)
	}
	if _, err := r.LoadRoom(ctx, store.CommonRoomID); err != nil {
		return fmt.Errorf("load common room: %w", err)
	}
	return nil
}

// ==== sessions ====

// Register marks peer as the live session of its client. A previous session
// of the same client is returned so the caller can kick it.
func (r *Registry) Register(p Peer) Peer {
	id := p.Client().ID()

	r.sessionsMu.Lock()
	defer r.sessionsMu.Unlock()
	prev := r.sessions[id]
	r.sessions[id] = p
	if prev == p {
		return nil
	}
	return prev
}

// Unregister removes peer if it is still the registered session of its client.
func (r *Registry) Unregister(p Peer) bool {
	c := p.Client()
	if c == nil {
		return false
	}

	r.sessionsMu.Lock()
	defer r.sessionsMu.Unlock()
	if r.sessions[c.ID()] != p {
		return false
	}
	delete(r.sessions, c.ID())
	return true
}

// Detach unregisters peer and persists its client under the client lock, so
// no concurrent update can load a stale copy from the store in between.
func (r *Registry) Detach(ctx context.Context, p Peer) error {
	c := p.Client()
	if c == nil {
		return nil
	}

	r.clientsMu.Lock()
	defer r.clientsMu.Unlock()
	r.Unregister(p)
	return r.saveClientLocked(ctx, c)
}

// Online returns the live session of a client.
func (r *Registry) Online(id int64) (Peer, bool) {
	r.sessionsMu.RLock()
	defer r.sessionsMu.RUnlock()
	p, ok := r.sessions[id]
	return p, ok
}

// IsOnline reports whether the client has a session that is still open.
func (r *Registry) IsOnline(id int64) bool {
	p, ok := r.Online(id)
	return ok && !p.Closed()
}

// Sessions returns a snapshot of the registered sessions.
func (r *Registry) Sessions() []Peer {
	r.sessionsMu.RLock()
	defer r.sessionsMu.RUnlock()
	out := make([]Peer, 0, len(r.sessions))
	for _, p := range r.sessions {
		out = append(out, p)
	}
	return out
}

// ==== clients ====

// LoadClient returns the online instance of a client or loads it from the store.
func (r *Registry) LoadClient(ctx context.Context, id int64) (*Client, error) {
	if p, ok := r.Online(id); ok {
		return p.Client(), nil
	}
	rec, err := r.store.LoadClient(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("load client: %w", err)
	}
	return ClientFromRecord(rec), nil
}

// ClientExists reports whether a client with id is registered.
func (r *Registry) ClientExists(ctx context.Context, id int64) (bool, error) {
	if _, ok := r.Online(id); ok {
		return true, nil
	}
	return r.store.ClientExists(ctx, id)
}

// WithClient runs fn on a client while holding the client lock. When fn
// reports dirty the client is saved, even if fn also returned an error.
func (r *Registry) WithClient(ctx context.Context, id int64, fn func(c *Client) (dirty bool, err error)) (*Client, error) {
	r.clientsMu.Lock()
	defer r.clientsMu.Unlock()

	c, err := r.LoadClient(ctx, id)
	if err != nil {
		return nil, err
	}

	dirty, fnErr := fn(c)
	if dirty {
		if err := r.saveClientLocked(ctx, c); err != nil {
			return c, errors.Join(fnErr, err)
		}
	}
	return c, fnErr
}

// UpdateClient applies fn and saves the client when fn succeeds.
func (r *Registry) UpdateClient(ctx context.Context, id int64, fn func(c *Client) error) (*Client, error) {
	return r.WithClient(ctx, id, func(c *Client) (bool, error) {
		if err := fn(c); err != nil {
			return false, err
		}
		return true, nil
	})
}

// CreateClient persists a new client and adds it to the common room.
func (r *Registry) CreateClient(ctx context.Context, c *Client) error {
	r.clientsMu.Lock()
	exists, err := r.ClientExists(ctx, c.ID())
	if err != nil {
		r.clientsMu.Unlock()
		return fmt.Errorf("check client: %w", err)
	}
	if exists {
		r.clientsMu.Unlock()
		return ErrClientExists
	}
	if err := r.saveClientLocked(ctx, c); err != nil {
		r.clientsMu.Unlock()
		return err
	}
	r.clientsMu.Unlock()

	return r.withRoom(ctx, store.CommonRoomID, func(room *Room) error {
		return r.addMember(ctx, room, c.ID())
	})
}

// SaveClient persists a client.
func (r *Registry) SaveClient(ctx context.Context, c *Client) error {
	r.clientsMu.Lock()
	defer r.clientsMu.Unlock()
	return r.saveClientLocked(ctx, c)
}

func (r *Registry) saveClientLocked(ctx context.Context, c *Client) error {
	if err := r.store.SaveClient(ctx, c.Record()); err != nil {
		r.log.Error().Err(err).Int64("client_id", c.ID()).Msg("failed to save client")
		return fmt.Errorf("save client %d: %w: %w", c.ID(), ErrPersist, err)
	}
	return nil
}

// ClientName resolves a client id to its login.
func (r *Registry) ClientName(ctx context.Context, id int64) (string, error) {
	c, err := r.LoadClient(ctx, id)
	if err != nil {
		return "", err
	}
	return c.Login(), nil
}

// Ban bans a client until the given time and kicks its live session.
func (r *Registry) Ban(ctx context.Context, id int64, until time.Time) error {
	_, err := r.UpdateClient(ctx, id, func(c *Client) error {
		return c.Ban(until, time.Now())
	})
	if err != nil && !errors.Is(err, ErrPersist) {
		return err
	}
	if p, ok := r.Online(id); ok {
		p.Kick("You are banned until " + until.UTC().Format(time.RFC3339))
	}
	return err
}

// Unban clears a client's ban.
func (r *Registry) Unban(ctx context.Context, id int64) error {
	_, err := r.UpdateClient(ctx, id, func(c *Client) error {
		return c.Unban()
	})
	return err
}

// AddFriend adds friendID to the friend set of clientID.
func (r *Registry) AddFriend(ctx context.Context, clientID, friendID int64) error {
	if clientID == friendID {
		return ErrSelf
	}
	ok, err := r.ClientExists(ctx, friendID)
	if err != nil {
		return fmt.Errorf("check client: %w", err)
	}
	if !ok {
		return ErrClientNotFound
	}
	_, err = r.UpdateClient(ctx, clientID, func(c *Client) error {
		if !c.AddFriend(friendID) {
			return ErrAlreadyFriend
		}
		return nil
	})
	return err
}

// RemoveFriend removes friendID from the friend set of clientID.
func (r *Registry) RemoveFriend(ctx context.Context, clientID, friendID int64) error {
	_, err := r.UpdateClient(ctx, clientID, func(c *Client) error {
		if !c.RemoveFriend(friendID) {
			return ErrNotFriend
		}
		return nil
	})
	return err
}

// NotifyFriends pushes a presence change of subject to every online client
// that lists subject as a friend.
func (r *Registry) NotifyFriends(kind proto.Kind, subject int64) {
	for _, p := range r.Sessions() {
		c := p.Client()
		if c == nil || c.ID() == subject || !c.HasFriend(subject) {
			continue
		}
		r.push(p, proto.New(kind).WithFromID(subject))
	}
}

// ==== rooms ====

// LoadRoom returns the online room or loads it into the online map. The
// store is read without roomsMu held; a load that raced with an unload or
// delete is discarded and retried.
func (r *Registry) LoadRoom(ctx context.Context, id int64) (*Room, error) {
	for {
		r.roomsMu.Lock()
		if room, ok := r.rooms[id]; ok {
			r.roomsMu.Unlock()
			return room, nil
		}
		gen := r.dropGen
		r.roomsMu.Unlock()

		rec, err := r.store.LoadRoom(ctx, id)

		r.roomsMu.Lock()
		if room, ok := r.rooms[id]; ok {
			r.roomsMu.Unlock()
			return room, nil
		}
		if r.dropGen != gen {
			r.roomsMu.Unlock()
			continue
		}
		if err != nil {
			r.roomsMu.Unlock()
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrRoomNotFound
			}
			return nil, fmt.Errorf("load room: %w", err)
		}
		room := RoomFromRecord(rec, r.historySize)
		r.rooms[id] = room
		r.roomsMu.Unlock()

		r.log.Debug().Int64("room_id", id).Msg("room loaded")
		return room, nil
	}
}

// Rooms returns a snapshot of the online rooms.
func (r *Registry) Rooms() []*Room {
	r.roomsMu.Lock()
	defer r.roomsMu.Unlock()
	out := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}
	return out
}

// IsRoomOnline reports whether the room is in the online map.
func (r *Registry) IsRoomOnline(id int64) bool {
	r.roomsMu.Lock()
	defer r.roomsMu.Unlock()
	_, ok := r.rooms[id]
	return ok
}

// withRoom runs fn with the room's operation lock held. A room unloaded
// between lookup and lock is resolved again.
func (r *Registry) withRoom(ctx context.Context, id int64, fn func(room *Room) error) error {
	for {
		room, err := r.LoadRoom(ctx, id)
		if err != nil {
			return err
		}
		room.opMu.Lock()
		if room.detached {
			room.opMu.Unlock()
			continue
		}
		err = fn(room)
		room.opMu.Unlock()
		return err
	}
}

// CreateRoom creates a room with a fresh random id and adminID as its admin.
func (r *Registry) CreateRoom(ctx context.Context, adminID int64) (*Room, error) {
	room, err := r.reserveRoom(ctx, adminID)
	if err != nil {
		return nil, err
	}

	room.opMu.Lock()
	defer room.opMu.Unlock()

	_, err = r.UpdateClient(ctx, adminID, func(c *Client) error {
		c.AddRoom(room.ID())
		return nil
	})
	if err != nil && !errors.Is(err, ErrPersist) {
		r.dropRoom(room)
		return nil, err
	}
	return room, errors.Join(err, r.saveRoom(ctx, room))
}

func (r *Registry) reserveRoom(ctx context.Context, adminID int64) (*Room, error) {
	for {
		id := r.newRoomID()
		if id <= 0 || r.IsRoomOnline(id) {
			continue
		}
		exists, err := r.store.RoomExists(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("check room: %w", err)
		}
		if exists {
			continue
		}

		r.roomsMu.Lock()
		if _, ok := r.rooms[id]; ok {
			r.roomsMu.Unlock()
			continue
		}
		room := NewRoom(id, adminID, r.historySize)
		r.rooms[id] = room
		r.roomsMu.Unlock()
		return room, nil
	}
}

// dropRoom removes room from the online map. Caller holds room.opMu.
func (r *Registry) dropRoom(room *Room) {
	r.roomsMu.Lock()
	if r.rooms[room.ID()] == room {
		delete(r.rooms, room.ID())
		r.dropGen++
	}
	r.roomsMu.Unlock()
	room.detached = true
}

// DeleteRoom removes a room from every member and purges it from the store.
func (r *Registry) DeleteRoom(ctx context.Context, roomID, requesterID int64) error {
	if roomID == store.CommonRoomID {
		return ErrCommonRoom
	}

	var members []int64
	err := r.withRoom(ctx, roomID, func(room *Room) error {
		if room.AdminID() != requesterID {
			return ErrNotRoomAdmin
		}
		members = room.Members()
		// online until purged, lookups must not reload the file meanwhile
		defer r.dropRoom(room)

		var errs []error
		for _, id := range members {
			_, err := r.UpdateClient(ctx, id, func(c *Client) error {
				c.RemoveRoom(roomID)
				return nil
			})
			if err != nil && !errors.Is(err, ErrClientNotFound) {
				errs = append(errs, err)
			}
		}
		if err := r.store.DeleteRoom(ctx, roomID); err != nil {
			r.log.Error().Err(err).Int64("room_id", roomID).Msg("failed to delete room")
			errs = append(errs, fmt.Errorf("delete room %d: %w: %w", roomID, ErrPersist, err))
		}
		return errors.Join(errs...)
	})
	if err != nil && !errors.Is(err, ErrPersist) {
		return err
	}

	notice := proto.New(proto.KindDeleteRoom).WithFromID(requesterID).WithRoomID(roomID).
		WithText("Room has been deleted")
	r.pushTo(members, notice, requesterID)
	return err
}

// Invite adds target to a room on behalf of requester, who must be a member.
func (r *Registry) Invite(ctx context.Context, roomID, requesterID, targetID int64) error {
	err := r.withRoom(ctx, roomID, func(room *Room) error {
		if !room.HasMember(requesterID) {
			return ErrNotMember
		}
		if room.HasMember(targetID) {
			return ErrAlreadyMember
		}
		return r.addMember(ctx, room, targetID)
	})
	if err != nil && !errors.Is(err, ErrPersist) {
		return err
	}

	if p, ok := r.Online(targetID); ok {
		r.push(p, proto.New(proto.KindInviteClient).WithFromID(requesterID).WithToID(targetID).
			WithRoomID(roomID).WithText("You have been invited to the room"))
	}
	return err
}

// Uninvite removes target from a room on behalf of requester, who must be a
// member. The room admin cannot be removed and the common room is fixed.
func (r *Registry) Uninvite(ctx context.Context, roomID, requesterID, targetID int64) error {
	if roomID == store.CommonRoomID {
		return ErrCommonRoom
	}

	err := r.withRoom(ctx, roomID, func(room *Room) error {
		if !room.HasMember(requesterID) {
			return ErrNotMember
		}
		if !room.HasMember(targetID) {
			return ErrTargetNotMember
		}
		if room.AdminID() == targetID {
			return ErrRoomAdmin
		}
		return r.removeMember(ctx, room, targetID)
	})
	if err != nil && !errors.Is(err, ErrPersist) {
		return err
	}

	if p, ok := r.Online(targetID); ok && targetID != requesterID {
		r.push(p, proto.New(proto.KindUninviteClient).WithFromID(requesterID).WithToID(targetID).
			WithRoomID(roomID).WithText("You have been removed from the room"))
	}
	return err
}

// addMember links room and client both ways. Caller holds room.opMu.
func (r *Registry) addMember(ctx context.Context, room *Room, clientID int64) error {
	_, clientErr := r.UpdateClient(ctx, clientID, func(c *Client) error {
		c.AddRoom(room.ID())
		return nil
	})
	if clientErr != nil && !errors.Is(clientErr, ErrPersist) {
		return clientErr
	}

	room.AddMember(clientID)
	saveErr := r.saveRoom(ctx, room)

	r.broadcastExcept(proto.New(proto.KindNewRoomMember).WithFromID(clientID).WithRoomID(room.ID()), clientID)
	return errors.Join(clientErr, saveErr)
}

// removeMember unlinks room and client both ways. Caller holds room.opMu.
func (r *Registry) removeMember(ctx context.Context, room *Room, clientID int64) error {
	_, clientErr := r.UpdateClient(ctx, clientID, func(c *Client) error {
		c.RemoveRoom(room.ID())
		return nil
	})
	if clientErr != nil && !errors.Is(clientErr, ErrPersist) && !errors.Is(clientErr, ErrClientNotFound) {
		return clientErr
	}
	if errors.Is(clientErr, ErrClientNotFound) {
		clientErr = nil
	}

	room.RemoveMember(clientID)
	saveErr := r.saveRoom(ctx, room)

	r.broadcastExcept(proto.New(proto.KindMemberLeftRoom).WithFromID(clientID).WithRoomID(room.ID()), clientID)
	return errors.Join(clientErr, saveErr)
}

// PostMessage appends a message from a member to the room history and
// pushes a NEW_MESSAGE copy to every online member, the sender included.
func (r *Registry) PostMessage(ctx context.Context, roomID, senderID int64, text string) error {
	msg := proto.New(proto.KindMessage).WithText(text).WithFromID(senderID).WithRoomID(roomID)

	var members []int64
	err := r.withRoom(ctx, roomID, func(room *Room) error {
		if !room.HasMember(senderID) {
			return ErrNotMember
		}
		room.Append(msg)
		members = room.Members()
		return r.saveRoom(ctx, room)
	})
	if err != nil && !errors.Is(err, ErrPersist) {
		return err
	}

	push := msg.Clone()
	push.Kind = proto.KindNewMessage
	r.pushTo(members, push, -1)
	return err
}

// RoomMembers returns the member ids of a room.
func (r *Registry) RoomMembers(ctx context.Context, roomID int64) ([]int64, error) {
	room, err := r.LoadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return room.Members(), nil
}

// RoomHistory returns the history of a room the requester belongs to.
func (r *Registry) RoomHistory(ctx context.Context, roomID, requesterID int64) ([]proto.Message, error) {
	room, err := r.LoadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasMember(requesterID) {
		return nil, ErrNotMember
	}
	return room.History(), nil
}

// UnloadIfIdle saves and unloads a room none of whose members is online.
// The common room is never unloaded.
func (r *Registry) UnloadIfIdle(ctx context.Context, room *Room) (bool, error) {
	if room.IsCommon() {
		return false, nil
	}

	room.opMu.Lock()
	defer room.opMu.Unlock()

	if room.detached {
		return false, nil
	}
	for _, id := range room.Members() {
		if r.IsOnline(id) {
			return false, nil
		}
	}
	// keep the room online if it could not be persisted
	if err := r.saveRoom(ctx, room); err != nil {
		return false, err
	}
	r.dropRoom(room)
	return true, nil
}

func (r *Registry) saveRoom(ctx context.Context, room *Room) error {
	room.saveMu.Lock()
	defer room.saveMu.Unlock()

	if err := r.store.SaveRoom(ctx, room.Record()); err != nil {
		r.log.Error().Err(err).Int64("room_id", room.ID()).Msg("failed to save room")
		return fmt.Errorf("save room %d: %w: %w", room.ID(), ErrPersist, err)
	}
	return nil
}

// SaveAll persists every online client and room. It keeps going after a
// failure and returns all errors joined.
func (r *Registry) SaveAll(ctx context.Context) error {
	var errs []error
	for _, p := range r.Sessions() {
		if c := p.Client(); c != nil {
			if err := r.SaveClient(ctx, c); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, room := range r.Rooms() {
		if err := r.saveRoom(ctx, room); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ==== pushes ====

func (r *Registry) push(p Peer, msg *proto.Message) {
	if err := p.Send(msg); err != nil {
		r.log.Debug().Err(err).Str("session_id", p.SessionID()).Str("kind", string(msg.Kind)).Msg("push failed")
	}
}

// pushTo sends msg to the online clients among ids, skipping except.
func (r *Registry) pushTo(ids []int64, msg *proto.Message, except int64) {
	for _, id := range ids {
		if id == except {
			continue
		}
		if p, ok := r.Online(id); ok {
			r.push(p, msg)
		}
	}
}

// broadcastExcept sends msg to every online session but the one of except.
func (r *Registry) broadcastExcept(msg *proto.Message, except int64) {
	for _, p := range r.Sessions() {
		if c := p.Client(); c != nil && c.ID() == except {
			continue
		}
		r.push(p, msg)
	}
}
