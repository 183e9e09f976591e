package core

import (
	"sync"
	"time"

	"github.com/vovakirdan/roomchat-server/internal/proto"
	"github.com/vovakirdan/roomchat-server/internal/store"
)

// Room is a chat room with a member set and a bounded message history.
type Room struct {
	id        int64
	adminID   int64
	createdAt time.Time

	mu      sync.RWMutex
	members map[int64]struct{}
	history *History

	// opMu serializes check-then-mutate sequences that span the room and
	// its members' client records. detached is guarded by opMu and set once
	// the room has left the registry's online map.
	opMu     sync.Mutex
	detached bool

	saveMu sync.Mutex
}

// NewRoom constructs a room with its admin as the only member.
func NewRoom(id, adminID int64, historySize int) *Room {
	r := &Room{
		id:        id,
		adminID:   adminID,
		createdAt: time.Now().UTC(),
		members:   make(map[int64]struct{}),
		history:   NewHistory(historySize),
	}
	if id != store.CommonRoomID {
		r.members[adminID] = struct{}{}
	}
	return r
}

// RoomFromRecord rebuilds a room from its persisted form. When the record
// holds more messages than fit, the most recent ones are kept.
func RoomFromRecord(rec *store.Room, historySize int) *Room {
	r := &Room{
		id:        rec.ID,
		adminID:   rec.AdminID,
		createdAt: rec.CreatedAt,
		members:   toSet(rec.Members),
		history:   NewHistory(historySize),
	}
	for i := range rec.History {
		r.history.Append(&rec.History[i])
	}
	return r
}

// Record snapshots the room for persistence.
func (r *Room) Record() *store.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &store.Room{
		ID:        r.id,
		AdminID:   r.adminID,
		Members:   fromSet(r.members),
		History:   r.history.Messages(),
		CreatedAt: r.createdAt,
	}
}

func (r *Room) ID() int64 { return r.id }

func (r *Room) AdminID() int64 { return r.adminID }

// IsCommon reports whether this is the permanent common room.
func (r *Room) IsCommon() bool { return r.id == store.CommonRoomID }

// Members returns the sorted member ids.
func (r *Room) Members() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fromSet(r.members)
}

func (r *Room) HasMember(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[id]
	return ok
}

// AddMember inserts a member. Returns true if newly added.
func (r *Room) AddMember(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[id]; ok {
		return false
	}
	r.members[id] = struct{}{}
	return true
}

// RemoveMember deletes a member. Returns true if removed.
func (r *Room) RemoveMember(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	return true
}

// Append adds a copy of msg to the history, evicting the oldest entry when full.
func (r *Room) Append(msg *proto.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history.Append(msg)
}

// History returns the stored messages in arrival order.
func (r *Room) History() []proto.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history.Messages()
}
