package core

import (
	"sort"
	"sync"
	"time"

	"github.com/vovakirdan/roomchat-server/internal/store"
)

// Client is a registered account as seen by the core layer. While the
// client has a live session every handler shares this one instance.
type Client struct {
	id        int64
	login     string
	createdAt time.Time

	mu           sync.RWMutex
	passwordHash string
	isAdmin      bool
	banned       bool
	bannedUntil  *time.Time
	rooms        map[int64]struct{}
	friends      map[int64]struct{}
}

// NewClient constructs a client whose id is derived from login.
func NewClient(login, passwordHash string, isAdmin bool) *Client {
	return &Client{
		id:           ClientIDFor(login),
		login:        login,
		createdAt:    time.Now().UTC(),
		passwordHash: passwordHash,
		isAdmin:      isAdmin,
		rooms:        make(map[int64]struct{}),
		friends:      make(map[int64]struct{}),
	}
}

// ClientFromRecord rebuilds a client from its persisted form.
func ClientFromRecord(rec *store.Client) *Client {
	c := &Client{
		id:           rec.ID,
		login:        rec.Login,
		createdAt:    rec.CreatedAt,
		passwordHash: rec.PasswordHash,
		isAdmin:      rec.IsAdmin,
		banned:       rec.Banned,
		rooms:        toSet(rec.Rooms),
		friends:      toSet(rec.Friends),
	}
	if rec.BannedUntil != nil {
		until := *rec.BannedUntil
		c.bannedUntil = &until
	}
	return c
}

// Record snapshots the client for persistence.
func (c *Client) Record() *store.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec := &store.Client{
		ID:           c.id,
		Login:        c.login,
		PasswordHash: c.passwordHash,
		IsAdmin:      c.isAdmin,
		Banned:       c.banned,
		Rooms:        fromSet(c.rooms),
		Friends:      fromSet(c.friends),
		CreatedAt:    c.createdAt,
	}
	if c.bannedUntil != nil {
		until := *c.bannedUntil
		rec.BannedUntil = &until
	}
	return rec
}

func (c *Client) ID() int64 { return c.id }

func (c *Client) Login() string { return c.login }

func (c *Client) PasswordHash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.passwordHash
}

func (c *Client) IsAdmin() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isAdmin
}

// Rooms returns the sorted ids of rooms the client belongs to.
func (c *Client) Rooms() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fromSet(c.rooms)
}

func (c *Client) HasRoom(roomID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[roomID]
	return ok
}

// AddRoom returns false if the room was already in the set.
func (c *Client) AddRoom(roomID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[roomID]; ok {
		return false
	}
	c.rooms[roomID] = struct{}{}
	return true
}

// RemoveRoom returns false if the room was not in the set.
func (c *Client) RemoveRoom(roomID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[roomID]; !ok {
		return false
	}
	delete(c.rooms, roomID)
	return true
}

// Friends returns the sorted ids of the client's friends.
func (c *Client) Friends() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fromSet(c.friends)
}

func (c *Client) HasFriend(id int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.friends[id]
	return ok
}

func (c *Client) AddFriend(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.friends[id]; ok {
		return false
	}
	c.friends[id] = struct{}{}
	return true
}

func (c *Client) RemoveFriend(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.friends[id]; !ok {
		return false
	}
	delete(c.friends, id)
	return true
}

// ActiveBan reports whether the client is banned at now and until when.
// A ban without an end time never expires.
func (c *Client) ActiveBan(now time.Time) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.banned {
		return time.Time{}, false
	}
	if c.bannedUntil == nil {
		return time.Time{}, true
	}
	if now.Before(*c.bannedUntil) {
		return *c.bannedUntil, true
	}
	return time.Time{}, false
}

// ClearExpiredBan lifts a ban whose end time has passed. Returns true if the
// client changed.
func (c *Client) ClearExpiredBan(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.banned || c.bannedUntil == nil || now.Before(*c.bannedUntil) {
		return false
	}
	c.banned = false
	c.bannedUntil = nil
	return true
}

// Ban marks the client banned until the given time. An active ban is never
// extended or shortened.
func (c *Client) Ban(until, now time.Time) error {
	if !until.After(now) {
		return ErrInvalidBanPeriod
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isAdmin {
		return ErrTargetAdmin
	}
	if c.banned && (c.bannedUntil == nil || now.Before(*c.bannedUntil)) {
		return ErrAlreadyBanned
	}
	u := until.UTC()
	c.banned = true
	c.bannedUntil = &u
	return nil
}

// Unban clears the ban flag.
func (c *Client) Unban() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.banned {
		return ErrNotBanned
	}
	c.banned = false
	c.bannedUntil = nil
	return nil
}

func toSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func fromSet(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
