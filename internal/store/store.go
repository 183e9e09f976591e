package store

import (
	"context"
	"errors"
	"time"

	"github.com/vovakirdan/roomchat-server/internal/proto"
)

// CommonRoomID is the permanent room every registered client belongs to.
const CommonRoomID int64 = 0

// ErrNotFound is returned when no record exists for the requested id.
var ErrNotFound = errors.New("not found")

// Client is the persisted form of a registered account.
type Client struct {
	ID           int64      `yaml:"id"`
	Login        string     `yaml:"login"`
	PasswordHash string     `yaml:"password_hash"`
	IsAdmin      bool       `yaml:"is_admin"`
	Banned       bool       `yaml:"banned"`
	BannedUntil  *time.Time `yaml:"banned_until,omitempty"`
	Rooms        []int64    `yaml:"rooms"`
	Friends      []int64    `yaml:"friends"`
	CreatedAt    time.Time  `yaml:"created_at"`
}

// Room is the persisted form of a chat room, history in arrival order.
type Room struct {
	ID        int64           `yaml:"id"`
	AdminID   int64           `yaml:"admin_id"`
	Members   []int64         `yaml:"members"`
	History   []proto.Message `yaml:"history"`
	CreatedAt time.Time       `yaml:"created_at"`
}

// ClientStore handles client persistence.
type ClientStore interface {
	// LoadClient returns ErrNotFound when no client has this id.
	LoadClient(ctx context.Context, id int64) (*Client, error)

	// SaveClient creates or fully replaces the client record.
	SaveClient(ctx context.Context, c *Client) error

	ClientExists(ctx context.Context, id int64) (bool, error)
}

// RoomStore handles room persistence.
type RoomStore interface {
	// LoadRoom returns ErrNotFound when no room has this id.
	LoadRoom(ctx context.Context, id int64) (*Room, error)

	// SaveRoom creates or fully replaces the room record including history.
	SaveRoom(ctx context.Context, r *Room) error

	// DeleteRoom purges the room. Deleting a missing room is not an error.
	DeleteRoom(ctx context.Context, id int64) error

	RoomExists(ctx context.Context, id int64) (bool, error)

	// RoomIDs lists every persisted room.
	RoomIDs(ctx context.Context) ([]int64, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	ClientStore
	RoomStore

	// Close releases the underlying medium.
	Close() error
}

// Provision makes sure the common room exists.
func Provision(ctx context.Context, s Store) error {
	ok, err := s.RoomExists(ctx, CommonRoomID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return s.SaveRoom(ctx, &Room{
		ID:        CommonRoomID,
		Members:   []int64{},
		History:   []proto.Message{},
		CreatedAt: time.Now().UTC(),
	})
}
