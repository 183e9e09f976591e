package proto

import "time"

// Kind identifies which request, response or push a Message represents.
type Kind string

// Requests.
const (
	KindAuth           Kind = "AUTH"
	KindRegistration   Kind = "REGISTRATION"
	KindMessage        Kind = "MESSAGE"
	KindCreateRoom     Kind = "CREATE_ROOM"
	KindDeleteRoom     Kind = "DELETE_ROOM"
	KindInviteClient   Kind = "INVITE_CLIENT"
	KindUninviteClient Kind = "UNINVITE_CLIENT"
	KindRoomList       Kind = "ROOM_LIST"
	KindRoomMembers    Kind = "ROOM_MEMBERS"
	KindMessageHistory Kind = "MESSAGE_HISTORY"
	KindGetClientName  Kind = "GET_CLIENT_NAME"
	KindClientBan      Kind = "CLIENT_BAN"
	KindClientUnban    Kind = "CLIENT_UNBAN"
	KindStopServer     Kind = "STOP_SERVER"
	KindRestartServer  Kind = "RESTART_SERVER"
	KindAddFriend      Kind = "ADD_FRIEND"
	KindRemoveFriend   Kind = "REMOVE_FRIEND"
	KindFriendList     Kind = "FRIEND_LIST"
)

// Statuses and server pushes.
const (
	KindAccepted       Kind = "ACCEPTED"
	KindDenied         Kind = "DENIED"
	KindError          Kind = "ERROR"
	KindKick           Kind = "KICK"
	KindNewMessage     Kind = "NEW_MESSAGE"
	KindNewRoomMember  Kind = "NEW_ROOM_MEMBER"
	KindMemberLeftRoom Kind = "MEMBER_LEFT_ROOM"
	KindClientOnline   Kind = "CLIENT_ONLINE"
	KindClientOffline  Kind = "CLIENT_OFFLINE"
)

// IsPush reports whether k is only ever sent unsolicited by the server.
func (k Kind) IsPush() bool {
	switch k {
	case KindNewMessage, KindNewRoomMember, KindMemberLeftRoom, KindClientOnline, KindClientOffline:
		return true
	}
	return false
}

// Message is the unit exchanged over the wire and kept in room history.
type Message struct {
	Kind         Kind      `json:"operationKind" yaml:"operation_kind"`
	Text         string    `json:"text,omitempty" yaml:"text,omitempty"`
	Login        string    `json:"login,omitempty" yaml:"login,omitempty"`
	Password     string    `json:"password,omitempty" yaml:"password,omitempty"`
	FromID       *int64    `json:"fromId,omitempty" yaml:"from_id,omitempty"`
	ToID         *int64    `json:"toId,omitempty" yaml:"to_id,omitempty"`
	RoomID       *int64    `json:"roomId,omitempty" yaml:"room_id,omitempty"`
	CreationTime time.Time `json:"creationTime" yaml:"creation_time"`
}

// New returns a message of the given kind stamped with the current time.
func New(kind Kind) *Message {
	return &Message{Kind: kind, CreationTime: time.Now().UTC()}
}

// Accepted, Denied and Error build the canonical status responses.
func Accepted() *Message { return New(KindAccepted) }

func Denied(text string) *Message { return New(KindDenied).WithText(text) }

func Error(text string) *Message { return New(KindError).WithText(text) }

func (m *Message) WithText(text string) *Message {
	m.Text = text
	return m
}

func (m *Message) WithLogin(login string) *Message {
	m.Login = login
	return m
}

func (m *Message) WithPassword(password string) *Message {
	m.Password = password
	return m
}

func (m *Message) WithFromID(id int64) *Message {
	m.FromID = &id
	return m
}

func (m *Message) WithToID(id int64) *Message {
	m.ToID = &id
	return m
}

func (m *Message) WithRoomID(id int64) *Message {
	m.RoomID = &id
	return m
}

// Clone returns a deep copy, so pushes never alias stored history entries.
func (m *Message) Clone() *Message {
	c := *m
	c.FromID = cloneID(m.FromID)
	c.ToID = cloneID(m.ToID)
	c.RoomID = cloneID(m.RoomID)
	return &c
}

// HasCredentials reports whether both login and password are present.
func (m *Message) HasCredentials() bool {
	return m.Login != "" && m.Password != ""
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
