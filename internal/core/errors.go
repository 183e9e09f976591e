package core

// Error codes for domain errors.
const (
	ErrCodeRoomNotFound     = "room_not_found"
	ErrCodeClientNotFound   = "client_not_found"
	ErrCodeClientExists     = "client_exists"
	ErrCodeNotMember        = "not_member"
	ErrCodeAlreadyMember    = "already_member"
	ErrCodeNotRoomAdmin     = "not_room_admin"
	ErrCodeRoomAdmin        = "room_admin"
	ErrCodeCommonRoom       = "common_room"
	ErrCodeAlreadyBanned    = "already_banned"
	ErrCodeNotBanned        = "not_banned"
	ErrCodeTargetAdmin      = "target_admin"
	ErrCodeAlreadyFriend    = "already_friend"
	ErrCodeNotFriend        = "not_friend"
	ErrCodeSelf             = "self"
	ErrCodePersist          = "persist"
	ErrCodeInvalidBanPeriod = "invalid_ban_period"
)

var (
	ErrRoomNotFound     = coreError(ErrCodeRoomNotFound, "Room not found")
	ErrClientNotFound   = coreError(ErrCodeClientNotFound, "Client not found")
	ErrClientExists     = coreError(ErrCodeClientExists, "Login is already taken")
	ErrNotMember        = coreError(ErrCodeNotMember, "You are not a member of this room")
	ErrTargetNotMember  = coreError(ErrCodeNotMember, "Client is not a member of this room")
	ErrAlreadyMember    = coreError(ErrCodeAlreadyMember, "Client is already a member of this room")
	ErrNotRoomAdmin     = coreError(ErrCodeNotRoomAdmin, "Only the room admin can do this")
	ErrRoomAdmin        = coreError(ErrCodeRoomAdmin, "The room admin cannot be removed")
	ErrCommonRoom       = coreError(ErrCodeCommonRoom, "The common room cannot be changed")
	ErrAlreadyBanned    = coreError(ErrCodeAlreadyBanned, "Client is already banned")
	ErrNotBanned        = coreError(ErrCodeNotBanned, "Client is not banned")
	ErrTargetAdmin      = coreError(ErrCodeTargetAdmin, "Admins cannot be banned")
	ErrAlreadyFriend    = coreError(ErrCodeAlreadyFriend, "Client is already a friend")
	ErrNotFriend        = coreError(ErrCodeNotFriend, "Client is not a friend")
	ErrSelf             = coreError(ErrCodeSelf, "Operation is not allowed on yourself")
	ErrInvalidBanPeriod = coreError(ErrCodeInvalidBanPeriod, "Ban must end in the future")

	// ErrPersist marks a change that was applied in memory but not saved.
	ErrPersist = coreError(ErrCodePersist, "Changes could not be saved")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
