package utils

import (
	"math/rand/v2"

	"github.com/google/uuid"
)

// NewSessionID returns a unique identifier for a live connection.
func NewSessionID() string {
	return uuid.NewString()
}

// RandomRoomID returns a random positive room id. Room 0 is never produced.
func RandomRoomID() int64 {
	return rand.Int64N(1<<31-1) + 1
}
