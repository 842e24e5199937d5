// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const (
	MaxUserIDLen = 36
	MaxRoomIDLen = 36
)

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
	ErrRoomIDEmpty   = errors.New("room id empty")
	ErrRoomIDTooLong = errors.New("room id too long")
)

type (
	UserID string
	RoomID string
)

// Identity is one (user, room) pairing. At most one Identity is active
// per service instance at a time.
type Identity struct {
	User UserID
	Room RoomID
}

// NewIdentity avoids ad-hoc struct literals in adapters and validates
// the caller-supplied pair.
func NewIdentity(user UserID, room RoomID) (Identity, error) {
	if len(user) == 0 {
		return Identity{}, ErrUserIDEmpty
	}
	if len(user) > MaxUserIDLen {
		return Identity{}, ErrUserIDTooLong
	}
	if len(room) == 0 {
		return Identity{}, ErrRoomIDEmpty
	}
	if len(room) > MaxRoomIDLen {
		return Identity{}, ErrRoomIDTooLong
	}
	return Identity{User: user, Room: room}, nil
}

func (i Identity) Equal(other Identity) bool {
	return i.User == other.User && i.Room == other.Room
}

func (i Identity) Zero() bool {
	return i.User == "" && i.Room == ""
}

// Channel namespaces the room id into a provider channel name.
func (i Identity) Channel(prefix string) string {
	return prefix + string(i.Room)
}
