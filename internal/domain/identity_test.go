package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdentity(t *testing.T) {
	long := UserID(strings.Repeat("x", MaxUserIDLen+1))

	tests := []struct {
		name    string
		user    UserID
		room    RoomID
		wantErr error
	}{
		{name: "valid", user: "u1", room: "lobby"},
		{name: "empty user", user: "", room: "lobby", wantErr: ErrUserIDEmpty},
		{name: "empty room", user: "u1", room: "", wantErr: ErrRoomIDEmpty},
		{name: "user too long", user: long, room: "lobby", wantErr: ErrUserIDTooLong},
		{name: "room too long", user: "u1", room: RoomID(long), wantErr: ErrRoomIDTooLong},
		{name: "max length ok", user: UserID(long[:MaxUserIDLen]), room: "lobby"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			id, err := NewIdentity(tc.user, tc.room)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.True(t, id.Zero())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.user, id.User)
			assert.Equal(t, tc.room, id.Room)
			assert.False(t, id.Zero())
		})
	}
}

func TestIdentityEqual(t *testing.T) {
	a := Identity{User: "u1", Room: "lobby"}
	assert.True(t, a.Equal(Identity{User: "u1", Room: "lobby"}))
	assert.False(t, a.Equal(Identity{User: "u2", Room: "lobby"}))
	assert.False(t, a.Equal(Identity{User: "u1", Room: "stage"}))
	assert.True(t, Identity{}.Zero())
}

func TestIdentityChannel(t *testing.T) {
	id := Identity{User: "u1", Room: "lobby"}
	assert.Equal(t, "room-lobby", id.Channel("room-"))
	assert.Equal(t, "lobby", id.Channel(""))
}
