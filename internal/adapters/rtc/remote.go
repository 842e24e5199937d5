package rtc

import (
	"github.com/avroom/roomlink/internal/core"
	"github.com/avroom/roomlink/internal/domain"
)

// remoteUser is the capability view the session core sees for a remote
// participant. Built from signaling announcements, never from raw
// provider objects.
type remoteUser struct {
	id    domain.UserID
	audio bool
	video bool
}

func (u remoteUser) ID() domain.UserID { return u.id }
func (u remoteUser) HasAudio() bool    { return u.audio }
func (u remoteUser) HasVideo() bool    { return u.video }

var _ core.RemoteUser = remoteUser{}
