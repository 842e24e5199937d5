package core

import (
	"context"

	"github.com/avroom/roomlink/internal/domain"
)

// ConnSignal is a transport-reported connection transition.
type ConnSignal int

const (
	SignalConnected ConnSignal = iota
	SignalDisconnected
	SignalReconnecting
)

func (s ConnSignal) String() string {
	switch s {
	case SignalConnected:
		return "connected"
	case SignalDisconnected:
		return "disconnected"
	case SignalReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// RemoteUser is a narrow capability view over a provider participant
// object. The session core never sees the provider's own shape.
type RemoteUser interface {
	ID() domain.UserID
	HasAudio() bool
	HasVideo() bool
}

// Client abstracts one provider session handle.
// Join resolves on call acceptance, not on full connectivity; full
// establishment is reported via OnConnSignal(SignalConnected).
type Client interface {
	Join(ctx context.Context, channel string, uid domain.UserID) error
	Publish(ctx context.Context, track LocalTrack) error
	Unpublish(ctx context.Context, track LocalTrack) error
	Subscribe(ctx context.Context, user RemoteUser, kind TrackKind) error
	Leave(ctx context.Context) error

	// Handler setters. Passing nil detaches.
	OnConnSignal(func(ConnSignal))
	OnUserPublished(func(RemoteUser, TrackKind))
	OnUserUnpublished(func(RemoteUser, TrackKind))
	OnException(func(error))
}

// ClientFactory constructs provider clients. Reconnection may discard a
// torn-down client and ask for a fresh one.
type ClientFactory interface {
	CreateClient(mode, codec string) (Client, error)
}
