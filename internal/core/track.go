package core

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

func (k TrackKind) Valid() bool {
	return k == TrackAudio || k == TrackVideo
}

// MediaSource is a caller-owned raw media source to be wrapped into an
// outbound track. The service never reads from it directly.
type MediaSource interface {
	ID() string
	Kind() TrackKind
}

// LocalTrack is an active outbound track handle.
// Owned by the session; the session must Stop() it.
type LocalTrack interface {
	ID() string
	Kind() TrackKind
	// SetEnabled mutes/unmutes without a transport round-trip.
	SetEnabled(enabled bool)
	Enabled() bool
	// Stop releases the underlying capture/source resources.
	Stop()
}

// TrackProvider creates outbound track handles from the environment.
type TrackProvider interface {
	// WrapVideo wraps a caller-supplied raw source into an outbound handle.
	WrapVideo(src MediaSource) (LocalTrack, error)
	// AcquireMicrophone opens a microphone-class source and wraps it.
	AcquireMicrophone() (LocalTrack, error)
}
