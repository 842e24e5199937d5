package rtc

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/avroom/roomlink/internal/core"
)

type trackState int32

const (
	trackStateOk trackState = iota
	trackStateMuted
	trackStateStopped
)

// OutboundTrack wraps a local static RTP track and pumps packets from
// its Source. Muting drops packets locally instead of touching the
// transport.
type OutboundTrack struct {
	id    string
	kind  core.TrackKind
	local *webrtc.TrackLocalStaticRTP
	src   Source
	state atomic.Int32 // zero is trackStateOk
	log   zerolog.Logger
}

func newOutboundTrack(src Source, codec webrtc.RTPCodecCapability, kind core.TrackKind, log zerolog.Logger) (*OutboundTrack, error) {
	id := uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticRTP(codec, id, "roomlink-"+string(kind))
	if err != nil {
		return nil, err
	}
	t := &OutboundTrack{
		id:    id,
		kind:  kind,
		local: local,
		src:   src,
		log:   log.With().Str("module", "rtc.track").Str("track", id).Str("kind", string(kind)).Logger(),
	}
	go t.pump()
	return t, nil
}

// pump forwards RTP from the source into the local track until the
// source fails or the track is stopped.
func (t *OutboundTrack) pump() {
	for {
		pkt, err := t.src.ReadRTP()
		if err != nil {
			if t.State() != trackStateStopped {
				t.log.Warn().Err(err).Msg("source read error, stopping pump")
			}
			return
		}
		switch t.State() {
		case trackStateStopped:
			return
		case trackStateMuted:
			continue
		case trackStateOk:
			if err := t.local.WriteRTP(pkt); err != nil {
				t.log.Warn().Err(err).Msg("track write error")
			}
		}
	}
}

func (t *OutboundTrack) State() trackState {
	return trackState(t.state.Load())
}

func (t *OutboundTrack) ID() string           { return t.id }
func (t *OutboundTrack) Kind() core.TrackKind { return t.kind }

func (t *OutboundTrack) SetEnabled(enabled bool) {
	if t.State() == trackStateStopped {
		return
	}
	if enabled {
		t.state.Store(int32(trackStateOk))
	} else {
		t.state.Store(int32(trackStateMuted))
	}
}

func (t *OutboundTrack) Enabled() bool {
	return t.State() == trackStateOk
}

func (t *OutboundTrack) Stop() {
	if t.state.Swap(int32(trackStateStopped)) == int32(trackStateStopped) {
		return
	}
	if err := t.src.Close(); err != nil {
		t.log.Warn().Err(err).Msg("source close")
	}
	t.log.Info().Msg("track stopped")
}

func (t *OutboundTrack) rtpTrack() *webrtc.TrackLocalStaticRTP { return t.local }

func codecFor(kind core.TrackKind, videoCodec string) webrtc.RTPCodecCapability {
	if kind == core.TrackAudio {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	switch videoCodec {
	case "h264":
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000}
	default:
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
}
