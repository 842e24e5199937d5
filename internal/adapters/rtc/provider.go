package rtc

import (
	"github.com/rs/zerolog"

	"github.com/avroom/roomlink/internal/core"
)

// Provider creates outbound track handles. Video wraps a caller-owned
// source; the microphone is an RTP ingest port this process owns.
type Provider struct {
	micPort    int
	videoCodec string
	log        zerolog.Logger
}

func NewProvider(micPort int, videoCodec string, log zerolog.Logger) *Provider {
	return &Provider{
		micPort:    micPort,
		videoCodec: videoCodec,
		log:        log.With().Str("module", "rtc.provider").Logger(),
	}
}

func (p *Provider) WrapVideo(src core.MediaSource) (core.LocalTrack, error) {
	rtpSrc, ok := src.(Source)
	if !ok {
		return nil, providerErr("INVALID_PARAMS", "source %q does not carry RTP", src.ID())
	}
	if src.Kind() != core.TrackVideo {
		return nil, providerErr("INVALID_PARAMS", "source %q is not video", src.ID())
	}
	return newOutboundTrack(rtpSrc, codecFor(core.TrackVideo, p.videoCodec), core.TrackVideo, p.log)
}

func (p *Provider) AcquireMicrophone() (core.LocalTrack, error) {
	src, err := NewUDPSource(core.TrackAudio, p.micPort)
	if err != nil {
		return nil, err
	}
	track, err := newOutboundTrack(src, codecFor(core.TrackAudio, ""), core.TrackAudio, p.log)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	p.log.Info().Int("port", p.micPort).Msg("microphone ingest opened")
	return track, nil
}

var _ core.TrackProvider = (*Provider)(nil)
