// Package rtc implements the session transport contract on top of
// pion/webrtc plus a websocket signaling channel.
package rtc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/avroom/roomlink/internal/adapters/signalws"
	"github.com/avroom/roomlink/internal/core"
	"github.com/avroom/roomlink/internal/domain"
)

const defaultJoinTimeout = 10 * time.Second

type Config struct {
	SignalURL   string
	AppID       string
	ICEServers  []string
	JoinTimeout time.Duration
}

type Factory struct {
	cfg Config
	log zerolog.Logger
}

func NewFactory(cfg Config, log zerolog.Logger) *Factory {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defaultJoinTimeout
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []string{"stun:stun.l.google.com:19302"}
	}
	return &Factory{cfg: cfg, log: log}
}

func (f *Factory) CreateClient(mode, codec string) (core.Client, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: f.cfg.ICEServers}},
	})
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:   f.cfg,
		mode:  mode,
		codec: codec,
		pc:    pc,
		log:   f.log.With().Str("module", "rtc").Logger(),
	}, nil
}

// Client is one provider session handle. Join resolves when the
// signaling server accepts the join; core.SignalConnected follows once
// the peer connection is fully established.
type Client struct {
	cfg   Config
	mode  string
	codec string
	log   zerolog.Logger

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	sig     *signalws.Client
	joined  bool
	senders map[string]*webrtc.RTPSender
	cancel  context.CancelFunc

	onConnSignal      func(core.ConnSignal)
	onUserPublished   func(core.RemoteUser, core.TrackKind)
	onUserUnpublished func(core.RemoteUser, core.TrackKind)
	onException       func(error)
}

func (c *Client) Join(ctx context.Context, channel string, uid domain.UserID) error {
	c.mu.Lock()
	if c.joined {
		c.mu.Unlock()
		return providerErr("INVALID_OPERATION", "already joined")
	}
	pc := c.pc
	c.mu.Unlock()

	sig, err := signalws.Dial(ctx, c.cfg.SignalURL, c.log)
	if err != nil {
		return &ProviderError{Code: "NETWORK_ERROR", Message: "signaling dial failed", Err: err}
	}

	ack := make(chan error, 1)
	c.wireSignaling(sig, ack)
	c.wirePeerConnection(pc)

	sigCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.sig = sig
	c.senders = make(map[string]*webrtc.RTPSender)
	c.cancel = cancel
	c.mu.Unlock()
	sig.Start(sigCtx)

	if err := sig.Send("join", signalws.JoinPayload{
		Channel: channel,
		UserID:  string(uid),
		AppID:   c.cfg.AppID,
	}); err != nil {
		c.teardown()
		return err
	}

	select {
	case err := <-ack:
		if err != nil {
			c.teardown()
			return err
		}
	case <-ctx.Done():
		c.teardown()
		return ctx.Err()
	case <-time.After(c.cfg.JoinTimeout):
		c.teardown()
		return &ProviderError{Code: "NETWORK_TIMEOUT", Message: "join not acknowledged"}
	}

	c.mu.Lock()
	c.joined = true
	c.mu.Unlock()
	c.log.Info().Str("channel", channel).Str("uid", string(uid)).Msg("join accepted")

	// Kick off the media negotiation; connectivity is reported via the
	// peer connection state callback.
	return c.negotiate()
}

func (c *Client) Publish(ctx context.Context, track core.LocalTrack) error {
	out, ok := track.(*OutboundTrack)
	if !ok {
		return providerErr("INVALID_PARAMS", "track %q is not an rtc outbound track", track.ID())
	}

	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return providerErr("INVALID_OPERATION", "haven't joined a channel yet")
	}
	pc := c.pc
	c.mu.Unlock()

	sender, err := pc.AddTrack(out.rtpTrack())
	if err != nil {
		return &ProviderError{Code: "INVALID_OPERATION", Message: "add track failed", Err: err}
	}
	c.mu.Lock()
	c.senders[track.ID()] = sender
	c.mu.Unlock()

	c.log.Info().Str("track", track.ID()).Str("kind", string(track.Kind())).Msg("publishing track")
	return c.negotiate()
}

func (c *Client) Unpublish(ctx context.Context, track core.LocalTrack) error {
	c.mu.Lock()
	sender, ok := c.senders[track.ID()]
	if ok {
		delete(c.senders, track.ID())
	}
	pc := c.pc
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if err := pc.RemoveTrack(sender); err != nil {
		return &ProviderError{Code: "INVALID_OPERATION", Message: "remove track failed", Err: err}
	}
	c.log.Info().Str("track", track.ID()).Msg("unpublished track")
	return c.negotiate()
}

func (c *Client) Subscribe(ctx context.Context, user core.RemoteUser, kind core.TrackKind) error {
	c.mu.Lock()
	sig := c.sig
	joined := c.joined
	c.mu.Unlock()
	if sig == nil || !joined {
		return providerErr("INVALID_OPERATION", "haven't joined a channel yet")
	}
	return sig.Send("subscribe", signalws.SubscribePayload{
		UserID: string(user.ID()),
		Kind:   string(kind),
	})
}

func (c *Client) Leave(ctx context.Context) error {
	c.mu.Lock()
	sig := c.sig
	c.mu.Unlock()
	if sig != nil {
		_ = sig.Send("leave", nil)
	}
	c.teardown()
	c.log.Info().Msg("left channel")
	return nil
}

func (c *Client) teardown() {
	c.mu.Lock()
	sig := c.sig
	pc := c.pc
	cancel := c.cancel
	c.sig = nil
	c.joined = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sig != nil {
		sig.Close()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			c.log.Warn().Err(err).Msg("peer connection close")
		}
	}
}

// negotiate creates and sends a fresh offer; the answer is applied by
// the signaling handler.
func (c *Client) negotiate() error {
	c.mu.Lock()
	pc := c.pc
	sig := c.sig
	c.mu.Unlock()
	if sig == nil {
		return providerErr("INVALID_OPERATION", "no signaling connection")
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return &ProviderError{Code: "INVALID_OPERATION", Message: "create offer failed", Err: err}
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return &ProviderError{Code: "INVALID_OPERATION", Message: "set local description failed", Err: err}
	}
	return sig.Send("offer", signalws.SDPPayload{SDP: offer.SDP, Kind: "offer"})
}

func (c *Client) wirePeerConnection(pc *webrtc.PeerConnection) {
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		c.log.Info().Str("peer_state", st.String()).Msg("peer connection state")
		var sig core.ConnSignal
		switch st {
		case webrtc.PeerConnectionStateConnected:
			sig = core.SignalConnected
		case webrtc.PeerConnectionStateDisconnected:
			sig = core.SignalReconnecting
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			sig = core.SignalDisconnected
		default:
			return
		}
		c.emitConnSignal(sig)
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		sig := c.sig
		c.mu.Unlock()
		if sig == nil {
			return
		}
		ci := cand.ToJSON()
		if err := sig.Send("candidate", signalws.CandidatePayload{
			Candidate:     ci.Candidate,
			SDPMid:        ci.SDPMid,
			SDPMLineIndex: ci.SDPMLineIndex,
		}); err != nil {
			c.log.Warn().Err(err).Msg("send candidate")
		}
	})
}

func (c *Client) wireSignaling(sig *signalws.Client, ack chan<- error) {
	sig.On("joined", func(env signalws.Envelope) {
		select {
		case ack <- nil:
		default:
		}
	})

	sig.On("error", func(env signalws.Envelope) {
		var p signalws.ErrorPayload
		decode(env, &p, c.log)
		perr := &ProviderError{Code: p.Code, Message: p.Message}
		select {
		case ack <- perr:
		default:
			c.emitException(perr)
		}
	})

	sig.On("answer", func(env signalws.Envelope) {
		var p signalws.SDPPayload
		if !decode(env, &p, c.log) {
			return
		}
		c.mu.Lock()
		pc := c.pc
		c.mu.Unlock()
		if err := pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  p.SDP,
		}); err != nil {
			c.emitException(&ProviderError{Code: "INVALID_OPERATION", Message: "apply answer failed", Err: err})
		}
	})

	sig.On("candidate", func(env signalws.Envelope) {
		var p signalws.CandidatePayload
		if !decode(env, &p, c.log) {
			return
		}
		c.mu.Lock()
		pc := c.pc
		c.mu.Unlock()
		if err := pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     p.Candidate,
			SDPMid:        p.SDPMid,
			SDPMLineIndex: p.SDPMLineIndex,
		}); err != nil {
			c.log.Warn().Err(err).Msg("add remote candidate")
		}
	})

	sig.On("user-published", func(env signalws.Envelope) {
		var p signalws.UserMediaPayload
		if !decode(env, &p, c.log) {
			return
		}
		c.mu.Lock()
		fn := c.onUserPublished
		c.mu.Unlock()
		if fn != nil {
			fn(remoteUser{id: domain.UserID(p.UserID), audio: p.Audio, video: p.Video}, core.TrackKind(p.Kind))
		}
	})

	sig.On("user-unpublished", func(env signalws.Envelope) {
		var p signalws.UserMediaPayload
		if !decode(env, &p, c.log) {
			return
		}
		c.mu.Lock()
		fn := c.onUserUnpublished
		c.mu.Unlock()
		if fn != nil {
			fn(remoteUser{id: domain.UserID(p.UserID), audio: p.Audio, video: p.Video}, core.TrackKind(p.Kind))
		}
	})

	sig.OnClosed(func() {
		c.mu.Lock()
		joined := c.joined
		c.mu.Unlock()
		if joined {
			c.emitConnSignal(core.SignalDisconnected)
		}
	})
}

func (c *Client) emitConnSignal(sig core.ConnSignal) {
	c.mu.Lock()
	fn := c.onConnSignal
	c.mu.Unlock()
	if fn != nil {
		fn(sig)
	}
}

func (c *Client) emitException(err error) {
	c.mu.Lock()
	fn := c.onException
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (c *Client) OnConnSignal(fn func(core.ConnSignal)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnSignal = fn
}

func (c *Client) OnUserPublished(fn func(core.RemoteUser, core.TrackKind)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUserPublished = fn
}

func (c *Client) OnUserUnpublished(fn func(core.RemoteUser, core.TrackKind)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUserUnpublished = fn
}

func (c *Client) OnException(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onException = fn
}

func decode(env signalws.Envelope, v any, log zerolog.Logger) bool {
	if env.Payload == nil {
		return false
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		log.Error().Err(err).Str("type", env.Type).Msg("bad payload")
		return false
	}
	return true
}
