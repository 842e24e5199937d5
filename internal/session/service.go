// Package session owns the lifecycle of one real-time media session
// against an external transport provider: establishing it, keeping it
// alive through disconnections, and serializing caller-issued
// publish/unpublish operations against a connection state that changes
// asynchronously.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/avroom/roomlink/internal/core"
	"github.com/avroom/roomlink/internal/domain"
	"github.com/rs/zerolog"
)

var (
	ErrDestroyed = errors.New("session service destroyed")
	ErrNoTrack   = errors.New("no active track of that kind")
	ErrNilSource = errors.New("nil media source")
)

type Options struct {
	AppID                string
	ChannelPrefix        string
	ClientMode           string
	ClientCodec          string
	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	ReconnectMaxAttempts int
}

func (o *Options) withDefaults() {
	if o.ClientMode == "" {
		o.ClientMode = "rtc"
	}
	if o.ClientCodec == "" {
		o.ClientCodec = "vp8"
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = time.Second
	}
	if o.ReconnectCap <= 0 {
		o.ReconnectCap = 30 * time.Second
	}
	if o.ReconnectMaxAttempts <= 0 {
		o.ReconnectMaxAttempts = 5
	}
}

// Tracks is a read-only snapshot of the outbound handles.
type Tracks struct {
	Audio core.LocalTrack
	Video core.LocalTrack
}

// Service is the public surface of the media session. Construct one per
// owner and pass it explicitly; instances are independent.
type Service struct {
	opts     Options
	factory  core.ClientFactory
	provider core.TrackProvider
	clock    core.Clock
	log      zerolog.Logger

	sm    *stateMachine
	queue *operationQueue
	rc    *reconnector

	mu        sync.Mutex
	client    core.Client
	identity  domain.Identity
	audio     core.LocalTrack
	video     core.LocalTrack
	ctx       context.Context
	cancel    context.CancelFunc
	destroyed bool

	stateSubs       registry[StateChange]
	remotePubSubs   registry[RemoteEvent]
	remoteUnpubSubs registry[RemoteEvent]
	reconnSubs      registry[ReconnectionEvent]
	errorSubs       registry[*ServiceError]
}

func NewService(factory core.ClientFactory, provider core.TrackProvider, opts Options, clock core.Clock, log zerolog.Logger) *Service {
	opts.withDefaults()
	if clock == nil {
		clock = core.RealClock()
	}
	s := &Service{
		opts:     opts,
		factory:  factory,
		provider: provider,
		clock:    clock,
		log:      log.With().Str("module", "session").Logger(),
	}

	s.sm = newStateMachine(log)
	s.sm.notify = func(ch StateChange) { s.stateSubs.Emit(ch) }
	s.sm.onReady = func() {
		s.rc.OnReady()
		s.queue.Drain()
	}

	s.queue = newOperationQueue(clock, log)
	s.queue.drainable = s.sm.drainable
	s.queue.exec = s.executeOp
	s.queue.onError = func(serr *ServiceError) { s.errorSubs.Emit(serr) }

	s.rc = newReconnector(opts.ReconnectBase, opts.ReconnectCap, opts.ReconnectMaxAttempts, clock, log)
	s.rc.rejoin = s.rejoinSession
	s.rc.onScheduled = func(ev ReconnectionEvent) { s.reconnSubs.Emit(ev) }
	s.rc.onExhausted = func(serr *ServiceError) {
		s.sm.TransitionTo(StateError, serr)
		s.errorSubs.Emit(serr)
	}

	return s
}

// Initialize establishes a session for the given (user, room) pair.
// Idempotent if the same pair is already active; a different pair tears
// the current session down first. Join failure moves the state to
// StateError and is not silently retried.
func (s *Service) Initialize(ctx context.Context, user domain.UserID, room domain.RoomID) error {
	identity, err := domain.NewIdentity(user, room)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	if !s.identity.Zero() {
		if s.identity.Equal(identity) && s.sm.Current() != StateError {
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()
		if err := s.Leave(ctx); err != nil {
			s.log.Warn().Err(err).Msg("teardown before re-initialize")
		}
		s.mu.Lock()
	}
	s.identity = identity
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.queue.Reset()
	s.log.Info().Str("user", string(user)).Str("room", string(room)).Msg("initializing session")
	return s.join(identity, false)
}

// join constructs a client, wires its events and issues the join call.
// For rejoin the state stays StateReconnecting; scheduling of further
// attempts is the reconnector's business.
func (s *Service) join(identity domain.Identity, rejoin bool) error {
	if !rejoin {
		s.sm.TransitionTo(StateInitializing, nil)
	}

	client, err := s.factory.CreateClient(s.opts.ClientMode, s.opts.ClientCodec)
	if err != nil {
		return s.failJoin(err, rejoin)
	}
	s.attachHandlers(client)

	s.mu.Lock()
	s.client = client
	sctx := s.ctx
	s.mu.Unlock()
	if sctx == nil {
		sctx = context.Background()
	}

	if !rejoin {
		s.sm.TransitionTo(StateJoining, nil)
	}
	if err := client.Join(sctx, identity.Channel(s.opts.ChannelPrefix), identity.User); err != nil {
		return s.failJoin(err, rejoin)
	}
	return nil
}

func (s *Service) failJoin(err error, rejoin bool) error {
	serr := Classify(err)
	if rejoin {
		return serr
	}
	s.errorSubs.Emit(serr)
	s.sm.TransitionTo(StateError, serr)
	return serr
}

// rejoinSession is invoked by the reconnector timer. Outbound handles
// from the lost transport session are stale; audio is re-submitted
// through the queue, video waits for the caller to re-arm it.
func (s *Service) rejoinSession(identity domain.Identity, hadAudio bool) error {
	s.mu.Lock()
	if s.identity.Zero() || !s.identity.Equal(identity) {
		s.mu.Unlock()
		return nil
	}
	old := s.client
	sctx := s.ctx
	s.mu.Unlock()
	if old != nil {
		// The superseded client still holds its peer connection and
		// signaling socket; release them before dialing fresh.
		s.detachHandlers(old)
		if sctx == nil {
			sctx = context.Background()
		}
		if err := old.Leave(sctx); err != nil {
			s.log.Warn().Err(err).Msg("release superseded client")
		}
	}

	if err := s.join(identity, true); err != nil {
		return err
	}

	s.mu.Lock()
	if s.audio != nil {
		s.audio.Stop()
		s.audio = nil
	}
	if s.video != nil {
		s.video.Stop()
		s.video = nil
	}
	s.mu.Unlock()

	if hadAudio {
		s.queue.Enqueue(&operation{kind: opPublishAudio})
	}
	return nil
}

// Leave tears the session down: cancels any pending reconnection,
// abandons queued operations, destroys track handles best-effort and
// settles on StateIdle.
func (s *Service) Leave(ctx context.Context) error {
	s.rc.Cancel()

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.queue.Close()

	s.mu.Lock()
	client := s.client
	audio, video := s.audio, s.video
	s.client = nil
	s.audio = nil
	s.video = nil
	s.identity = domain.Identity{}
	s.ctx, s.cancel = nil, nil
	s.mu.Unlock()

	if client != nil {
		if audio != nil {
			if err := client.Unpublish(ctx, audio); err != nil {
				s.log.Warn().Err(err).Msg("unpublish audio on leave")
			}
		}
		if video != nil {
			if err := client.Unpublish(ctx, video); err != nil {
				s.log.Warn().Err(err).Msg("unpublish video on leave")
			}
		}
	}
	if audio != nil {
		audio.Stop()
	}
	if video != nil {
		video.Stop()
	}
	if client != nil {
		s.detachHandlers(client)
		if err := client.Leave(ctx); err != nil {
			s.log.Warn().Err(err).Msg("transport leave")
		}
	}

	s.sm.TransitionTo(StateIdle, nil)
	s.log.Info().Msg("session left")
	return nil
}

// Destroy is Leave plus permanent subscriber clearing; the instance is
// inert afterwards.
func (s *Service) Destroy(ctx context.Context) error {
	err := s.Leave(ctx)

	s.mu.Lock()
	s.destroyed = true
	s.mu.Unlock()

	s.stateSubs.Clear()
	s.remotePubSubs.Clear()
	s.remoteUnpubSubs.Clear()
	s.reconnSubs.Clear()
	s.errorSubs.Clear()
	return err
}

func (s *Service) attachHandlers(client core.Client) {
	client.OnConnSignal(s.handleConnSignal)
	client.OnUserPublished(s.handleUserPublished)
	client.OnUserUnpublished(s.handleUserUnpublished)
	client.OnException(s.handleException)
}

func (s *Service) detachHandlers(client core.Client) {
	client.OnConnSignal(nil)
	client.OnUserPublished(nil)
	client.OnUserUnpublished(nil)
	client.OnException(nil)
}

func (s *Service) handleConnSignal(sig core.ConnSignal) {
	s.log.Debug().Str("signal", sig.String()).Msg("transport signal")
	switch sig {
	case core.SignalConnected:
		// Join resolved earlier on acceptance; only now is the session
		// fully established and safe to publish into.
		st := s.sm.Current()
		if st == StateJoining || st == StateReconnecting {
			s.sm.TransitionTo(StateReady, nil)
		}
	case core.SignalDisconnected, core.SignalReconnecting:
		s.mu.Lock()
		identity := s.identity
		hadAudio := s.audio != nil
		s.mu.Unlock()
		if identity.Zero() {
			return
		}
		st := s.sm.Current()
		switch {
		case st == StateReady || st == StatePublishing || st == StatePublished:
			s.sm.TransitionTo(StateReconnecting, nil)
			s.rc.Begin(identity, hadAudio)
		case st == StateReconnecting:
			// A rejoin was accepted but the transport dropped again
			// before reaching full connectivity.
			s.rc.Kick()
		case st == StateJoining && sig == core.SignalDisconnected:
			// Join was accepted but the connection died before full
			// establishment. Reconnection only covers established
			// sessions, so surface it instead of sitting in joining.
			serr := &ServiceError{
				Kind:        ErrorNetwork,
				Message:     "connection lost before the join completed",
				Recoverable: true,
			}
			s.sm.TransitionTo(StateError, serr)
			s.errorSubs.Emit(serr)
		}
	}
}

func (s *Service) handleUserPublished(user core.RemoteUser, kind core.TrackKind) {
	s.mu.Lock()
	client := s.client
	sctx := s.ctx
	s.mu.Unlock()
	if client != nil && sctx != nil {
		if err := client.Subscribe(sctx, user, kind); err != nil {
			s.log.Warn().Err(err).Str("user", string(user.ID())).Str("kind", string(kind)).Msg("subscribe remote")
		}
	}
	s.remotePubSubs.Emit(RemoteEvent{User: user, Kind: kind})
}

func (s *Service) handleUserUnpublished(user core.RemoteUser, kind core.TrackKind) {
	s.remoteUnpubSubs.Emit(RemoteEvent{User: user, Kind: kind})
}

func (s *Service) handleException(err error) {
	serr := Classify(err)
	s.log.Warn().Str("kind", serr.Kind.String()).Str("error", serr.Message).Msg("transport exception")
	s.errorSubs.Emit(serr)
}

// State is a synchronous read, safe from any goroutine.
func (s *Service) State() ConnectionState { return s.sm.Current() }

func (s *Service) TracksSnapshot() Tracks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Tracks{Audio: s.audio, Video: s.video}
}

func (s *Service) PendingOperations() int { return s.queue.Len() }

// Subscription registration. Each returns an unregister func.

func (s *Service) OnStateChange(fn func(StateChange)) func() { return s.stateSubs.Add(fn) }

func (s *Service) OnRemoteUserPublished(fn func(RemoteEvent)) func() { return s.remotePubSubs.Add(fn) }

func (s *Service) OnRemoteUserUnpublished(fn func(RemoteEvent)) func() {
	return s.remoteUnpubSubs.Add(fn)
}

func (s *Service) OnReconnection(fn func(ReconnectionEvent)) func() { return s.reconnSubs.Add(fn) }

func (s *Service) OnError(fn func(*ServiceError)) func() { return s.errorSubs.Add(fn) }
