package session

import (
	"github.com/avroom/roomlink/internal/core"
)

// Publish/unpublish entry points are enqueue-only: they return
// immediately and completion is observed via subscriptions.

func (s *Service) PublishVideo(src core.MediaSource) error {
	if src == nil {
		return ErrNilSource
	}
	if s.isDestroyed() {
		return ErrDestroyed
	}
	s.queue.Enqueue(&operation{kind: opPublishVideo, source: src})
	return nil
}

func (s *Service) PublishAudio() error {
	if s.isDestroyed() {
		return ErrDestroyed
	}
	s.queue.Enqueue(&operation{kind: opPublishAudio})
	return nil
}

func (s *Service) UnpublishVideo() error {
	if s.isDestroyed() {
		return ErrDestroyed
	}
	s.queue.Enqueue(&operation{kind: opUnpublishVideo})
	return nil
}

func (s *Service) UnpublishAudio() error {
	if s.isDestroyed() {
		return ErrDestroyed
	}
	s.queue.Enqueue(&operation{kind: opUnpublishAudio})
	return nil
}

// SetAudioEnabled mutes/unmutes the existing audio handle in place. No
// transport round-trip, no queue interaction.
func (s *Service) SetAudioEnabled(enabled bool) error {
	s.mu.Lock()
	track := s.audio
	s.mu.Unlock()
	if track == nil {
		return ErrNoTrack
	}
	track.SetEnabled(enabled)
	return nil
}

func (s *Service) SetVideoEnabled(enabled bool) error {
	s.mu.Lock()
	track := s.video
	s.mu.Unlock()
	if track == nil {
		return ErrNoTrack
	}
	track.SetEnabled(enabled)
	return nil
}

func (s *Service) isDestroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// executeOp runs on the queue's drain goroutine, one operation at a
// time.
func (s *Service) executeOp(op *operation) error {
	switch op.kind {
	case opPublishVideo:
		return s.doPublishVideo(op.source)
	case opPublishAudio:
		return s.doPublishAudio()
	case opUnpublishVideo:
		return s.doUnpublishTrack(core.TrackVideo)
	case opUnpublishAudio:
		return s.doUnpublishTrack(core.TrackAudio)
	default:
		return nil
	}
}

func notReadyError() *ServiceError {
	return &ServiceError{
		Kind:        ErrorSDK,
		Message:     "publish attempted before the session is established",
		Code:        "NOT_READY",
		Recoverable: true,
	}
}

// doPublishVideo creates at most one outbound video handle per session,
// ever: a publish while a handle exists is downgraded to an enable
// toggle.
func (s *Service) doPublishVideo(src core.MediaSource) error {
	st := s.sm.Current()
	if st != StateReady && st != StatePublishing && st != StatePublished {
		return notReadyError()
	}

	s.mu.Lock()
	if s.video != nil {
		track := s.video
		s.mu.Unlock()
		track.SetEnabled(true)
		return nil
	}
	client := s.client
	sctx := s.ctx
	s.mu.Unlock()
	if client == nil || sctx == nil {
		return notReadyError()
	}

	s.sm.TransitionTo(StatePublishing, nil)

	track, err := s.provider.WrapVideo(src)
	if err != nil {
		s.sm.TransitionTo(StateReady, nil)
		return err
	}
	if err := client.Publish(sctx, track); err != nil {
		// A "haven't joined yet" failure lands here too; the queue
		// re-runs the operation with the same payload once the race
		// between join acceptance and full connectivity settles.
		track.Stop()
		s.sm.TransitionTo(StateReady, nil)
		return err
	}

	s.mu.Lock()
	s.video = track
	s.mu.Unlock()
	s.sm.TransitionTo(StatePublished, nil)
	s.log.Info().Str("track", track.ID()).Msg("video published")
	return nil
}

func (s *Service) doPublishAudio() error {
	st := s.sm.Current()
	if st != StateReady && st != StatePublishing && st != StatePublished {
		return notReadyError()
	}

	s.mu.Lock()
	if s.audio != nil {
		track := s.audio
		s.mu.Unlock()
		track.SetEnabled(true)
		return nil
	}
	client := s.client
	sctx := s.ctx
	s.mu.Unlock()
	if client == nil || sctx == nil {
		return notReadyError()
	}

	track, err := s.provider.AcquireMicrophone()
	if err != nil {
		return err
	}
	if err := client.Publish(sctx, track); err != nil {
		track.Stop()
		return err
	}

	s.mu.Lock()
	s.audio = track
	s.mu.Unlock()
	s.log.Info().Str("track", track.ID()).Msg("audio published")
	return nil
}

// doUnpublishTrack is best-effort on the transport side but always
// stops and clears the local handle, so a capture device never leaks
// behind a failed unpublish.
func (s *Service) doUnpublishTrack(kind core.TrackKind) error {
	s.mu.Lock()
	var track core.LocalTrack
	if kind == core.TrackAudio {
		track = s.audio
	} else {
		track = s.video
	}
	client := s.client
	sctx := s.ctx
	s.mu.Unlock()

	if track == nil {
		return nil
	}
	if client != nil && sctx != nil {
		if err := client.Unpublish(sctx, track); err != nil {
			serr := Classify(err)
			s.log.Warn().Str("kind", string(kind)).Str("error", serr.Message).Msg("transport unpublish failed")
			s.errorSubs.Emit(serr)
		}
	}
	track.Stop()

	s.mu.Lock()
	if kind == core.TrackAudio {
		s.audio = nil
	} else {
		s.video = nil
	}
	s.mu.Unlock()
	s.log.Info().Str("kind", string(kind)).Msg("track unpublished")
	return nil
}
