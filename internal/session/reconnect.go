package session

import (
	"sync"
	"time"

	"github.com/avroom/roomlink/internal/core"
	"github.com/avroom/roomlink/internal/domain"
	"github.com/rs/zerolog"
)

// reconnector schedules rejoin attempts with exponential backoff after a
// mid-session disconnection. It remembers the session identity and
// whether an audio handle existed so the session can be restored without
// caller intervention. Video is never auto-republished: its source is
// caller-owned and must be re-armed explicitly.
type reconnector struct {
	mu sync.Mutex

	base        time.Duration
	cap         time.Duration
	maxAttempts int

	attempts int
	timer    core.Timer
	active   bool
	inFlight bool

	identity domain.Identity
	hadAudio bool

	clock       core.Clock
	rejoin      func(identity domain.Identity, hadAudio bool) error
	onScheduled func(ReconnectionEvent)
	onExhausted func(*ServiceError)
	log         zerolog.Logger
}

func newReconnector(base, cap time.Duration, maxAttempts int, clock core.Clock, log zerolog.Logger) *reconnector {
	return &reconnector{
		base:        base,
		cap:         cap,
		maxAttempts: maxAttempts,
		clock:       clock,
		log:         log.With().Str("module", "session.reconnect").Logger(),
	}
}

// Begin opens a disconnection episode. A second disconnection signal
// while an episode is active is ignored.
func (r *reconnector) Begin(identity domain.Identity, hadAudio bool) {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return
	}
	r.active = true
	r.identity = identity
	r.hadAudio = hadAudio
	r.mu.Unlock()

	r.log.Warn().
		Str("user", string(identity.User)).
		Str("room", string(identity.Room)).
		Bool("had_audio", hadAudio).
		Msg("connection lost, starting reconnection")
	r.scheduleNext()
}

// delay for attempt n is min(base * 2^(n-1), cap).
func (r *reconnector) delayFor(attempt int) time.Duration {
	d := r.base << (attempt - 1)
	if d > r.cap || d <= 0 {
		d = r.cap
	}
	return d
}

func (r *reconnector) scheduleNext() {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	attempt := r.attempts + 1
	delay := r.delayFor(attempt)
	ev := ReconnectionEvent{Attempt: attempt, MaxAttempts: r.maxAttempts, NextRetryDelay: delay}
	onScheduled := r.onScheduled
	r.timer = r.clock.AfterFunc(delay, func() { r.fire(attempt) })
	r.mu.Unlock()

	r.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("scheduling rejoin attempt")
	// Emitted after the arm: an event always corresponds to a timer that
	// was armed, and Cancel stops that timer even if the event is
	// already out.
	if onScheduled != nil {
		onScheduled(ev)
	}
}

func (r *reconnector) fire(attempt int) {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	r.attempts = attempt
	r.timer = nil
	r.inFlight = true
	identity := r.identity
	hadAudio := r.hadAudio
	r.mu.Unlock()

	err := r.rejoin(identity, hadAudio)

	r.mu.Lock()
	r.inFlight = false
	r.mu.Unlock()

	if err == nil {
		r.log.Info().Int("attempt", attempt).Msg("rejoin accepted")
		return
	}

	serr := Classify(err)
	r.log.Warn().Int("attempt", attempt).Str("error", serr.Message).Msg("rejoin failed")

	r.mu.Lock()
	exhausted := r.attempts >= r.maxAttempts
	if exhausted {
		r.active = false
		r.attempts = 0
		r.identity = domain.Identity{}
		r.hadAudio = false
	}
	onExhausted := r.onExhausted
	r.mu.Unlock()

	if exhausted {
		r.log.Error().Int("max_attempts", r.maxAttempts).Msg("reconnection attempts exhausted")
		if onExhausted != nil {
			onExhausted(serr)
		}
		return
	}
	r.scheduleNext()
}

// Kick re-arms the retry timer when a rejoin was accepted but the
// transport dropped again before full connectivity. Without it the
// episode would sit active with no timer pending.
func (r *reconnector) Kick() {
	r.mu.Lock()
	if !r.active || r.inFlight || r.timer != nil {
		r.mu.Unlock()
		return
	}
	attempts := r.attempts
	exhausted := attempts >= r.maxAttempts
	onExhausted := r.onExhausted
	if exhausted {
		r.active = false
		r.attempts = 0
		r.identity = domain.Identity{}
		r.hadAudio = false
	}
	r.mu.Unlock()

	if exhausted {
		r.log.Error().Int("max_attempts", r.maxAttempts).Msg("reconnection attempts exhausted")
		if onExhausted != nil {
			onExhausted(&ServiceError{
				Kind:        ErrorNetwork,
				Message:     "connection lost again before the rejoin completed",
				Recoverable: true,
			})
		}
		return
	}
	r.log.Warn().Int("attempt", attempts).Msg("rejoin lost connectivity, rescheduling")
	r.scheduleNext()
}

// OnReady closes the episode and resets the attempt counter. Called on
// every successful transition into StateReady.
func (r *reconnector) OnReady() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = 0
	r.active = false
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// Cancel drops the pending timer and clears reconnection memory.
// Called on explicit leave.
func (r *reconnector) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
	r.attempts = 0
	r.identity = domain.Identity{}
	r.hadAudio = false
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// Active reports whether a disconnection episode is in progress.
func (r *reconnector) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}
