package session

import (
	"sync"

	"github.com/rs/zerolog"
)

// ConnectionState is the authoritative session state.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateInitializing
	StateJoining
	StateReady
	StatePublishing
	StatePublished
	StateReconnecting
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateJoining:
		return "joining"
	case StateReady:
		return "ready"
	case StatePublishing:
		return "publishing"
	case StatePublished:
		return "published"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// StateChange is delivered to state subscribers on every transition.
type StateChange struct {
	Previous ConnectionState
	Current  ConnectionState
	Err      *ServiceError
}

// stateMachine owns the current ConnectionState. Transitions notify
// subscribers synchronously in registration order; entering StateReady
// arms the operation queue via onReady.
type stateMachine struct {
	mu      sync.Mutex
	current ConnectionState

	onReady func()
	notify  func(StateChange)
	log     zerolog.Logger
}

func newStateMachine(log zerolog.Logger) *stateMachine {
	return &stateMachine{
		current: StateIdle,
		log:     log.With().Str("module", "session.state").Logger(),
	}
}

func (m *stateMachine) Current() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// TransitionTo is a no-op when next equals the current state: no
// notification fires and no drain is triggered.
func (m *stateMachine) TransitionTo(next ConnectionState, serr *ServiceError) {
	m.mu.Lock()
	if m.current == next {
		m.mu.Unlock()
		return
	}
	prev := m.current
	m.current = next
	m.mu.Unlock()

	ev := m.log.Info().Str("from", prev.String()).Str("to", next.String())
	if serr != nil {
		ev = ev.Str("error", serr.Message)
	}
	ev.Msg("state transition")

	if m.notify != nil {
		m.notify(StateChange{Previous: prev, Current: next, Err: serr})
	}
	if next == StateReady && m.onReady != nil {
		m.onReady()
	}
}

// drainable reports whether queued operations may execute right now.
func (m *stateMachine) drainable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == StateReady || m.current == StatePublished
}
