package session

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestStateMachineTransitionNotifies(t *testing.T) {
	sm := newStateMachine(zerolog.Nop())
	var changes []StateChange
	sm.notify = func(ch StateChange) { changes = append(changes, ch) }

	sm.TransitionTo(StateInitializing, nil)
	sm.TransitionTo(StateJoining, nil)

	assert.Equal(t, StateJoining, sm.Current())
	if assert.Len(t, changes, 2) {
		assert.Equal(t, StateIdle, changes[0].Previous)
		assert.Equal(t, StateInitializing, changes[0].Current)
		assert.Equal(t, StateInitializing, changes[1].Previous)
		assert.Equal(t, StateJoining, changes[1].Current)
	}
}

func TestStateMachineSameStateIsNoop(t *testing.T) {
	sm := newStateMachine(zerolog.Nop())
	notified := 0
	readied := 0
	sm.notify = func(StateChange) { notified++ }
	sm.onReady = func() { readied++ }

	sm.TransitionTo(StateReady, nil)
	sm.TransitionTo(StateReady, nil)
	sm.TransitionTo(StateReady, nil)

	assert.Equal(t, 1, notified)
	assert.Equal(t, 1, readied)
}

func TestStateMachineReadyTriggersDrainHook(t *testing.T) {
	sm := newStateMachine(zerolog.Nop())
	readied := 0
	sm.onReady = func() { readied++ }

	sm.TransitionTo(StateJoining, nil)
	assert.Equal(t, 0, readied)
	sm.TransitionTo(StateReady, nil)
	assert.Equal(t, 1, readied)
	sm.TransitionTo(StateReconnecting, nil)
	sm.TransitionTo(StateReady, nil)
	assert.Equal(t, 2, readied)
}

func TestStateMachineCarriesError(t *testing.T) {
	sm := newStateMachine(zerolog.Nop())
	var got *ServiceError
	sm.notify = func(ch StateChange) { got = ch.Err }

	serr := &ServiceError{Kind: ErrorNetwork, Message: "gone", Recoverable: true}
	sm.TransitionTo(StateError, serr)

	assert.Equal(t, StateError, sm.Current())
	assert.Same(t, serr, got)
}

func TestStateMachineDrainable(t *testing.T) {
	sm := newStateMachine(zerolog.Nop())
	assert.False(t, sm.drainable())
	sm.TransitionTo(StateReady, nil)
	assert.True(t, sm.drainable())
	sm.TransitionTo(StatePublishing, nil)
	assert.False(t, sm.drainable())
	sm.TransitionTo(StatePublished, nil)
	assert.True(t, sm.drainable())
	sm.TransitionTo(StateReconnecting, nil)
	assert.False(t, sm.drainable())
}

func TestStateMachineNotifiesInRegistrationOrder(t *testing.T) {
	var reg registry[StateChange]
	sm := newStateMachine(zerolog.Nop())
	sm.notify = reg.Emit

	var order []string
	reg.Add(func(StateChange) { order = append(order, "first") })
	reg.Add(func(StateChange) { order = append(order, "second") })
	reg.Add(func(StateChange) { order = append(order, "third") })

	sm.TransitionTo(StateInitializing, nil)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestRegistryUnregister(t *testing.T) {
	var reg registry[int]
	var got []int
	unreg := reg.Add(func(v int) { got = append(got, v) })
	reg.Emit(1)
	unreg()
	reg.Emit(2)
	unreg() // second call is harmless
	assert.Equal(t, []int{1}, got)
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "unknown", ConnectionState(99).String())
}
