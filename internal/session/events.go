package session

import (
	"sync"
	"time"

	"github.com/avroom/roomlink/internal/core"
)

// RemoteEvent reports a remote participant publishing or unpublishing
// one track kind.
type RemoteEvent struct {
	User core.RemoteUser
	Kind core.TrackKind
}

// ReconnectionEvent is emitted before each scheduled rejoin attempt so
// callers can render retry-in-progress feedback.
type ReconnectionEvent struct {
	Attempt        int
	MaxAttempts    int
	NextRetryDelay time.Duration
}

type registryEntry[T any] struct {
	id int64
	fn func(T)
}

// registry is a multi-subscriber broadcast primitive. Emit calls
// subscribers in registration order; Add returns an unregister func.
type registry[T any] struct {
	mu     sync.Mutex
	nextID int64
	subs   []registryEntry[T]
}

func (r *registry[T]) Add(fn func(T)) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs = append(r.subs, registryEntry[T]{id: id, fn: fn})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, e := range r.subs {
			if e.id == id {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				return
			}
		}
	}
}

func (r *registry[T]) Emit(v T) {
	r.mu.Lock()
	snapshot := make([]registryEntry[T], len(r.subs))
	copy(snapshot, r.subs)
	r.mu.Unlock()

	for _, e := range snapshot {
		e.fn(v)
	}
}

func (r *registry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = nil
}
