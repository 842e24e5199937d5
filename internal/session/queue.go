package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avroom/roomlink/internal/core"
	"github.com/rs/zerolog"
)

type opKind int

const (
	opPublishVideo opKind = iota
	opPublishAudio
	opUnpublishVideo
	opUnpublishAudio
)

func (k opKind) String() string {
	switch k {
	case opPublishVideo:
		return "publish_video"
	case opPublishAudio:
		return "publish_audio"
	case opUnpublishVideo:
		return "unpublish_video"
	case opUnpublishAudio:
		return "unpublish_audio"
	default:
		return "unknown"
	}
}

const maxOpRetries = 3

// operation is owned exclusively by the queue between enqueue and
// execution.
type operation struct {
	kind       opKind
	source     core.MediaSource // video publish payload, nil otherwise
	retries    int
	enqueuedAt time.Time
}

// operationQueue serializes session operations against a connection
// state that changes out of the caller's control. A single drain
// goroutine pulls from the head while the state allows it; a failing
// recoverable operation is re-inserted at the head so it retries before
// later-queued work, bounded by maxOpRetries.
type operationQueue struct {
	mu  sync.Mutex
	ops []*operation

	draining atomic.Bool
	closed   bool

	clock     core.Clock
	drainable func() bool
	exec      func(*operation) error
	onError   func(*ServiceError)
	log       zerolog.Logger
}

func newOperationQueue(clock core.Clock, log zerolog.Logger) *operationQueue {
	return &operationQueue{
		clock: clock,
		log:   log.With().Str("module", "session.queue").Logger(),
	}
}

// Enqueue appends to the tail and, if the state allows, kicks a drain.
func (q *operationQueue) Enqueue(op *operation) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.log.Debug().Str("op", op.kind.String()).Msg("queue closed, dropping")
		return
	}
	op.enqueuedAt = q.clock.Now()
	q.ops = append(q.ops, op)
	depth := len(q.ops)
	q.mu.Unlock()

	q.log.Debug().Str("op", op.kind.String()).Int("depth", depth).Msg("enqueued")
	if q.drainable() {
		q.Drain()
	}
}

// Drain starts the drain goroutine unless one is already in flight.
func (q *operationQueue) Drain() {
	if !q.draining.CompareAndSwap(false, true) {
		return
	}
	go q.drainLoop()
}

func (q *operationQueue) drainLoop() {
	for {
		for q.drainable() {
			op, ok := q.pop()
			if !ok {
				break
			}
			q.execute(op)
		}
		q.draining.Store(false)
		// Re-arm if work slipped in between the last pop and the flag
		// clear.
		if !q.drainable() || q.Len() == 0 {
			return
		}
		if !q.draining.CompareAndSwap(false, true) {
			return
		}
	}
}

func (q *operationQueue) execute(op *operation) {
	err := q.exec(op)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		// Session teardown raced the in-flight call; nothing to surface.
		return
	}
	serr := Classify(err)
	if serr.Recoverable && op.retries < maxOpRetries {
		op.retries++
		q.requeueHead(op)
		q.log.Warn().
			Str("op", op.kind.String()).
			Int("retry", op.retries).
			Str("error", serr.Message).
			Msg("operation failed, retrying at head")
		return
	}
	q.log.Error().
		Str("op", op.kind.String()).
		Int("retries", op.retries).
		Str("kind", serr.Kind.String()).
		Str("error", serr.Message).
		Msg("operation dropped")
	if q.onError != nil {
		q.onError(serr)
	}
}

func (q *operationQueue) pop() (*operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ops) == 0 {
		return nil, false
	}
	op := q.ops[0]
	q.ops = q.ops[1:]
	return op, true
}

func (q *operationQueue) requeueHead(op *operation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.ops = append([]*operation{op}, q.ops...)
}

func (q *operationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Close abandons pending operations and rejects new ones until Reset.
func (q *operationQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.ops = nil
}

// Reset reopens the queue for a fresh session.
func (q *operationQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = false
	q.ops = nil
}
