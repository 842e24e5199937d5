package core

import "time"

// Timer is a stoppable pending callback.
type Timer interface {
	// Stop reports whether the callback was prevented from firing.
	Stop() bool
}

// Clock abstracts wall time and timer scheduling so retry/backoff logic
// can be tested against virtual time.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

func RealClock() Clock { return realClock{} }
