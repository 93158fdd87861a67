// Package clock abstracts the time source so debounce windows and idle
// timers can be driven deterministically in tests.
package clock

import "time"

// Clock is the subset of the time package used by session bookkeeping.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f in its own goroutine (real) or synchronously
	// during Advance (fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the
	// call stopped an active timer.
	Stop() bool
	// Reset re-arms the timer to fire after d. It reports whether the
	// timer was active.
	Reset(d time.Duration) bool
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
