// Package timer provides a cooperative deadline timer: no goroutine, no
// callback. The supervisor thread polls Remaining()/Due() between I/O
// steps instead of being interrupted by a fired timer, so that a timer
// can never mutate Peer or Protocol state off the single scheduling
// thread.
package timer

import "time"

// Timer tracks a deadline relative to the last time it was (re)armed.
type Timer struct {
	interval time.Duration
	deadline time.Time
	running  bool
	now      func() time.Time
}

// New creates a Timer armed for interval starting now. A zero interval
// produces a Timer that is never due (Remaining always returns the zero
// duration and Due always returns false) — the caller is responsible for
// checking interval == 0 the way negotiated hold-time 0 disables the hold
// timer entirely.
func New(d time.Duration) *Timer {
	t := &Timer{interval: d, now: time.Now}
	t.Reset()
	return t
}

// Reset rearms the timer for another interval starting now.
func (t *Timer) Reset() {
	t.running = t.interval > 0
	t.deadline = t.now().Add(t.interval)
}

// Stop disarms the timer. Due and Remaining report it as not running.
func (t *Timer) Stop() {
	t.running = false
}

// Running reports whether the timer is currently armed.
func (t *Timer) Running() bool {
	return t.running
}

// Due reports whether the deadline has passed. A disarmed or zero-interval
// timer is never due.
func (t *Timer) Due() bool {
	if !t.running {
		return false
	}
	return !t.now().Before(t.deadline)
}

// Remaining returns the time left until the deadline, clamped to zero. A
// disarmed timer reports zero.
func (t *Timer) Remaining() time.Duration {
	if !t.running {
		return 0
	}
	if r := t.deadline.Sub(t.now()); r > 0 {
		return r
	}
	return 0
}
