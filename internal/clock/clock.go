// Package clock abstracts the timer operations used by the transport
// session so reconnect scheduling can be driven deterministically in tests.
//
// Production code uses Real. Tests use Fake and move time with Advance:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	s, _ := transport.New(transport.Config{Clock: c, ...})
//	c.WaitForTimers(1)
//	c.Advance(time.Minute)
package clock

import "time"

// Clock is the subset of the time package the session depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// AfterFunc calls f in its own goroutine (real) or synchronously
	// during Advance (fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop cancels the pending call. It reports whether the call was
// cancelled; false means it already ran or was already stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }
