package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time moves only when Advance is called.
// It is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
	changed *sync.Cond
}

type fakeTimer struct {
	deadline time.Time
	f        func()
	done     bool // fired or stopped
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{now: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers f to run when the clock passes now+d. When d <= 0,
// f runs before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stopFunc: func() bool { return false }}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{deadline: c.now.Add(d), f: f}
	c.pending = append(c.pending, t)
	c.changed.Broadcast()
	return &Timer{stopFunc: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if t.done {
			return false
		}
		t.done = true
		c.removeLocked(t)
		c.changed.Broadcast()
		return true
	}}
}

// Advance moves the clock forward by d and runs every expired callback
// synchronously, in deadline order. Callbacks may register new timers;
// those fire in the same Advance if their deadline has also passed.
// Callbacks must not call Advance.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		due := c.collect(target)
		if len(due) == 0 {
			return
		}
		for _, t := range due {
			t.f()
		}
	}
}

func (c *FakeClock) collect(target time.Time) []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var due, rest []*fakeTimer
	for _, t := range c.pending {
		if !t.deadline.After(target) {
			t.done = true
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	c.pending = rest
	if len(due) > 0 {
		c.changed.Broadcast()
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	return due
}

func (c *FakeClock) removeLocked(target *fakeTimer) {
	for i, t := range c.pending {
		if t == target {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// PendingCount returns the number of registered, unfired, unstopped timers.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// WaitForTimers blocks until at least n timers are pending. Use it to
// wait for a goroutine to schedule its timer before calling Advance.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.changed.Wait()
	}
}
