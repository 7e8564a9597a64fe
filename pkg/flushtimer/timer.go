// Package flushtimer schedules a flush callback with two deadlines.
//
// The soft deadline moves forward on every Touch, so a quiet source flushes
// soon after its last arrival. The hard deadline is fixed when the timer is
// first armed, so a busy source still flushes at a bounded latency.
package flushtimer

import (
	"sync"
	"time"
)

// Timer is a soft/hard deadline timer. The zero value is not usable; call New.
type Timer struct {
	mu    sync.Mutex
	soft  time.Duration
	hard  time.Duration
	fn    func()
	timer *time.Timer
	gen   uint64
	armed bool
	first time.Time
	now   func() time.Time
}

// New creates a timer that calls fn once per armed cycle.
//
// soft is the debounce delay restarted on every Touch. hard caps the total
// delay measured from the Touch that armed the timer. A hard value smaller
// than soft is raised to soft.
func New(soft, hard time.Duration, fn func()) *Timer {
	if hard < soft {
		hard = soft
	}
	return &Timer{
		soft: soft,
		hard: hard,
		fn:   fn,
		now:  time.Now,
	}
}

// Touch arms the timer, or moves the soft deadline of an armed timer
// forward without passing the hard deadline.
func (t *Timer) Touch() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if !t.armed {
		t.armed = true
		t.first = now
	}

	deadline := now.Add(t.soft)
	if ceiling := t.first.Add(t.hard); deadline.After(ceiling) {
		deadline = ceiling
	}

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(deadline.Sub(now), func() { t.fire(gen) })
}

// Stop disarms the timer. It reports whether the timer was armed.
func (t *Timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasArmed := t.armed
	t.armed = false
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	return wasArmed
}

// Armed reports whether a flush is scheduled.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if !t.armed || gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.armed = false
	t.timer = nil
	t.mu.Unlock()

	t.fn()
}
