// Package looptest provides a manual Scheduler for deterministic tests.
package looptest

import (
	"sort"
	"time"

	"github.com/Rorqualx/darkmode-go/internal/loop"
)

// Epoch is the default start time of a Scheduler.
var Epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// Scheduler implements loop.Scheduler with a clock that only moves on
// Advance. Posted tasks run in FIFO order on the caller's goroutine.
type Scheduler struct {
	now      time.Time
	timers   []*timer
	seq      int
	queue    []func()
	draining bool
}

var _ loop.Scheduler = (*Scheduler)(nil)

type timer struct {
	s       *Scheduler
	at      time.Time
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func (t *timer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// New returns a scheduler starting at start, or Epoch when start is zero.
func New(start time.Time) *Scheduler {
	if start.IsZero() {
		start = Epoch
	}
	return &Scheduler{now: start}
}

// Now returns the manual clock's time.
func (s *Scheduler) Now() time.Time {
	return s.now
}

// AfterFunc registers fn to run once the clock passes d from now.
func (s *Scheduler) AfterFunc(d time.Duration, fn func()) loop.Timer {
	if d < 0 {
		d = 0
	}
	s.seq++
	t := &timer{s: s, at: s.now.Add(d), seq: s.seq, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// Post runs fn after any task already running on this scheduler.
func (s *Scheduler) Post(fn func()) {
	s.queue = append(s.queue, fn)
	s.drain()
}

func (s *Scheduler) drain() {
	if s.draining {
		return
	}
	s.draining = true
	defer func() { s.draining = false }()
	for len(s.queue) > 0 {
		fn := s.queue[0]
		s.queue = s.queue[1:]
		fn()
	}
}

// Advance moves the clock forward by d, firing due timers in deadline order.
// Timers scheduled by fired callbacks also fire if they fall within d.
func (s *Scheduler) Advance(d time.Duration) {
	target := s.now.Add(d)
	for {
		next := s.nextDue(target)
		if next == nil {
			break
		}
		s.now = next.at
		next.fired = true
		s.Post(next.fn)
	}
	s.now = target
	s.compact()
}

// Set moves the clock to t without firing anything earlier than Advance would.
func (s *Scheduler) Set(t time.Time) {
	if t.After(s.now) {
		s.Advance(t.Sub(s.now))
		return
	}
	s.now = t
}

// Pending returns the number of live timers.
func (s *Scheduler) Pending() int {
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (s *Scheduler) nextDue(limit time.Time) *timer {
	var due []*timer
	for _, t := range s.timers {
		if !t.stopped && !t.fired && !t.at.After(limit) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].seq < due[j].seq
		}
		return due[i].at.Before(due[j].at)
	})
	return due[0]
}

func (s *Scheduler) compact() {
	live := s.timers[:0]
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	s.timers = live
}
