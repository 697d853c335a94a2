// Package adaptive provides the tier-aware debounce and throttle wrappers
// used by every timed component. All wrappers are loop-confined.
package adaptive

import (
	"time"

	"github.com/Rorqualx/darkmode-go/internal/device"
	"github.com/Rorqualx/darkmode-go/internal/loop"
)

// Trigger is a rate-limited callback.
type Trigger interface {
	// Trigger requests a call of the wrapped function.
	Trigger()
	// Stop cancels any pending call.
	Stop()
}

// Kind selects the wrapper Adaptive builds.
type Kind int

const (
	KindThrottle Kind = iota
	KindDebounce
)

// Delays holds one delay per tier.
type Delays struct {
	High   time.Duration
	Medium time.Duration
	Low    time.Duration
}

// For returns the delay for tier, falling back to Medium.
func (d Delays) For(tier device.Tier) time.Duration {
	switch tier {
	case device.TierHigh:
		if d.High > 0 {
			return d.High
		}
	case device.TierLow:
		if d.Low > 0 {
			return d.Low
		}
	}
	return d.Medium
}

// Adaptive picks a delay for tier and wraps fn. Throttles are trailing on
// every tier except low, which drops extra calls. Debounces fire on the
// leading edge only at the high tier.
func Adaptive(s loop.Scheduler, kind Kind, delays Delays, tier device.Tier, fn func()) Trigger {
	delay := delays.For(tier)
	if kind == KindDebounce {
		return NewDebounce(s, delay, tier == device.TierHigh, fn)
	}
	return NewThrottle(s, delay, tier != device.TierLow, fn)
}

// Debounce delays fn until no trigger arrived for the delay window.
type Debounce struct {
	s         loop.Scheduler
	delay     time.Duration
	immediate bool
	fn        func()

	timer loop.Timer
	gen   uint64
}

// NewDebounce creates a debounce. With immediate set, the first trigger of a
// burst calls fn at once and the rest of the burst is swallowed; otherwise
// fn runs once after the burst settles.
func NewDebounce(s loop.Scheduler, delay time.Duration, immediate bool, fn func()) *Debounce {
	return &Debounce{s: s, delay: delay, immediate: immediate, fn: fn}
}

// Trigger implements Trigger.
func (d *Debounce) Trigger() {
	callNow := d.immediate && d.timer == nil
	d.stopTimer()

	d.gen++
	gen := d.gen
	d.timer = d.s.AfterFunc(d.delay, func() {
		if gen != d.gen {
			return
		}
		d.timer = nil
		if !d.immediate {
			d.fn()
		}
	})

	if callNow {
		d.fn()
	}
}

// Pending reports whether a trailing call or a suppression window is active.
func (d *Debounce) Pending() bool {
	return d.timer != nil
}

// Flush runs a pending trailing call now.
func (d *Debounce) Flush() {
	if d.timer == nil {
		return
	}
	d.stopTimer()
	d.gen++
	if !d.immediate {
		d.fn()
	}
}

// Stop implements Trigger.
func (d *Debounce) Stop() {
	d.stopTimer()
	d.gen++
}

func (d *Debounce) stopTimer() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Throttle calls fn at most once per limit window.
type Throttle struct {
	s        loop.Scheduler
	limit    time.Duration
	trailing bool
	fn       func()

	ran     bool
	lastRan time.Time
	running bool
	timer   loop.Timer
	gen     uint64
}

// NewThrottle creates a throttle. The first trigger runs at once. Later
// triggers inside the window are coalesced into one trailing call when
// trailing is set, and dropped otherwise.
func NewThrottle(s loop.Scheduler, limit time.Duration, trailing bool, fn func()) *Throttle {
	return &Throttle{s: s, limit: limit, trailing: trailing, fn: fn}
}

// Trigger implements Trigger.
func (t *Throttle) Trigger() {
	now := t.s.Now()
	if !t.ran {
		t.run(now)
		return
	}

	t.stopTimer()
	elapsed := now.Sub(t.lastRan)
	if elapsed >= t.limit && !t.running {
		t.run(now)
		return
	}
	if !t.trailing {
		return
	}

	t.gen++
	gen := t.gen
	wait := t.limit - elapsed
	if wait < 0 {
		wait = 0
	}
	t.timer = t.s.AfterFunc(wait, func() {
		if gen != t.gen {
			return
		}
		t.timer = nil
		t.run(t.s.Now())
	})
}

// Stop implements Trigger.
func (t *Throttle) Stop() {
	t.stopTimer()
	t.gen++
}

func (t *Throttle) run(now time.Time) {
	t.ran = true
	t.lastRan = now
	t.running = true
	defer func() { t.running = false }()
	t.fn()
}

func (t *Throttle) stopTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
