package adaptive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Rorqualx/darkmode-go/internal/device"
	"github.com/Rorqualx/darkmode-go/internal/loop/looptest"
)

func counter() (*int, func()) {
	n := 0
	return &n, func() { n++ }
}

func TestDebounceTrailing(t *testing.T) {
	s := looptest.New(time.Time{})
	calls, fn := counter()
	d := NewDebounce(s, 250*time.Millisecond, false, fn)

	d.Trigger()
	s.Advance(100 * time.Millisecond)
	d.Trigger()
	s.Advance(100 * time.Millisecond)
	d.Trigger()
	assert.Equal(t, 0, *calls)

	s.Advance(249 * time.Millisecond)
	assert.Equal(t, 0, *calls)
	s.Advance(time.Millisecond)
	assert.Equal(t, 1, *calls, "one call per settled burst")
	assert.False(t, d.Pending())
}

func TestDebounceImmediate(t *testing.T) {
	s := looptest.New(time.Time{})
	calls, fn := counter()
	d := NewDebounce(s, 500*time.Millisecond, true, fn)

	d.Trigger()
	assert.Equal(t, 1, *calls, "leading call runs at once")
	d.Trigger()
	s.Advance(400 * time.Millisecond)
	d.Trigger()
	assert.Equal(t, 1, *calls, "burst is swallowed")

	s.Advance(500 * time.Millisecond)
	assert.Equal(t, 1, *calls, "no trailing call in immediate mode")

	d.Trigger()
	assert.Equal(t, 2, *calls, "next burst fires again")
}

func TestDebounceFlushAndStop(t *testing.T) {
	s := looptest.New(time.Time{})
	calls, fn := counter()
	d := NewDebounce(s, time.Second, false, fn)

	d.Trigger()
	d.Flush()
	assert.Equal(t, 1, *calls)
	s.Advance(2 * time.Second)
	assert.Equal(t, 1, *calls, "flushed call does not fire again")

	d.Trigger()
	d.Stop()
	s.Advance(2 * time.Second)
	assert.Equal(t, 1, *calls, "stopped call never fires")
	assert.Equal(t, 0, s.Pending())
}

func TestThrottleTrailingCoalesces(t *testing.T) {
	s := looptest.New(time.Time{})
	calls, fn := counter()
	th := NewThrottle(s, 500*time.Millisecond, true, fn)

	th.Trigger()
	assert.Equal(t, 1, *calls)

	for i := 0; i < 5; i++ {
		s.Advance(50 * time.Millisecond)
		th.Trigger()
	}
	assert.Equal(t, 1, *calls)

	s.Advance(250 * time.Millisecond)
	assert.Equal(t, 2, *calls, "one trailing call for the whole window")

	s.Advance(time.Second)
	assert.Equal(t, 2, *calls)
}

func TestThrottleDropsWithoutTrailing(t *testing.T) {
	s := looptest.New(time.Time{})
	calls, fn := counter()
	th := NewThrottle(s, time.Second, false, fn)

	th.Trigger()
	s.Advance(100 * time.Millisecond)
	th.Trigger()
	s.Advance(2 * time.Second)
	assert.Equal(t, 1, *calls, "call inside the window is dropped")

	th.Trigger()
	assert.Equal(t, 2, *calls, "call after the window runs at once")
}

func TestThrottleReentrantTriggerIsDeferred(t *testing.T) {
	s := looptest.New(time.Time{})
	var th *Throttle
	calls := 0
	th = NewThrottle(s, 200*time.Millisecond, true, func() {
		calls++
		if calls == 1 {
			th.Trigger()
		}
	})

	th.Trigger()
	assert.Equal(t, 1, calls, "nested trigger does not recurse")
	s.Advance(200 * time.Millisecond)
	assert.Equal(t, 2, calls)
}

func TestAdaptiveSelectsByTier(t *testing.T) {
	delays := Delays{High: 200 * time.Millisecond, Medium: 500 * time.Millisecond, Low: time.Second}
	assert.Equal(t, 200*time.Millisecond, delays.For(device.TierHigh))
	assert.Equal(t, time.Second, delays.For(device.TierLow))
	assert.Equal(t, 500*time.Millisecond, Delays{Medium: 500 * time.Millisecond}.For(device.TierHigh))

	s := looptest.New(time.Time{})

	high := Adaptive(s, KindDebounce, delays, device.TierHigh, func() {})
	assert.True(t, high.(*Debounce).immediate)
	medium := Adaptive(s, KindDebounce, delays, device.TierMedium, func() {})
	assert.False(t, medium.(*Debounce).immediate)

	low := Adaptive(s, KindThrottle, delays, device.TierLow, func() {})
	assert.False(t, low.(*Throttle).trailing)
	assert.Equal(t, time.Second, low.(*Throttle).limit)
	mid := Adaptive(s, KindThrottle, delays, device.TierMedium, func() {})
	assert.True(t, mid.(*Throttle).trailing)
}
