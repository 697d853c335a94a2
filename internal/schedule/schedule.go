// Package schedule switches dark mode on and off by time of day.
package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rorqualx/darkmode-go/internal/loop"
	"github.com/Rorqualx/darkmode-go/internal/types"
)

// CheckInterval is the polling period of a Checker.
const CheckInterval = 60 * time.Second

// ParseClock converts an HH:MM string to minutes since midnight.
func ParseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q", types.ErrInvalidTime, s)
	}
	hours, err := strconv.Atoi(h)
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("%w: %q", types.ErrInvalidTime, s)
	}
	minutes, err := strconv.Atoi(m)
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("%w: %q", types.ErrInvalidTime, s)
	}
	return hours*60 + minutes, nil
}

// InWindow reports whether now lies in [start, end), all in minutes since
// midnight. A window whose start is after its end wraps past midnight.
func InWindow(now, start, end int) bool {
	if start > end {
		return now >= start || now < end
	}
	return now >= start && now < end
}

// IsWithinWindow reports whether the wall-clock time of now falls inside
// the HH:MM window [start, end).
func IsWithinWindow(now time.Time, start, end string) (bool, error) {
	s, err := ParseClock(start)
	if err != nil {
		return false, fmt.Errorf("start: %w", err)
	}
	e, err := ParseClock(end)
	if err != nil {
		return false, fmt.Errorf("end: %w", err)
	}
	return InWindow(now.Hour()*60+now.Minute(), s, e), nil
}

// Window is the schedule configuration the checker polls.
type Window struct {
	Enabled bool
	Start   string
	End     string
}

// Hooks connect a Checker to its owner.
type Hooks struct {
	Window  func() Window
	IsDark  func() bool
	SetDark func(on bool)
}

// Checker polls the schedule on the loop and flips dark mode when the
// window membership disagrees with the current state.
type Checker struct {
	s        loop.Scheduler
	hooks    Hooks
	location *time.Location

	ctx   context.Context
	timer loop.Timer
	gen   uint64
}

// NewChecker creates a checker. Times are evaluated in loc, or local time
// when loc is nil.
func NewChecker(s loop.Scheduler, loc *time.Location, hooks Hooks) *Checker {
	if loc == nil {
		loc = time.Local
	}
	return &Checker{s: s, hooks: hooks, location: loc}
}

// Start stops any running poll, then, if the schedule is enabled, checks
// once and polls every CheckInterval.
func (c *Checker) Start(ctx context.Context) {
	c.Stop()
	c.ctx = ctx
	if !c.hooks.Window().Enabled {
		return
	}
	c.Check()
	c.arm()
}

// Stop cancels the poll.
func (c *Checker) Stop() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

// Running reports whether a poll is armed.
func (c *Checker) Running() bool {
	return c.timer != nil
}

func (c *Checker) arm() {
	gen := c.gen
	c.timer = c.s.AfterFunc(CheckInterval, func() {
		if gen != c.gen {
			return
		}
		c.Check()
		c.arm()
	})
}

// Check evaluates the window once.
func (c *Checker) Check() {
	w := c.hooks.Window()
	if !w.Enabled {
		return
	}
	logger := zerolog.Ctx(c.context())

	want, err := IsWithinWindow(c.s.Now().In(c.location), w.Start, w.End)
	if err != nil {
		logger.Warn().Err(err).Msg("Skipping schedule check")
		return
	}
	if want != c.hooks.IsDark() {
		logger.Info().Bool("enabled", want).Msg("Scheduled dark mode")
		c.hooks.SetDark(want)
	}
}

func (c *Checker) context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}
