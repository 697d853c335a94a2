package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rorqualx/darkmode-go/internal/loop/looptest"
	"github.com/Rorqualx/darkmode-go/internal/types"
)

func at(hhmm string) time.Time {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		panic(err)
	}
	return time.Date(2024, 3, 1, t.Hour(), t.Minute(), 0, 0, time.UTC)
}

func TestIsWithinWindow(t *testing.T) {
	tests := []struct {
		now, start, end string
		want            bool
	}{
		{"23:00", "20:00", "07:00", true},
		{"10:00", "20:00", "07:00", false},
		{"12:00", "06:00", "22:00", true},
		{"23:30", "06:00", "22:00", false},
		{"20:00", "20:00", "07:00", true},
		{"07:00", "20:00", "07:00", false},
		{"06:59", "20:00", "07:00", true},
		{"22:00", "06:00", "22:00", false},
		{"12:00", "09:00", "09:00", false},
	}
	for _, tt := range tests {
		got, err := IsWithinWindow(at(tt.now), tt.start, tt.end)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s in [%s, %s)", tt.now, tt.start, tt.end)
	}
}

func TestIsWithinWindowRejectsMalformed(t *testing.T) {
	for _, bad := range []string{"", "7", "24:00", "12:60", "ab:cd", "-1:10"} {
		_, err := IsWithinWindow(at("12:00"), bad, "07:00")
		assert.ErrorIs(t, err, types.ErrInvalidTime, bad)
	}
}

type fakeDark struct {
	window  Window
	on      bool
	toggles []bool
}

func (f *fakeDark) hooks() Hooks {
	return Hooks{
		Window: func() Window { return f.window },
		IsDark: func() bool { return f.on },
		SetDark: func(on bool) {
			f.toggles = append(f.toggles, on)
			f.on = on
		},
	}
}

func TestCheckerChecksImmediatelyAndPolls(t *testing.T) {
	s := looptest.New(time.Date(2024, 3, 1, 19, 59, 0, 0, time.UTC))
	f := &fakeDark{window: Window{Enabled: true, Start: "20:00", End: "07:00"}}
	c := NewChecker(s, time.UTC, f.hooks())

	c.Start(context.Background())
	assert.Empty(t, f.toggles, "19:59 is outside the window")
	assert.True(t, c.Running())

	s.Advance(CheckInterval)
	assert.Equal(t, []bool{true}, f.toggles)

	s.Advance(10 * CheckInterval)
	assert.Equal(t, []bool{true}, f.toggles, "no toggle while the state already holds")
}

func TestCheckerRearmStopsPreviousPoll(t *testing.T) {
	s := looptest.New(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	f := &fakeDark{window: Window{Enabled: true, Start: "06:00", End: "22:00"}}
	c := NewChecker(s, time.UTC, f.hooks())

	for i := 0; i < 5; i++ {
		c.Start(context.Background())
	}
	assert.Equal(t, 1, s.Pending(), "only one poll is armed")
	assert.Equal(t, []bool{true}, f.toggles)
}

func TestCheckerDisabled(t *testing.T) {
	s := looptest.New(time.Time{})
	f := &fakeDark{window: Window{Start: "00:00", End: "23:59"}}
	c := NewChecker(s, time.UTC, f.hooks())

	c.Start(context.Background())
	assert.False(t, c.Running())
	assert.Equal(t, 0, s.Pending())
	assert.Empty(t, f.toggles)
}

func TestCheckerSkipsMalformedWindow(t *testing.T) {
	s := looptest.New(time.Time{})
	f := &fakeDark{window: Window{Enabled: true, Start: "late", End: "07:00"}}
	c := NewChecker(s, time.UTC, f.hooks())

	c.Start(context.Background())
	s.Advance(5 * CheckInterval)
	assert.Empty(t, f.toggles)
	assert.True(t, c.Running(), "the poll survives a bad window")

	c.Stop()
	assert.Equal(t, 0, s.Pending())
}
