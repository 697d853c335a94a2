// Package diagnostics collects logged issues and builds the diagnostic
// report shown in the control surface and returned by the control API.
package diagnostics

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MaxIssues caps the issue list; the oldest issues are dropped first.
const MaxIssues = 100

// Issue is one warning or error captured from the log.
type Issue struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Collector is a zerolog hook that records warnings and errors while
// enabled. It is safe for concurrent use.
type Collector struct {
	mu      sync.Mutex
	enabled bool
	issues  []Issue
	now     func() time.Time
}

var _ zerolog.Hook = (*Collector)(nil)

// NewCollector creates a disabled collector. now defaults to time.Now.
func NewCollector(now func() time.Time) *Collector {
	if now == nil {
		now = time.Now
	}
	return &Collector{now: now}
}

// SetEnabled turns collection on or off.
func (c *Collector) SetEnabled(on bool) {
	c.mu.Lock()
	c.enabled = on
	c.mu.Unlock()
}

// Run implements zerolog.Hook.
func (c *Collector) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	if level < zerolog.WarnLevel || level > zerolog.PanicLevel {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.issues = append(c.issues, Issue{Type: level.String(), Message: msg, Timestamp: c.now().UTC()})
	if over := len(c.issues) - MaxIssues; over > 0 {
		c.issues = append(c.issues[:0], c.issues[over:]...)
	}
}

// Issues returns a copy of the collected issues.
func (c *Collector) Issues() []Issue {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Issue, len(c.issues))
	copy(out, c.issues)
	return out
}

// Clear drops every collected issue.
func (c *Collector) Clear() {
	c.mu.Lock()
	c.issues = nil
	c.mu.Unlock()
}
