// Package loop provides the single-goroutine event loop every theming
// component runs on. Components confined to a loop never take locks; other
// goroutines hand work over with Post or Do.
package loop

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/darkmode-go/internal/types"
)

// Timer is a pending callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Scheduler is the time and execution surface the components depend on.
// Callbacks passed to AfterFunc and Post always run on the loop.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
	Post(fn func())
}

// Loop serializes tasks onto one goroutine.
type Loop struct {
	clock clock.Clock

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

// New creates a loop driven by c. A nil clock uses the wall clock.
func New(c clock.Clock) *Loop {
	if c == nil {
		c = clock.New()
	}
	return &Loop{
		clock: c,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Now returns the loop clock's current time.
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// AfterFunc schedules fn to be posted onto the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	return l.clock.AfterFunc(d, func() { l.Post(fn) })
}

// Post enqueues fn. It never blocks, so it is safe to call from the loop
// itself. Tasks posted after the loop stopped are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do runs fn on the loop and waits for its result.
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	l.Post(func() { result <- fn() })

	select {
	case err := <-result:
		return err
	case <-l.done:
		return types.ErrControllerClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", types.ErrContextCanceled, ctx.Err())
	}
}

// Run processes tasks until ctx is cancelled. It must be called once.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			batch := l.queue
			l.queue = nil
			l.mu.Unlock()

			for _, fn := range batch {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				l.run(fn)
			}
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Recovered panic in loop task")
		}
	}()
	fn()
}
