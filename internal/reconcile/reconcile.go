// Package reconcile keeps the control surface alive on pages that rewrite
// their own DOM. It watches the body and, after a burst of insertions,
// remounts any widget the page removed.
package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rorqualx/darkmode-go/internal/adaptive"
	"github.com/Rorqualx/darkmode-go/internal/dom"
	"github.com/Rorqualx/darkmode-go/internal/loop"
)

// Delay is the debounce window for reconciliation passes.
const Delay = 500 * time.Millisecond

// Hooks connect the reconciler to the components it repairs.
type Hooks struct {
	// Repair remounts missing widgets and returns how many it recreated.
	Repair func(ctx context.Context) (int, error)
	// ExtremeActive reports whether dark and extreme mode are both on.
	ExtremeActive func() bool
	// Rediscover re-runs shadow-root discovery.
	Rediscover func(ctx context.Context) error
}

// Reconciler is loop-confined.
type Reconciler struct {
	obs   dom.Observer
	sched loop.Scheduler
	hooks Hooks

	ctx      context.Context
	debounce *adaptive.Debounce
	stop     func()
	gen      uint64
	passes   int
	repaired int
}

// New creates a stopped reconciler.
func New(obs dom.Observer, s loop.Scheduler, hooks Hooks) *Reconciler {
	return &Reconciler{obs: obs, sched: s, hooks: hooks}
}

// Start observes the body. Re-arming stops the previous observer first.
func (r *Reconciler) Start(ctx context.Context) error {
	r.Stop()
	r.ctx = ctx
	r.gen++
	gen := r.gen
	r.debounce = adaptive.NewDebounce(r.sched, Delay, true, func() { r.Pass(r.ctx) })

	stop, err := r.obs.Observe(ctx, dom.DocumentRoot, func(dom.Mutation) {
		r.sched.Post(func() {
			if gen != r.gen || r.debounce == nil {
				return
			}
			r.debounce.Trigger()
		})
	})
	if err != nil {
		r.debounce = nil
		return err
	}
	r.stop = stop
	return nil
}

// Stop detaches the observer and cancels any pending pass.
func (r *Reconciler) Stop() {
	r.gen++
	if r.stop != nil {
		r.stop()
		r.stop = nil
	}
	if r.debounce != nil {
		r.debounce.Stop()
		r.debounce = nil
	}
}

// Running reports whether the reconciler is observing.
func (r *Reconciler) Running() bool { return r.stop != nil }

// Stats returns the number of passes run and widgets recreated.
func (r *Reconciler) Stats() (passes, repaired int) { return r.passes, r.repaired }

// Pass runs one reconciliation pass.
func (r *Reconciler) Pass(ctx context.Context) {
	r.passes++
	log := zerolog.Ctx(ctx)

	if r.hooks.Repair != nil {
		n, err := r.hooks.Repair(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to repair control surface")
		} else if n > 0 {
			r.repaired += n
			log.Debug().Int("widgets", n).Msg("Recreated missing widgets")
		}
	}

	if r.hooks.ExtremeActive != nil && r.hooks.ExtremeActive() && r.hooks.Rediscover != nil {
		if err := r.hooks.Rediscover(ctx); err != nil {
			log.Debug().Err(err).Msg("Shadow root rediscovery failed")
		}
	}
}
