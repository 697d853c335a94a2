// Package rewrite implements extreme mode: stylesheet injection, forced
// inline styles with exact rollback, shadow-root discovery and continuous
// styling of inserted content.
package rewrite

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rorqualx/darkmode-go/internal/adaptive"
	"github.com/Rorqualx/darkmode-go/internal/assets"
	"github.com/Rorqualx/darkmode-go/internal/device"
	"github.com/Rorqualx/darkmode-go/internal/dom"
	"github.com/Rorqualx/darkmode-go/internal/loop"
	"github.com/Rorqualx/darkmode-go/internal/types"
)

// Stylesheet purpose ids. At most one sheet per id exists in a root.
const (
	ExtremeCSSID = "extreme-mode-css"
	CustomCSSID  = "custom-site-css"
	SiteFixID    = "problematic-site-fix"
	ShadowCSSID  = "extreme-mode-shadow-css"
)

// ObserverDelays throttle the draining of observed insertions.
var ObserverDelays = adaptive.Delays{
	High:   200 * time.Millisecond,
	Medium: 500 * time.Millisecond,
	Low:    1000 * time.Millisecond,
}

// lowTierChildLimit is the child count above which the low tier only
// styles text-bearing descendants.
const lowTierChildLimit = 20

// Forced declaration sets.
var (
	PageDark = []Decl{
		{Prop: "background-color", Value: "#121212"},
		{Prop: "color", Value: "#ddd"},
	}
	SurfaceDark = []Decl{
		{Prop: "background-color", Value: "#1a1a1a"},
		{Prop: "color", Value: "#ddd"},
	}
	ElementDark = []Decl{
		{Prop: "background-color", Value: "#1a1a1a"},
		{Prop: "color", Value: "#ddd"},
		{Prop: "border-color", Value: "#444"},
	}
	BackgroundDark = []Decl{
		{Prop: "background-color", Value: "#1a1a1a"},
	}
)

const (
	landmarkSelector = `main, article, section, [role="main"], header, nav, footer, aside`
	lowTierTextOnly  = "p, h1, h2, h3, a, button, input, textarea"
)

var skipTags = map[string]bool{
	"SCRIPT": true, "STYLE": true, "LINK": true, "META": true, "NOSCRIPT": true,
	"TEMPLATE": true, "HEAD": true, "TITLE": true, "BR": true, "IFRAME": true,
	"IMG": true, "VIDEO": true, "CANVAS": true, "SVG": true,
}

func skip(c dom.Computed) bool {
	return c.Gone || c.InUI || skipTags[c.Tag]
}

// State is the engine state.
type State int

const (
	Inactive State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "inactive"
}

// Target is the set of document capabilities the engine drives.
type Target interface {
	dom.StyleInjector
	dom.ElementStyler
	dom.ShadowRootScanner
	dom.Observer
}

// Config selects what Enter and the scans do.
type Config struct {
	ForceDarkElements bool
	DetectShadowDOM   bool
	// DeepScan is the tuned permission; the low tier never deep scans.
	DeepScan bool
	Tier     device.Tier
}

// Stats describe the engine's current footprint.
type Stats struct {
	State       State `json:"state"`
	Forced      int   `json:"forcedElementsCount"`
	ShadowRoots int   `json:"shadowRootsCount"`
	Styles      int   `json:"customStylesCount"`
	Queued      int   `json:"queued"`
	Dropped     int   `json:"dropped"`
}

type styleKey struct {
	root dom.RootID
	id   string
}

// Engine is the extreme-mode state machine. It is confined to the loop
// behind its Scheduler.
type Engine struct {
	ctx   context.Context
	doc   Target
	sched loop.Scheduler
	cfg   Config

	state State
	gen   uint64

	snap   *Snapshot
	roots  *Registry
	styles map[styleKey]struct{}

	queue     *workQueue
	drain     adaptive.Trigger
	stopBody  func()
	rootStops []func()
}

// New creates an inactive engine. ctx scopes the engine's lifetime and
// carries its logger; queued work is processed under it.
func New(ctx context.Context, doc Target, s loop.Scheduler, cfg Config) *Engine {
	e := &Engine{
		ctx:    ctx,
		doc:    doc,
		sched:  s,
		snap:   NewSnapshot(),
		roots:  NewRegistry(),
		styles: make(map[styleKey]struct{}),
		queue:  newWorkQueue(QueueCapacity),
	}
	e.Configure(cfg)
	return e
}

// Configure replaces the engine configuration. A tier change rebuilds the
// drain throttle.
func (e *Engine) Configure(cfg Config) {
	if !cfg.Tier.Valid() {
		cfg.Tier = device.TierMedium
	}
	if cfg.Tier == device.TierLow {
		cfg.DeepScan = false
	}
	if e.drain == nil || cfg.Tier != e.cfg.Tier {
		if e.drain != nil {
			e.drain.Stop()
		}
		// The low tier drops triggers inside the window; DrainPending picks
		// up what they left queued.
		e.drain = adaptive.Adaptive(e.sched, adaptive.KindThrottle, ObserverDelays, cfg.Tier, e.drainQueue)
	}
	e.cfg = cfg
}

// Config returns the current configuration.
func (e *Engine) Config() Config { return e.cfg }

// State returns the current state.
func (e *Engine) State() State { return e.state }

// Stats returns the current footprint.
func (e *Engine) Stats() Stats {
	return Stats{
		State:       e.state,
		Forced:      e.snap.Len(),
		ShadowRoots: e.roots.Len(),
		Styles:      len(e.styles),
		Queued:      e.queue.len(),
		Dropped:     e.queue.dropped,
	}
}

// ShadowRoots returns the registered shadow roots.
func (e *Engine) ShadowRoots() []dom.RootID { return e.roots.Roots() }

func (e *Engine) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return zerolog.Ctx(e.ctx)
}

// Enter activates extreme mode. Entering an active engine is a no-op.
func (e *Engine) Enter(ctx context.Context) error {
	if e.state == Active {
		return nil
	}
	e.state = Active
	e.gen++
	log := e.logger(ctx)

	if err := e.InjectCSS(ctx, dom.DocumentRoot, ExtremeCSSID, assets.ExtremeCSS()); err != nil {
		e.state = Inactive
		return err
	}

	if e.cfg.ForceDarkElements {
		if _, err := e.forceRoot(ctx, dom.DocumentRoot, "body", PageDark); err != nil {
			log.Warn().Err(err).Msg("Failed to force body style")
		}
		if _, err := e.forceRoot(ctx, dom.DocumentRoot, landmarkSelector, SurfaceDark); err != nil {
			log.Warn().Err(err).Msg("Failed to force landmark styles")
		}
	}

	for _, root := range e.roots.Roots() {
		e.injectShadowCSS(ctx, root)
	}
	if _, err := e.DiscoverShadowRoots(ctx, dom.DocumentRoot, 0); err != nil {
		log.Warn().Err(err).Msg("Shadow root discovery failed")
	}

	gen := e.gen
	stop, err := e.doc.Observe(ctx, dom.DocumentRoot, func(m dom.Mutation) { e.onMutation(gen, m) })
	if err != nil {
		log.Warn().Err(err).Msg("Failed to observe document body")
	} else {
		e.stopBody = stop
	}

	if e.cfg.DeepScan {
		if _, err := e.DeepScan(ctx); err != nil {
			log.Warn().Err(err).Msg("Deep scan failed")
		}
	}

	log.Debug().
		Int("forced", e.snap.Len()).
		Int("shadow_roots", e.roots.Len()).
		Str("tier", string(e.cfg.Tier)).
		Msg("Extreme mode entered")
	return nil
}

// Exit removes every tracked stylesheet and restores every snapshotted
// style. It is safe in the inactive state.
func (e *Engine) Exit(ctx context.Context) error {
	e.gen++
	if e.stopBody != nil {
		e.stopBody()
		e.stopBody = nil
	}
	e.drain.Stop()
	e.queue.reset()

	log := e.logger(ctx)
	var errs []error
	for key := range e.styles {
		if err := e.doc.RemoveStyle(ctx, key.root, key.id); err != nil && !gone(err) {
			errs = append(errs, err)
		}
	}
	clear(e.styles)

	restored := 0
	for _, r := range e.snap.Drain() {
		var err error
		if r.Present {
			err = e.doc.SetInlineStyle(ctx, r.Node, r.Style)
		} else {
			err = e.doc.RemoveInlineStyle(ctx, r.Node)
		}
		if err != nil {
			if !gone(err) {
				errs = append(errs, err)
			}
			continue
		}
		restored++
	}

	wasActive := e.state == Active
	e.state = Inactive
	if wasActive {
		log.Debug().Int("restored", restored).Msg("Extreme mode exited")
	}
	return errors.Join(errs...)
}

// Close exits and detaches every shadow-root observer.
func (e *Engine) Close(ctx context.Context) error {
	err := e.Exit(ctx)
	for _, stop := range e.rootStops {
		stop()
	}
	e.rootStops = nil
	return err
}

// InjectCSS injects css under id into root and tracks it for Exit.
func (e *Engine) InjectCSS(ctx context.Context, root dom.RootID, id, css string) error {
	if err := e.doc.InjectStyle(ctx, root, id, css); err != nil {
		return &types.DOMError{Operation: "inject " + id, Err: err}
	}
	e.styles[styleKey{root: root, id: id}] = struct{}{}
	return nil
}

// RemoveCSS removes a stylesheet injected with InjectCSS.
func (e *Engine) RemoveCSS(ctx context.Context, root dom.RootID, id string) error {
	delete(e.styles, styleKey{root: root, id: id})
	return e.doc.RemoveStyle(ctx, root, id)
}

func (e *Engine) injectShadowCSS(ctx context.Context, root dom.RootID) {
	if err := e.InjectCSS(ctx, root, ShadowCSSID, assets.ShadowCSS()); err != nil {
		e.logger(ctx).Debug().Err(err).Int64("root", int64(root)).Msg("Skipping shadow root stylesheet")
	}
}

func (e *Engine) discoverySelector() string {
	switch e.cfg.Tier {
	case device.TierLow:
		return `main, header, nav, footer, aside, [role="main"]`
	case device.TierHigh:
		return "custom-element, [is], [shadow], [shadowroot], video-player, audio-player, *"
	default:
		return "custom-element, [is], [shadow], [shadowroot], video-player, audio-player"
	}
}

// DiscoverShadowRoots registers the open shadow roots under scope in root
// (the whole root when scope is zero) and recurses into every new root.
// New roots get the shadow stylesheet while active, and an observer. It
// returns the number of new roots. It does nothing while shadow detection
// is off.
func (e *Engine) DiscoverShadowRoots(ctx context.Context, root dom.RootID, scope dom.NodeID) (int, error) {
	if !e.cfg.DetectShadowDOM {
		return 0, nil
	}
	found, err := e.doc.ShadowRoots(ctx, root, scope, e.discoverySelector())
	if err != nil {
		if gone(err) {
			return 0, nil
		}
		return 0, &types.DOMError{Operation: "discover shadow roots", Err: err}
	}

	added := 0
	for _, sr := range found {
		if !e.roots.Add(sr) {
			continue
		}
		added++
		if e.state == Active {
			e.injectShadowCSS(ctx, sr.Root)
		}
		n, err := e.DiscoverShadowRoots(ctx, sr.Root, 0)
		if err != nil {
			e.logger(ctx).Debug().Err(err).Msg("Nested shadow root discovery failed")
		}
		added += n
		e.observeRoot(ctx, sr.Root)
	}
	return added, nil
}

func (e *Engine) observeRoot(ctx context.Context, root dom.RootID) {
	stop, err := e.doc.Observe(ctx, root, func(m dom.Mutation) { e.onRootMutation(m) })
	if err != nil {
		e.logger(ctx).Debug().Err(err).Int64("root", int64(root)).Msg("Cannot observe shadow root")
		return
	}
	e.rootStops = append(e.rootStops, stop)
}

// onMutation runs on any goroutine.
func (e *Engine) onMutation(gen uint64, m dom.Mutation) {
	e.sched.Post(func() {
		if gen != e.gen {
			return
		}
		e.enqueue(m)
	})
}

// onRootMutation runs on any goroutine. Shadow-root observers outlive
// Exit, so insertions are still discovered while inactive.
func (e *Engine) onRootMutation(m dom.Mutation) {
	e.sched.Post(func() { e.enqueue(m) })
}

func (e *Engine) enqueue(m dom.Mutation) {
	if len(m.Added) == 0 {
		return
	}
	if dropped := e.queue.push(m); dropped > 0 {
		zerolog.Ctx(e.ctx).Debug().
			Int("dropped", dropped).
			Int("capacity", e.queue.cap).
			Msg("Work queue full, dropping inserted subtrees")
	}
	e.drain.Trigger()
}

// Pending returns the number of queued subtrees.
func (e *Engine) Pending() int { return e.queue.len() }

// DrainPending processes queued subtrees now, outside the throttle.
func (e *Engine) DrainPending() {
	if e.queue.len() > 0 {
		e.drainQueue()
	}
}

func (e *Engine) drainQueue() {
	items := e.queue.take()
	if len(items) == 0 {
		return
	}
	ctx := e.ctx
	log := zerolog.Ctx(ctx)
	for _, it := range items {
		if ctx.Err() != nil {
			return
		}
		if _, err := e.DiscoverShadowRoots(ctx, it.root, it.node); err != nil {
			log.Debug().Err(err).Msg("Discovery on inserted subtree failed")
		}
		if e.state != Active {
			continue
		}
		if err := e.ForceSubtree(ctx, it.root, it.node); err != nil {
			log.Debug().Err(err).Msg("Styling inserted subtree failed")
		}
	}
}

// ForceSubtree forces dark styling on node and its descendants. At the
// low tier, a node with many children only has its text-bearing
// descendants styled.
func (e *Engine) ForceSubtree(ctx context.Context, root dom.RootID, node dom.NodeID) error {
	top, err := e.doc.Inspect(ctx, []dom.NodeID{node})
	if err != nil {
		return err
	}
	if len(top) == 0 || skip(top[0]) {
		return nil
	}
	e.force(ctx, node, ElementDark)

	selector := "*"
	if e.cfg.Tier == device.TierLow && top[0].Children > lowTierChildLimit {
		selector = lowTierTextOnly
	}
	ids, err := e.doc.QueryAll(ctx, root, node, selector)
	if err != nil {
		if gone(err) {
			return nil
		}
		return err
	}
	return e.forceIDs(ctx, ids, ElementDark)
}

// ForceSelector forces decls on every element matching selector in the
// document and, with shadow detection on, in every registered root. It
// returns the number of elements styled.
func (e *Engine) ForceSelector(ctx context.Context, selector string, decls []Decl) (int, error) {
	total, err := e.forceRoot(ctx, dom.DocumentRoot, selector, decls)
	if err != nil {
		return total, err
	}
	if !e.cfg.DetectShadowDOM {
		return total, nil
	}
	for _, root := range e.roots.Roots() {
		n, err := e.forceRoot(ctx, root, selector, decls)
		if err != nil {
			e.logger(ctx).Debug().Err(err).Int64("root", int64(root)).Msg("Skipping shadow root")
			continue
		}
		total += n
	}
	return total, nil
}

func (e *Engine) forceRoot(ctx context.Context, root dom.RootID, selector string, decls []Decl) (int, error) {
	ids, err := e.doc.QueryAll(ctx, root, 0, selector)
	if err != nil {
		return 0, &types.DOMError{Operation: "query " + selector, Err: err}
	}
	computed, err := e.doc.Inspect(ctx, ids)
	if err != nil {
		return 0, &types.DOMError{Operation: "inspect", Err: err}
	}
	n := 0
	for _, c := range computed {
		if c.Gone || c.InUI {
			continue
		}
		if e.force(ctx, c.Node, decls) {
			n++
		}
	}
	return n, nil
}

func (e *Engine) forceIDs(ctx context.Context, ids []dom.NodeID, decls []Decl) error {
	computed, err := e.doc.Inspect(ctx, ids)
	if err != nil {
		return err
	}
	for _, c := range computed {
		if skip(c) {
			continue
		}
		e.force(ctx, c.Node, decls)
	}
	return nil
}

// force snapshots id on first touch and writes original + forced. It
// reports whether the element carries the declarations afterwards.
func (e *Engine) force(ctx context.Context, id dom.NodeID, decls []Decl) bool {
	if !e.snap.Has(id) {
		style, present, err := e.doc.InlineStyle(ctx, id)
		if err != nil {
			if !gone(err) {
				e.logger(ctx).Debug().Err(err).Int64("node", int64(id)).Msg("Cannot read inline style")
			}
			return false
		}
		e.snap.Record(id, style, present)
	}
	style, changed := e.snap.Force(id, decls...)
	if !changed {
		return true
	}
	if err := e.doc.SetInlineStyle(ctx, id, style); err != nil {
		if !gone(err) {
			e.logger(ctx).Debug().Err(err).Int64("node", int64(id)).Msg("Cannot write inline style")
		}
		return false
	}
	return true
}

func (e *Engine) deepScanScope() string {
	switch e.cfg.Tier {
	case device.TierLow:
		return `main, article, section, [role="main"], header, nav, footer`
	case device.TierHigh:
		return "body *"
	default:
		return `main *, article *, section *, [role="main"] *, header *, nav *, footer *`
	}
}

// DeepScan styles light-background elements the stylesheet missed. It
// only runs while active and returns the number of elements forced.
func (e *Engine) DeepScan(ctx context.Context) (int, error) {
	if e.state != Active {
		return 0, nil
	}
	ids, err := e.doc.QueryAll(ctx, dom.DocumentRoot, 0, e.deepScanScope())
	if err != nil {
		return 0, &types.DOMError{Operation: "deep scan", Err: err}
	}
	forced := e.scan(ctx, ids)

	if e.cfg.Tier != device.TierLow {
		for _, root := range e.roots.Roots() {
			ids, err := e.doc.QueryAll(ctx, root, 0, "*")
			if err != nil {
				continue
			}
			forced += e.scan(ctx, ids)
		}
	}
	return forced, nil
}

const inspectBatch = 256

func (e *Engine) scan(ctx context.Context, ids []dom.NodeID) int {
	forced := 0
	for start := 0; start < len(ids); start += inspectBatch {
		if ctx.Err() != nil {
			return forced
		}
		end := min(start+inspectBatch, len(ids))
		computed, err := e.doc.Inspect(ctx, ids[start:end])
		if err != nil {
			e.logger(ctx).Debug().Err(err).Msg("Inspect batch failed")
			continue
		}
		for _, c := range computed {
			if skip(c) || !dom.IsLight(c.Background) {
				continue
			}
			switch {
			case dom.IsDark(c.Color):
				if e.force(ctx, c.Node, SurfaceDark) {
					forced++
				}
			case c.Position == "fixed" || c.Position == "sticky":
				if e.force(ctx, c.Node, BackgroundDark) {
					forced++
				}
			}
		}
	}
	return forced
}

func gone(err error) bool {
	return errors.Is(err, dom.ErrNodeGone) || errors.Is(err, dom.ErrRootUnavailable)
}
