// Package darkmode holds the per-page context object that owns every
// theming component: settings, device tuning, the color engine, the
// extreme-mode rewrite engine, the schedule, the scan loop, the
// reconciler and the control surface.
package darkmode

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/darkmode-go/internal/adaptive"
	"github.com/Rorqualx/darkmode-go/internal/device"
	"github.com/Rorqualx/darkmode-go/internal/diagnostics"
	"github.com/Rorqualx/darkmode-go/internal/dom"
	"github.com/Rorqualx/darkmode-go/internal/loop"
	"github.com/Rorqualx/darkmode-go/internal/reconcile"
	"github.com/Rorqualx/darkmode-go/internal/rewrite"
	"github.com/Rorqualx/darkmode-go/internal/schedule"
	"github.com/Rorqualx/darkmode-go/internal/settings"
	"github.com/Rorqualx/darkmode-go/internal/sitefixes"
	"github.com/Rorqualx/darkmode-go/internal/storage"
	"github.com/Rorqualx/darkmode-go/internal/surface"
	"github.com/Rorqualx/darkmode-go/internal/types"
)

const (
	// DeepScanThrottle bounds how often the scan loop deep scans.
	DeepScanThrottle = 5000 * time.Millisecond

	defaultScanInterval = 2000 * time.Millisecond
)

// SiteFixes looks up the known-site table.
type SiteFixes interface {
	Match(host string) (key string, fix sitefixes.Fix, ok bool)
}

// Options configure a Controller.
type Options struct {
	// Store persists settings. Defaults to an in-memory store.
	Store storage.Store
	// Fixes is the known-site table. Defaults to the embedded table.
	Fixes SiteFixes
	// Probe measures the device. Defaults to a static desktop probe.
	Probe device.Probe
	// Colors remaps page colors. Defaults to a FilterEngine on the page.
	Colors ColorEngine
	// Collector receives warnings and errors while diagnostics are on.
	Collector *diagnostics.Collector
	// Location is the time zone of the dark-mode schedule.
	Location *time.Location
	Version  string
	Session  string
	// OnDarkMode is called on the loop after dark mode switches.
	OnDarkMode func(on bool)
}

// Status is a read-only summary of a controller.
type Status struct {
	Site      string        `json:"site"`
	URL       string        `json:"url"`
	Dark      bool          `json:"darkModeEnabled"`
	Extreme   bool          `json:"extremeModeActive"`
	Excluded  bool          `json:"excluded"`
	Tier      device.Tier   `json:"performanceMode"`
	PanelOpen bool          `json:"panelOpen"`
	Engine    rewrite.Stats `json:"engine"`
}

// Controller is the theming context of one document. It is confined to
// the loop behind its scheduler; callers on other goroutines go through
// loop.Loop.Do.
type Controller struct {
	ctx    context.Context
	logger zerolog.Logger
	doc    dom.Document
	sched  loop.Scheduler
	opts   Options

	site   string
	store  *settings.Store
	info   device.Info
	tuning device.Tuning

	dark    bool
	extreme bool
	armed   bool // reset awaiting confirmation

	engine   *rewrite.Engine
	colors   ColorEngine
	surface  *surface.Surface
	recon    *reconcile.Reconciler
	checker  *schedule.Checker
	deepScan *adaptive.Throttle

	scanTimer   loop.Timer
	scanGen     uint64
	stopActions func()
	started     bool
	closed      bool
}

// New builds a controller for doc. Nothing touches the document until
// Start.
func New(ctx context.Context, doc dom.Document, s loop.Scheduler, opts Options) *Controller {
	if opts.Store == nil {
		opts.Store = storage.NewMemory()
	}
	if opts.Fixes == nil {
		opts.Fixes = sitefixes.Default()
	}
	if opts.Probe == nil {
		opts.Probe = device.StaticProbe{Env: device.Environment{
			ScreenWidth: 1920, ScreenHeight: 1080, InnerWidth: 1920, InnerHeight: 1080, PixelRatio: 1,
		}}
	}
	if opts.Colors == nil {
		opts.Colors = NewFilterEngine(doc)
	}

	c := &Controller{
		doc:    doc,
		sched:  s,
		opts:   opts,
		site:   SiteOf(doc.URL()),
		info:   device.Default(),
		colors: opts.Colors,
	}

	base := zerolog.Ctx(ctx)
	if base.GetLevel() == zerolog.Disabled {
		base = &log.Logger
	}
	c.logger = base.With().Str("site", c.site).Str("session", opts.Session).Logger()
	if opts.Collector != nil {
		c.logger = c.logger.Hook(opts.Collector)
	}
	c.ctx = c.logger.WithContext(ctx)

	c.store = settings.NewStore(c.ctx, opts.Store, s, c.site)
	c.engine = rewrite.New(c.ctx, doc, s, rewrite.Config{Tier: device.TierMedium})
	c.surface = surface.New(doc)
	c.recon = reconcile.New(doc, s, reconcile.Hooks{
		Repair:        func(ctx context.Context) (int, error) { return c.surface.Repair(ctx, c.model()) },
		ExtremeActive: func() bool { return c.dark && c.extreme },
		Rediscover: func(ctx context.Context) error {
			_, err := c.engine.DiscoverShadowRoots(ctx, dom.DocumentRoot, 0)
			return err
		},
	})
	c.checker = schedule.NewChecker(s, opts.Location, schedule.Hooks{
		Window: func() schedule.Window {
			w := c.store.Global().ScheduledDarkMode
			return schedule.Window{Enabled: w.Enabled, Start: w.StartTime, End: w.EndTime}
		},
		IsDark:  func() bool { return c.dark },
		SetDark: func(on bool) { _ = c.SetDarkMode(c.ctx, on) },
	})
	c.deepScan = adaptive.NewThrottle(s, DeepScanThrottle, false, func() {
		if _, err := c.engine.DeepScan(c.ctx); err != nil {
			c.logger.Debug().Err(err).Msg("Deep scan failed")
		}
	})

	c.store.OnSaved(c.onSaved)
	c.store.OnReset(c.onReset)
	return c
}

// SiteOf returns the site identifier of a page URL: its host name.
func SiteOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Start loads the settings, detects the device, mounts the control
// surface and applies the remembered dark-mode state.
func (c *Controller) Start(ctx context.Context) (err error) {
	defer c.guard("start", &err)
	if c.closed {
		return types.ErrControllerClosed
	}
	if c.started {
		return nil
	}
	c.started = true
	ctx = c.scope(ctx)
	c.logger.Info().Msg("Initializing dark mode")

	c.store.Load(ctx)
	c.applyLogging()

	c.info = device.Detect(ctx, c.opts.Probe)
	c.store.SetDevice(c.info)
	c.retune()

	if err := c.surface.Render(ctx, c.model()); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to render control surface")
	}
	c.stopActions = c.doc.OnAction(func(a dom.Action) {
		c.sched.Post(func() {
			if c.closed {
				return
			}
			if err := c.HandleAction(c.ctx, a); err != nil {
				c.logger.Warn().Err(err).Str("action", a.Name).Msg("Action failed")
			}
		})
	})

	if err := c.SetDarkMode(ctx, c.store.DarkMode()); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to apply initial dark mode state")
	}

	c.checker.Start(c.ctx)
	c.startScanLoop()
	if err := c.recon.Start(c.ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to start reconciler")
	}

	go c.refineBattery(c.ctx, c.info)

	c.logger.Info().
		Bool("dark", c.dark).
		Bool("extreme", c.extreme).
		Str("tier", string(c.tuning.Tier)).
		Msg("Initialization complete")
	return nil
}

// Close rolls the page back and stops every timer and observer. Pending
// settings are flushed.
func (c *Controller) Close(ctx context.Context) (err error) {
	defer c.guard("close", &err)
	if c.closed {
		return nil
	}
	c.closed = true
	ctx = c.scope(ctx)

	c.stopScanLoop()
	c.deepScan.Stop()
	c.checker.Stop()
	c.recon.Stop()
	if c.stopActions != nil {
		c.stopActions()
		c.stopActions = nil
	}

	var errs []error
	if err := c.colors.Disable(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.engine.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.surface.Teardown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.store.Flush(ctx); err != nil {
		errs = append(errs, err)
	}
	c.logger.Info().Msg("Dark mode controller closed")
	return errors.Join(errs...)
}

// Site returns the site identifier.
func (c *Controller) Site() string { return c.site }

// DarkMode reports whether dark mode is on.
func (c *Controller) DarkMode() bool { return c.dark }

// ExtremeActive reports whether extreme mode is applied.
func (c *Controller) ExtremeActive() bool { return c.extreme }

// Settings returns a copy of the effective settings.
func (c *Controller) Settings() settings.Global { return c.store.Global() }

// Tuning returns the current tier effects.
func (c *Controller) Tuning() device.Tuning { return c.tuning }

// Excluded reports whether the page matches the exclusion list.
func (c *Controller) Excluded() bool {
	return settings.IsSiteExcluded(&c.logger, c.store.Global().ExclusionList, c.doc.URL())
}

// Status summarizes the controller.
func (c *Controller) Status() Status {
	return Status{
		Site:      c.site,
		URL:       c.doc.URL(),
		Dark:      c.dark,
		Extreme:   c.extreme,
		Excluded:  c.Excluded(),
		Tier:      c.tuning.Tier,
		PanelOpen: c.surface.PanelOpen(),
		Engine:    c.engine.Stats(),
	}
}

// Toggle flips dark mode.
func (c *Controller) Toggle(ctx context.Context) error {
	return c.SetDarkMode(ctx, !c.dark)
}

// SetDarkMode turns dark mode on or off. Asking for the current state is a
// no-op. Dark mode never turns on for an excluded page.
func (c *Controller) SetDarkMode(ctx context.Context, on bool) (err error) {
	defer c.guard("set dark mode", &err)
	if c.closed {
		return types.ErrControllerClosed
	}
	if on == c.dark {
		return nil
	}
	ctx = c.scope(ctx)

	c.dark = on
	if c.dark && c.Excluded() {
		c.dark = false
		c.logger.Info().Msg("Site excluded, dark mode remains disabled")
	}
	c.extreme = c.dark && c.store.Global().ExtremeMode.Enabled

	var errs []error
	if c.dark {
		errs = append(errs, c.enable(ctx))
	} else {
		errs = append(errs, c.disable(ctx))
	}
	if err := c.store.SetDarkMode(ctx, c.dark); err != nil {
		c.logger.Error().Err(err).Msg("Failed to persist dark mode state")
		errs = append(errs, err)
	}
	c.render(ctx)
	if c.dark == on && c.opts.OnDarkMode != nil {
		c.opts.OnDarkMode(on)
	}
	return errors.Join(errs...)
}

func (c *Controller) enable(ctx context.Context) error {
	var errs []error
	if err := c.applyColors(ctx); err != nil {
		errs = append(errs, err)
	}
	if c.extreme {
		if err := c.engine.Enter(ctx); err != nil {
			c.logger.Error().Err(err).Msg("Failed to apply extreme mode")
			errs = append(errs, err)
		}
	}
	c.applySiteFix(ctx)
	c.applyCustomCSS(ctx)
	c.logger.Info().Bool("extreme", c.extreme).Msg("Dark mode enabled")
	return errors.Join(errs...)
}

func (c *Controller) disable(ctx context.Context) error {
	var errs []error
	if err := c.colors.Disable(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.engine.Exit(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Rollback skipped some elements")
		errs = append(errs, err)
	}
	c.logger.Info().Msg("Dark mode disabled")
	return errors.Join(errs...)
}

func (c *Controller) applyColors(ctx context.Context) error {
	if !c.dark || c.Excluded() {
		return c.colors.Disable(ctx)
	}
	return c.colors.Enable(ctx, ConfigFor(c.store.Global(), c.tuning.Tier))
}

// applySiteFix applies the known-site entry for this host, if any.
func (c *Controller) applySiteFix(ctx context.Context) {
	key, fix, ok := c.opts.Fixes.Match(c.site)
	if !ok {
		return
	}
	logger := c.logger.With().Str("fix", key).Logger()
	logger.Info().Str("method", fix.Method).Msg("Applying fixes for problematic site")

	switch fix.Method {
	case sitefixes.MethodCustomCSS:
		if err := c.engine.InjectCSS(ctx, dom.DocumentRoot, rewrite.SiteFixID, fix.CustomCSS); err != nil {
			logger.Error().Err(err).Msg("Failed to inject site fix")
		}
	case sitefixes.MethodForceStyles:
		for _, fs := range fix.ForceStyles {
			if _, err := c.engine.ForceSelector(ctx, fs.Selector, declsOf(fs.Styles)); err != nil {
				logger.Error().Err(err).Str("selector", fs.Selector).Msg("Failed to force site fix styles")
			}
		}
	default:
		logger.Warn().Str("method", fix.Method).Msg("Unknown fix method")
	}

	if pos, ok := fix.Position(); ok {
		adopted, err := c.store.AdoptPosition(ctx, pos)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to save site button position")
		}
		if adopted {
			c.retune()
		}
	}
}

// declsOf orders a style map by property so rendering is stable.
func declsOf(styles map[string]string) []rewrite.Decl {
	decls := make([]rewrite.Decl, 0, len(styles))
	for prop, value := range styles {
		value = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "!important"))
		decls = append(decls, rewrite.Decl{Prop: strings.TrimSpace(prop), Value: value})
	}
	sort.Slice(decls, func(i, j int) bool { return decls[i].Prop < decls[j].Prop })
	return decls
}

func (c *Controller) applyCustomCSS(ctx context.Context) {
	css := c.store.CustomCSS()
	g := c.store.Global()
	if !c.dark || css == "" || !(c.extreme || g.ExtremeMode.UseCustomCSS) {
		if err := c.engine.RemoveCSS(ctx, dom.DocumentRoot, rewrite.CustomCSSID); err != nil {
			c.logger.Debug().Err(err).Msg("Failed to remove custom site CSS")
		}
		return
	}
	if err := c.engine.InjectCSS(ctx, dom.DocumentRoot, rewrite.CustomCSSID, css); err != nil {
		c.logger.Error().Err(err).Msg("Failed to inject custom site CSS")
	}
}

// SetExtremeMode turns extreme mode on or off and persists the choice.
func (c *Controller) SetExtremeMode(ctx context.Context, on bool) (err error) {
	defer c.guard("set extreme mode", &err)
	if c.closed {
		return types.ErrControllerClosed
	}
	ctx = c.scope(ctx)
	c.store.Update(func(g *settings.Global) { g.ExtremeMode.Enabled = on })
	err = c.syncExtreme(ctx)
	c.render(ctx)
	return err
}

// syncExtreme brings the engine in line with the settings. Leaving extreme
// mode rolls everything back, so the non-extreme parts are reapplied.
func (c *Controller) syncExtreme(ctx context.Context) error {
	want := c.dark && c.store.Global().ExtremeMode.Enabled
	c.engine.Configure(c.engineConfig())
	if want == c.extreme {
		return c.applyColors(ctx)
	}
	c.extreme = want
	if !c.dark {
		return nil
	}
	if err := c.engine.Exit(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Rollback skipped some elements")
	}
	return c.enable(ctx)
}

// ApplyPreset copies a theme preset into the settings.
func (c *Controller) ApplyPreset(ctx context.Context, name string) (err error) {
	defer c.guard("apply preset", &err)
	if c.closed {
		return types.ErrControllerClosed
	}
	p, err := settings.LookupPreset(name)
	if err != nil {
		return err
	}
	ctx = c.scope(ctx)
	c.store.Update(p.Apply)
	c.logger.Info().Str("preset", name).Msg("Applied theme preset")
	if err := c.applyColors(ctx); err != nil {
		return err
	}
	c.render(ctx)
	return nil
}

// AddExclusion adds pattern to the exclusion list. An empty pattern
// excludes the current site. Excluding the current page turns dark mode
// off.
func (c *Controller) AddExclusion(ctx context.Context, pattern string) (err error) {
	defer c.guard("add exclusion", &err)
	if c.closed {
		return types.ErrControllerClosed
	}
	if strings.TrimSpace(pattern) == "" {
		pattern = c.site
	}
	if _, err := settings.CompilePattern(pattern); err != nil {
		return err
	}
	ctx = c.scope(ctx)

	changed := false
	c.store.Update(func(g *settings.Global) {
		g.ExclusionList, changed = settings.AddExclusion(g.ExclusionList, pattern)
	})
	if changed {
		c.logger.Info().Str("pattern", pattern).Msg("Added exclusion")
	}
	if c.dark && c.Excluded() {
		return c.SetDarkMode(ctx, false)
	}
	c.render(ctx)
	return nil
}

// RemoveExclusion drops pattern from the exclusion list.
func (c *Controller) RemoveExclusion(ctx context.Context, pattern string) (err error) {
	defer c.guard("remove exclusion", &err)
	if c.closed {
		return types.ErrControllerClosed
	}
	ctx = c.scope(ctx)
	changed := false
	c.store.Update(func(g *settings.Global) {
		g.ExclusionList, changed = settings.RemoveExclusion(g.ExclusionList, pattern)
	})
	if changed {
		c.logger.Info().Str("pattern", pattern).Msg("Removed exclusion")
	}
	c.render(ctx)
	return nil
}

// UpdateSettings deep-merges a JSON patch into the settings. The change
// takes effect when the debounced save lands.
func (c *Controller) UpdateSettings(ctx context.Context, patch []byte) (err error) {
	defer c.guard("update settings", &err)
	if c.closed {
		return types.ErrControllerClosed
	}
	return c.store.Patch(patch)
}

// SetCustomCSS stores custom CSS for this site and applies it when it
// would be active.
func (c *Controller) SetCustomCSS(ctx context.Context, css string) (err error) {
	defer c.guard("set custom css", &err)
	if c.closed {
		return types.ErrControllerClosed
	}
	ctx = c.scope(ctx)
	if err := c.store.SetCustomCSS(ctx, css); err != nil {
		return fmt.Errorf("save custom css: %w", err)
	}
	c.applyCustomCSS(ctx)
	return nil
}

// Reset restores the default settings when confirm returns true.
func (c *Controller) Reset(ctx context.Context, confirm func() bool) (err error) {
	defer c.guard("reset", &err)
	if c.closed {
		return types.ErrControllerClosed
	}
	return c.store.Reset(c.scope(ctx), confirm)
}

// Export writes the export document after flushing pending changes.
func (c *Controller) Export(ctx context.Context) (data []byte, err error) {
	defer c.guard("export", &err)
	if c.closed {
		return nil, types.ErrControllerClosed
	}
	ctx = c.scope(ctx)
	if err := c.store.Flush(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to flush settings before export")
	}
	return c.store.Export(ctx)
}

// Import replaces the settings with an export document and reapplies
// them. A rejected document leaves everything untouched.
func (c *Controller) Import(ctx context.Context, blob []byte) (err error) {
	defer c.guard("import", &err)
	if c.closed {
		return types.ErrControllerClosed
	}
	ctx = c.scope(ctx)
	err = c.store.Import(ctx, blob)
	var ie *types.ImportError
	if errors.As(err, &ie) {
		return err
	}
	c.info = c.store.Device()
	c.reconfigure(ctx)
	if derr := c.SetDarkMode(ctx, c.store.DarkMode()); derr != nil {
		err = errors.Join(err, derr)
	}
	return err
}

// Diagnostics builds the diagnostic report.
func (c *Controller) Diagnostics(ctx context.Context) (r diagnostics.Report, err error) {
	defer c.guard("diagnostics", &err)
	if c.closed {
		return diagnostics.Report{}, types.ErrControllerClosed
	}
	ctx = c.scope(ctx)

	in := diagnostics.Input{
		Now:      c.sched.Now(),
		Settings: c.store.Global(),
		URL:      c.doc.URL(),
		Domain:   c.site,
		Engine:   c.engine.Stats(),
		Device:   c.info,
		Tier:     c.tuning.Tier,
		Dark:     c.dark,
		Extreme:  c.extreme,
	}
	if t, ok := c.doc.(dom.Titler); ok {
		if in.Title, err = t.Title(ctx); err != nil {
			c.logger.Debug().Err(err).Msg("Failed to read page title")
		}
	}
	if in.Theme, err = diagnostics.DetectTheme(ctx, c.doc, c.info.PrefersDark); err != nil {
		c.logger.Debug().Err(err).Msg("Theme detection failed")
	}
	if in.Iframes, err = diagnostics.CountIframes(ctx, c.doc); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to count iframes")
	}
	_, _, in.ProblematicSite = c.opts.Fixes.Match(c.site)
	if rec, ok := c.store.PerSite(); ok {
		in.PerSite = &rec
	}
	if c.opts.Collector != nil {
		in.Issues = c.opts.Collector.Issues()
	}
	return diagnostics.Build(in)
}

// ShowDiagnostics renders the diagnostic report into the modal.
func (c *Controller) ShowDiagnostics(ctx context.Context) error {
	r, err := c.Diagnostics(ctx)
	if err != nil {
		return err
	}
	raw, err := r.JSON()
	if err != nil {
		return err
	}
	return c.surface.ShowDiagnostics(c.scope(ctx), string(raw))
}

// onSaved reapplies everything derived from the settings.
func (c *Controller) onSaved() {
	if c.closed {
		return
	}
	c.reconfigure(c.ctx)
	if c.dark && c.Excluded() {
		_ = c.SetDarkMode(c.ctx, false)
	}
}

// onReset rolls the page back to the defaults.
func (c *Controller) onReset() {
	ctx := c.ctx
	c.armed = false
	if c.dark {
		if err := c.disable(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Rollback after reset skipped some elements")
		}
	}
	c.dark = false
	c.extreme = false
	if err := c.surface.ClosePanel(ctx); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to close settings panel")
	}
	c.reconfigure(ctx)
}

func (c *Controller) reconfigure(ctx context.Context) {
	c.applyLogging()
	c.retune()
	if err := c.syncExtreme(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to reapply settings")
	}
	c.applyCustomCSS(ctx)
	c.checker.Start(c.ctx)
	c.startScanLoop()
	c.render(ctx)
}

func (c *Controller) retune() {
	c.tuning = c.store.Global().Tune(c.info)
	c.engine.Configure(c.engineConfig())
}

func (c *Controller) engineConfig() rewrite.Config {
	g := c.store.Global()
	return rewrite.Config{
		ForceDarkElements: g.ExtremeMode.ForceDarkElements,
		DetectShadowDOM:   g.DynamicSelectors.DetectShadowDOM,
		DeepScan:          c.tuning.DeepScan,
		Tier:              c.tuning.Tier,
	}
}

// applyLogging follows the diagnostics settings.
func (c *Controller) applyLogging() {
	d := c.store.Global().Diagnostics
	if lvl, err := zerolog.ParseLevel(d.LogLevel); err == nil && d.LogLevel != "" {
		c.logger = c.logger.Level(lvl)
		c.ctx = c.logger.WithContext(c.ctx)
	}
	if c.opts.Collector != nil {
		c.opts.Collector.SetEnabled(d.Enabled)
	}
}

func (c *Controller) startScanLoop() {
	c.stopScanLoop()
	g := c.store.Global()
	if !g.DynamicSelectors.Enabled {
		return
	}
	interval := c.tuning.ScanInterval
	if interval <= 0 {
		interval = defaultScanInterval
	}
	gen := c.scanGen
	var tick func()
	tick = func() {
		if gen != c.scanGen || c.closed {
			return
		}
		c.scanOnce()
		c.scanTimer = c.sched.AfterFunc(interval, tick)
	}
	c.scanTimer = c.sched.AfterFunc(interval, tick)
}

func (c *Controller) stopScanLoop() {
	c.scanGen++
	if c.scanTimer != nil {
		c.scanTimer.Stop()
		c.scanTimer = nil
	}
}

func (c *Controller) scanOnce() {
	c.engine.DrainPending()
	g := c.store.Global()
	if g.DynamicSelectors.DetectShadowDOM {
		if _, err := c.engine.DiscoverShadowRoots(c.ctx, dom.DocumentRoot, 0); err != nil {
			c.logger.Debug().Err(err).Msg("Shadow root scan failed")
		}
	}
	if c.dark && c.extreme && c.tuning.DeepScan {
		c.deepScan.Trigger()
	}
}

// refineBattery runs off the loop; the result is applied on it.
func (c *Controller) refineBattery(ctx context.Context, info device.Info) {
	refined, changed := device.RefineBattery(ctx, c.opts.Probe, info)
	if !changed {
		return
	}
	c.sched.Post(func() { c.applyDevice(refined) })
}

func (c *Controller) applyDevice(info device.Info) {
	if c.closed {
		return
	}
	c.info.BatteryLevel = info.BatteryLevel
	c.info.BatteryCharging = info.BatteryCharging
	c.info.BatteryLow = info.BatteryLow
	c.store.SetDevice(c.info)

	before := c.tuning.Tier
	c.retune()
	if c.tuning.Tier != before {
		c.logger.Info().
			Str("from", string(before)).
			Str("to", string(c.tuning.Tier)).
			Msg("Performance tier changed")
		c.startScanLoop()
		if err := c.applyColors(c.ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to reconfigure color engine")
		}
		c.render(c.ctx)
	}
	c.store.Save()
}

func (c *Controller) model() surface.Model {
	return surface.Model{
		Settings:   c.store.Global(),
		Tuning:     c.tuning,
		Site:       c.site,
		Dark:       c.dark,
		Extreme:    c.extreme,
		Excluded:   c.Excluded(),
		Version:    c.opts.Version,
		ResetArmed: c.armed,
	}
}

// render remounts the visible widgets from the current state.
func (c *Controller) render(ctx context.Context) {
	if !c.started || c.closed {
		return
	}
	if err := c.surface.Render(ctx, c.model()); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to render control surface")
	}
}

// scope attaches the controller logger to ctx unless it carries one.
func (c *Controller) scope(ctx context.Context) context.Context {
	if ctx == nil {
		return c.ctx
	}
	if zerolog.Ctx(ctx).GetLevel() == zerolog.Disabled {
		return c.logger.WithContext(ctx)
	}
	return ctx
}

// guard turns a panic in a public entry point into an error.
func (c *Controller) guard(op string, errp *error) {
	if r := recover(); r != nil {
		c.logger.Error().
			Interface("panic", r).
			Str("op", op).
			Str("stack", string(debug.Stack())).
			Msg("Recovered panic in controller")
		if errp != nil {
			*errp = fmt.Errorf("%s: recovered panic: %v", op, r)
		}
	}
}
