// Package browser drives a Chromium instance over CDP and adapts its pages
// to the document capabilities the theming engine works against.
//
// One Browser process serves every session. Each session owns a page and a
// PageDocument bound to it; the in-page runtime (runtime.js) is installed on
// every new document so handles, observers and control-surface input work
// across navigations.
package browser

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/darkmode-go/internal/config"
	"github.com/Rorqualx/darkmode-go/internal/security"
	"github.com/Rorqualx/darkmode-go/internal/types"
)

// closeTimeout bounds how long Close waits for the browser process.
const closeTimeout = 10 * time.Second

// Browser is a launched Chromium process.
type Browser struct {
	cfg    *config.Config
	rod    *rod.Browser
	policy security.URLPolicy
	closed atomic.Bool

	// pages opened and not yet closed
	pages atomic.Int32
}

// Launch starts a browser with the configured flags and connects to it.
func Launch(ctx context.Context, cfg *config.Config) (*Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.Info().
		Bool("headless", cfg.Headless).
		Str("browser_path", cfg.BrowserPath).
		Bool("stealth", cfg.StealthEnabled).
		Msg("Launching browser")

	// Launchers can only launch once.
	l := newLauncher(cfg)
	url, err := l.Context(ctx).Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrBrowserLaunch, err)
	}

	rb := rod.New().Context(ctx).ControlURL(url)
	if err := rb.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("%w: connect: %v", types.ErrBrowserLaunch, err)
	}

	log.Debug().Str("url", url).Msg("Browser connected")
	// Detach from the launch context so later calls use their own.
	return &Browser{
		cfg:    cfg,
		rod:    rb.Context(context.Background()),
		policy: security.URLPolicy{AllowPrivate: cfg.AllowPrivateURLs},
	}, nil
}

// newLauncher builds the command line. Pages are themed, not scraped, so
// the flags favour a realistic rendering pipeline over throughput.
func newLauncher(cfg *config.Config) *launcher.Launcher {
	l := launcher.New()

	if cfg.BrowserPath != "" {
		l = l.Bin(cfg.BrowserPath)
	}

	// Rod enables headless by default; a headed run needs it cleared.
	if cfg.Headless {
		l = l.Set("headless", "new")
	} else {
		l = l.Headless(false)
	}

	// Container flags
	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage")

	l = l.Set("disable-blink-features", "AutomationControlled").
		Delete("enable-automation")

	// Computed colors must come from a real compositor, so keep WebGL on
	// software rendering rather than disabling the GPU.
	l = l.Set("use-gl", "swiftshader").
		Set("use-angle", "swiftshader").
		Set("enable-unsafe-swiftshader")

	l = l.Set("accept-lang", "en-US,en;q=0.9").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-infobars").
		Set("disable-search-engine-choice-screen").
		Set("window-size", "1920,1080")

	l = l.Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-extensions").
		Set("disable-sync").
		Set("mute-audio").
		Set("safebrowsing-disable-auto-update")

	// Background tabs keep their timers running; every session has a
	// scan loop and schedule checker of its own.
	l = l.Set("disable-renderer-backgrounding").
		Set("disable-background-timer-throttling").
		Set("disable-backgrounding-occluded-windows")

	l = l.Set("disable-gpu-sandbox")
	if isARM() {
		l = l.Set("disable-gpu-compositing")
		log.Debug().Msg("ARM detected: using software compositing")
	}

	return l
}

// OpenPage creates a tab, applies em and navigates to rawURL, waiting for
// the load event and then NavigateWait for late scripts to settle.
func (b *Browser) OpenPage(ctx context.Context, rawURL string, em Emulation) (*rod.Page, error) {
	if b.closed.Load() {
		return nil, types.ErrBrowserClosed
	}
	if err := b.policy.Check(ctx, rawURL); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidURL, err)
	}
	if err := em.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidRequest, err)
	}

	var (
		page *rod.Page
		err  error
	)
	if b.cfg.StealthEnabled {
		page, err = stealth.Page(b.rod)
	} else {
		page, err = b.rod.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	b.pages.Add(1)

	if !em.IsZero() {
		if err := Emulate(ctx, page, em); err != nil {
			b.ClosePage(page)
			return nil, err
		}
	}
	if err := page.Context(ctx).Navigate(rawURL); err != nil {
		b.ClosePage(page)
		return nil, fmt.Errorf("navigate %s: %w", security.RedactURL(rawURL), err)
	}
	if err := page.Context(ctx).WaitLoad(); err != nil {
		// Pages that never fire load are still usable.
		log.Warn().Err(err).Str("url", security.RedactURL(rawURL)).Msg("Page did not finish loading")
	}

	select {
	case <-ctx.Done():
		b.ClosePage(page)
		return nil, ctx.Err()
	case <-time.After(b.cfg.NavigateWait):
	}
	return page, nil
}

// ClosePage closes a page opened by OpenPage.
func (b *Browser) ClosePage(page *rod.Page) {
	if page == nil {
		return
	}
	b.pages.Add(-1)
	if err := page.Close(); err != nil {
		log.Debug().Err(err).Msg("Error closing page")
	}
}

// Pages returns the number of open pages.
func (b *Browser) Pages() int {
	return int(b.pages.Load())
}

// Healthy reports whether the browser still answers CDP calls.
func (b *Browser) Healthy(ctx context.Context) bool {
	if b.closed.Load() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := (proto.BrowserGetVersion{}).Call(b.rod.Context(ctx)); err != nil {
		log.Debug().Err(err).Msg("Browser health check failed")
		return false
	}
	return true
}

// Close shuts the browser down. A close that outlives closeTimeout is
// abandoned and logged.
func (b *Browser) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	log.Info().Int("open_pages", b.Pages()).Msg("Closing browser")

	done := make(chan error, 1)
	started := time.Now()
	go func() {
		done <- b.rod.Close()
	}()

	select {
	case err := <-done:
		log.Debug().Dur("duration", time.Since(started)).Msg("Browser closed")
		return err
	case <-time.After(closeTimeout):
		log.Warn().Dur("elapsed", time.Since(started)).Msg("Browser close timed out")
		return fmt.Errorf("browser close timed out after %s", closeTimeout)
	}
}

func isARM() bool {
	arch := runtime.GOARCH
	return arch == "arm" || arch == "arm64"
}
