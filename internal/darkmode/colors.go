package darkmode

import (
	"context"
	"fmt"
	"strings"

	"github.com/Rorqualx/darkmode-go/internal/device"
	"github.com/Rorqualx/darkmode-go/internal/dom"
	"github.com/Rorqualx/darkmode-go/internal/settings"
)

// FilterCSSID is the purpose id of the color engine's stylesheet.
const FilterCSSID = "darkmode-filter"

// Mode selects how the color engine darkens the page.
type Mode int

const (
	// ModeFilter inverts the page and counter-inverts media.
	ModeFilter Mode = 0
	// ModeDynamic leaves colors to the page and the extreme stylesheet and
	// only adjusts them.
	ModeDynamic Mode = 1
)

// FilterConfig configures a ColorEngine.
type FilterConfig struct {
	Brightness          int    `json:"brightness"`
	Contrast            int    `json:"contrast"`
	Sepia               int    `json:"sepia"`
	FontFamily          string `json:"fontFamily,omitempty"`
	Mode                Mode   `json:"mode"`
	IgnoreImageAnalysis bool   `json:"ignoreImageAnalysis"`
	UseFont             bool   `json:"useFont"`
}

// ConfigFor derives the color engine configuration from the settings and
// the effective tier.
func ConfigFor(g settings.Global, tier device.Tier) FilterConfig {
	cfg := FilterConfig{
		Brightness: g.Brightness,
		Contrast:   g.Contrast,
		Sepia:      g.Sepia,
		FontFamily: g.FontFamily,
		Mode:       ModeFilter,
		UseFont:    g.FontFamily != "",
	}
	if g.ExtremeMode.Enabled {
		cfg.IgnoreImageAnalysis = g.ExtremeMode.IgnoreImageAnalysis
		cfg.Mode = ModeDynamic
	}
	if tier == device.TierLow {
		cfg.Mode = ModeFilter
		cfg.UseFont = false
	}
	return cfg
}

// ColorEngine remaps page colors. Enable may be called repeatedly with a
// new configuration.
type ColorEngine interface {
	Enable(ctx context.Context, cfg FilterConfig) error
	Disable(ctx context.Context) error
}

// FilterEngine is a ColorEngine built on a page-wide CSS filter sheet.
type FilterEngine struct {
	styles  dom.StyleInjector
	enabled bool
	last    FilterConfig
}

var _ ColorEngine = (*FilterEngine)(nil)

// NewFilterEngine creates a disabled filter engine.
func NewFilterEngine(styles dom.StyleInjector) *FilterEngine {
	return &FilterEngine{styles: styles}
}

// Enabled reports whether the filter sheet is injected, and with what.
func (f *FilterEngine) Enabled() (FilterConfig, bool) { return f.last, f.enabled }

// Enable implements ColorEngine.
func (f *FilterEngine) Enable(ctx context.Context, cfg FilterConfig) error {
	if f.enabled && f.last == cfg {
		return nil
	}
	if err := f.styles.InjectStyle(ctx, dom.DocumentRoot, FilterCSSID, FilterCSS(cfg)); err != nil {
		return fmt.Errorf("enable color engine: %w", err)
	}
	f.enabled = true
	f.last = cfg
	return nil
}

// Disable implements ColorEngine.
func (f *FilterEngine) Disable(ctx context.Context) error {
	if !f.enabled {
		return nil
	}
	if err := f.styles.RemoveStyle(ctx, dom.DocumentRoot, FilterCSSID); err != nil {
		return fmt.Errorf("disable color engine: %w", err)
	}
	f.enabled = false
	return nil
}

const counterInvert = "invert(100%) hue-rotate(180deg)"

// FilterCSS renders the stylesheet for cfg.
func FilterCSS(cfg FilterConfig) string {
	adjust := fmt.Sprintf("brightness(%d%%) contrast(%d%%) sepia(%d%%)", cfg.Brightness, cfg.Contrast, cfg.Sepia)

	var b strings.Builder
	if cfg.Mode == ModeFilter {
		fmt.Fprintf(&b, "html { filter: %s %s !important; background-color: #fff !important; }\n", counterInvert, adjust)
		media := "img, video, picture, canvas, iframe, svg image, [data-darkmode-ui]"
		if !cfg.IgnoreImageAnalysis {
			media += `, [style*="background-image"]`
		}
		fmt.Fprintf(&b, "%s { filter: %s !important; }\n", media, counterInvert)
	} else {
		fmt.Fprintf(&b, "html { color-scheme: dark !important; filter: %s !important; }\n", adjust)
	}
	if font := cssFontFamily(cfg.FontFamily); cfg.UseFont && font != "" {
		fmt.Fprintf(&b, "body *:not([data-darkmode-ui] *) { font-family: %s !important; }\n", font)
	}
	return b.String()
}

// cssFontFamily drops characters that could end the declaration.
func cssFontFamily(v string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		switch r {
		case '{', '}', ';', '<', '>', '\\':
			return -1
		}
		return r
	}, v))
}
