package darkmode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rorqualx/darkmode-go/internal/device"
	"github.com/Rorqualx/darkmode-go/internal/dom"
	"github.com/Rorqualx/darkmode-go/internal/dom/htmldoc"
	"github.com/Rorqualx/darkmode-go/internal/settings"
)

func TestConfigFor(t *testing.T) {
	g := settings.Defaults()

	cfg := ConfigFor(g, device.TierHigh)
	assert.Equal(t, ModeFilter, cfg.Mode)
	assert.Equal(t, g.Brightness, cfg.Brightness)
	assert.True(t, cfg.UseFont)
	assert.False(t, cfg.IgnoreImageAnalysis)

	g.ExtremeMode.Enabled = true
	cfg = ConfigFor(g, device.TierMedium)
	assert.Equal(t, ModeDynamic, cfg.Mode)
	assert.True(t, cfg.IgnoreImageAnalysis)

	cfg = ConfigFor(g, device.TierLow)
	assert.Equal(t, ModeFilter, cfg.Mode, "low tier always uses the filter")
	assert.False(t, cfg.UseFont)
}

func TestFilterCSS(t *testing.T) {
	cfg := FilterConfig{Brightness: 80, Contrast: 110, Sepia: 5, Mode: ModeFilter}
	css := FilterCSS(cfg)
	assert.Contains(t, css, "brightness(80%) contrast(110%) sepia(5%)")
	assert.Contains(t, css, "invert(100%) hue-rotate(180deg)")
	assert.Contains(t, css, `[style*="background-image"]`)
	assert.NotContains(t, css, "font-family")

	cfg.IgnoreImageAnalysis = true
	assert.NotContains(t, FilterCSS(cfg), `[style*="background-image"]`)

	cfg.Mode = ModeDynamic
	css = FilterCSS(cfg)
	assert.Contains(t, css, "color-scheme: dark")
	assert.NotContains(t, css, "invert(")
}

func TestFilterCSSSanitizesFont(t *testing.T) {
	css := FilterCSS(FilterConfig{UseFont: true, FontFamily: "Inter; } body { display:none"})
	assert.Contains(t, css, "font-family: Inter  body  display:none !important;")
}

func TestFilterEngine(t *testing.T) {
	d, err := htmldoc.ParseString("https://site.test/", `<html><head></head><body><p>x</p></body></html>`)
	require.NoError(t, err)
	f := NewFilterEngine(d)
	ctx := context.Background()

	require.NoError(t, f.Disable(ctx), "disabling a disabled engine is a no-op")

	cfg := ConfigFor(settings.Defaults(), device.TierHigh)
	require.NoError(t, f.Enable(ctx, cfg))
	assert.Equal(t, []string{FilterCSSID}, d.StyleIDs(dom.DocumentRoot))
	got, on := f.Enabled()
	assert.True(t, on)
	assert.Equal(t, cfg, got)

	cfg.Brightness = 50
	require.NoError(t, f.Enable(ctx, cfg))
	assert.Contains(t, d.String(), "brightness(50%)")
	assert.Equal(t, []string{FilterCSSID}, d.StyleIDs(dom.DocumentRoot), "reconfiguring replaces the sheet")

	require.NoError(t, f.Disable(ctx))
	assert.Empty(t, d.StyleIDs(dom.DocumentRoot))
}
