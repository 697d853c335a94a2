// Package settings holds the two-layer configuration model (global and
// per-site), its typed merge, the exclusion matcher, theme presets and the
// persisted Store.
package settings

import (
	"time"

	"github.com/Rorqualx/darkmode-go/internal/device"
)

// Position is the corner the toggle button is anchored to.
type Position string

// Button positions.
const (
	TopLeft     Position = "top-left"
	TopRight    Position = "top-right"
	BottomLeft  Position = "bottom-left"
	BottomRight Position = "bottom-right"
)

// Valid reports whether p is a known corner.
func (p Position) Valid() bool {
	switch p {
	case TopLeft, TopRight, BottomLeft, BottomRight:
		return true
	}
	return false
}

// Size is a widget size in CSS pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// UIPosition is where the settings panel sits. Top and Left are only set
// once the panel has been dragged.
type UIPosition struct {
	Mode string   `json:"mode"`
	Top  *float64 `json:"top"`
	Left *float64 `json:"left"`
}

// ExtremeMode configures the DOM rewrite engine.
type ExtremeMode struct {
	Enabled             bool              `json:"enabled"`
	ForceDarkElements   bool              `json:"forceDarkElements"`
	IgnoreImageAnalysis bool              `json:"ignoreImageAnalysis"`
	UseCustomCSS        bool              `json:"useCustomCSS"`
	CustomCSSPerSite    map[string]string `json:"customCSSPerSite"`
}

// DynamicSelectors configures the polling scan loop.
type DynamicSelectors struct {
	Enabled         bool `json:"enabled"`
	DetectShadowDOM bool `json:"detectShadowDOM"`
	DeepScan        bool `json:"deepScan"`
	ScanInterval    int  `json:"scanInterval"` // milliseconds
}

// Interval returns ScanInterval as a duration.
func (d DynamicSelectors) Interval() time.Duration {
	return time.Duration(d.ScanInterval) * time.Millisecond
}

// Schedule is the automatic dark-mode window, times as HH:MM.
type Schedule struct {
	Enabled   bool   `json:"enabled"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// KeyboardShortcut is persisted for compatibility only.
type KeyboardShortcut struct {
	Enabled bool   `json:"enabled"`
	Alt     bool   `json:"alt"`
	Shift   bool   `json:"shift"`
	Ctrl    bool   `json:"ctrl"`
	Meta    bool   `json:"meta"`
	Key     string `json:"key"`
}

// DeviceOptimization are the user's tier preferences.
type DeviceOptimization struct {
	Enabled           bool `json:"enabled"`
	ReducedMotion     bool `json:"reducedMotion"`
	ReducedAnimations bool `json:"reducedAnimations"`
	LowPowerMode      bool `json:"lowPowerMode"`
}

// Diagnostics configures issue collection and log verbosity.
type Diagnostics struct {
	Enabled      bool   `json:"enabled"`
	LogLevel     string `json:"logLevel"`
	CollectStats bool   `json:"collectStats"`
}

// PerSiteSettings toggles the per-site layer.
type PerSiteSettings struct {
	Enabled           bool `json:"enabled"`
	UseGlobalPosition bool `json:"useGlobalPosition"`
}

// Global is the global settings record. JSON names match the stored
// `settings` blob and the export format.
type Global struct {
	Position   Position `json:"position"`
	OffsetX    int      `json:"offsetX"`
	OffsetY    int      `json:"offsetY"`
	Brightness int      `json:"brightness"`
	Contrast   int      `json:"contrast"`
	Sepia      int      `json:"sepia"`
	ThemeColor string   `json:"themeColor"`
	TextColor  string   `json:"textColor"`
	FontFamily string   `json:"fontFamily"`

	ExclusionList []string `json:"exclusionList"`

	AutoMode        bool    `json:"autoMode"`
	ButtonOpacity   float64 `json:"buttonOpacity"`
	ButtonSize      Size    `json:"buttonSize"`
	TransitionSpeed float64 `json:"transitionSpeed"` // seconds

	SettingsButtonOffset           int    `json:"settingsButtonOffset"`
	SettingsButtonVisible          bool   `json:"settingsButtonVisible"`
	SettingsButtonVerticalPosition string `json:"settingsButtonVerticalPosition"`
	SettingsButtonVerticalOffset   int    `json:"settingsButtonVerticalOffset"`

	UIPosition         UIPosition         `json:"uiPosition"`
	ScheduledDarkMode  Schedule           `json:"scheduledDarkMode"`
	KeyboardShortcut   KeyboardShortcut   `json:"keyboardShortcut"`
	ExtremeMode        ExtremeMode        `json:"extremeMode"`
	DynamicSelectors   DynamicSelectors   `json:"dynamicSelectors"`
	Diagnostics        Diagnostics        `json:"diagnostics"`
	PerSiteSettings    PerSiteSettings    `json:"perSiteSettings"`
	DeviceOptimization DeviceOptimization `json:"deviceOptimization"`
}

// DefaultFontFamily is the font stack handed to the color engine.
const DefaultFontFamily = `system-ui, -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif`

// Defaults returns a fresh copy of the built-in settings.
func Defaults() Global {
	return Global{
		Position:      BottomRight,
		OffsetX:       30,
		OffsetY:       30,
		Brightness:    100,
		Contrast:      90,
		Sepia:         10,
		ThemeColor:    "#f7f7f7",
		TextColor:     "#444",
		FontFamily:    DefaultFontFamily,
		ExclusionList: []string{},

		ButtonOpacity:   0.8,
		ButtonSize:      Size{Width: 80, Height: 40},
		TransitionSpeed: 0.3,

		SettingsButtonOffset:           20,
		SettingsButtonVisible:          true,
		SettingsButtonVerticalPosition: "center",
		SettingsButtonVerticalOffset:   40,

		UIPosition:        UIPosition{Mode: "docked"},
		ScheduledDarkMode: Schedule{StartTime: "20:00", EndTime: "07:00"},
		KeyboardShortcut:  KeyboardShortcut{Enabled: true, Alt: true, Shift: true, Key: "d"},
		ExtremeMode: ExtremeMode{
			ForceDarkElements:   true,
			IgnoreImageAnalysis: true,
			CustomCSSPerSite:    map[string]string{},
		},
		DynamicSelectors: DynamicSelectors{
			Enabled:         true,
			DetectShadowDOM: true,
			DeepScan:        true,
			ScanInterval:    2000,
		},
		Diagnostics:        Diagnostics{LogLevel: "info", CollectStats: true},
		PerSiteSettings:    PerSiteSettings{Enabled: true},
		DeviceOptimization: DeviceOptimization{Enabled: true},
	}
}

// Clone returns a deep copy of g.
func (g Global) Clone() Global {
	out := g
	out.ExclusionList = append([]string{}, g.ExclusionList...)
	if g.UIPosition.Top != nil {
		top := *g.UIPosition.Top
		out.UIPosition.Top = &top
	}
	if g.UIPosition.Left != nil {
		left := *g.UIPosition.Left
		out.UIPosition.Left = &left
	}
	out.ExtremeMode.CustomCSSPerSite = make(map[string]string, len(g.ExtremeMode.CustomCSSPerSite))
	for k, v := range g.ExtremeMode.CustomCSSPerSite {
		out.ExtremeMode.CustomCSSPerSite[k] = v
	}
	return out
}

const (
	minScanInterval = 500
	maxPercent      = 200
)

// Normalize clamps out-of-range values to something the engine can use.
// It never rejects a record.
func (g *Global) Normalize() {
	def := Defaults()
	if !g.Position.Valid() {
		g.Position = def.Position
	}
	g.Brightness = clampPercent(g.Brightness)
	g.Contrast = clampPercent(g.Contrast)
	g.Sepia = clampPercent(g.Sepia)
	if g.ButtonOpacity < 0 || g.ButtonOpacity > 1 {
		g.ButtonOpacity = def.ButtonOpacity
	}
	if g.ButtonSize.Width <= 0 || g.ButtonSize.Height <= 0 {
		g.ButtonSize = def.ButtonSize
	}
	if g.TransitionSpeed < 0 {
		g.TransitionSpeed = def.TransitionSpeed
	}
	if g.DynamicSelectors.ScanInterval < minScanInterval {
		g.DynamicSelectors.ScanInterval = minScanInterval
	}
	if g.ExclusionList == nil {
		g.ExclusionList = []string{}
	}
	if g.ExtremeMode.CustomCSSPerSite == nil {
		g.ExtremeMode.CustomCSSPerSite = map[string]string{}
	}
	if g.FontFamily == "" {
		g.FontFamily = def.FontFamily
	}
}

func clampPercent(v int) int {
	return min(max(v, 0), maxPercent)
}

// Preferences converts the deviceOptimization block for the classifier.
func (g Global) Preferences() device.Preferences {
	return device.Preferences{
		Enabled:       g.DeviceOptimization.Enabled,
		ReducedMotion: g.DeviceOptimization.ReducedMotion,
		LowPowerMode:  g.DeviceOptimization.LowPowerMode,
	}
}

// Baseline returns the user-configured values device.Tune starts from.
func (g Global) Baseline() device.Baseline {
	return device.Baseline{
		TransitionSpeed: g.TransitionSpeed,
		ScanInterval:    g.DynamicSelectors.Interval(),
		DeepScan:        g.DynamicSelectors.DeepScan,
		ButtonWidth:     g.ButtonSize.Width,
		ButtonHeight:    g.ButtonSize.Height,
		OffsetX:         g.OffsetX,
		OffsetY:         g.OffsetY,
	}
}

// Tune resolves the tier for info and computes its effects.
func (g Global) Tune(info device.Info) device.Tuning {
	tier := device.ResolveTier(info, g.Preferences())
	return device.Tune(tier, info, g.Baseline(), g.DeviceOptimization.Enabled)
}

// PerSite is the per-host override record. Pointer fields are unset until
// the user (or a site fix) chooses a value.
type PerSite struct {
	Position           *Position `json:"position,omitempty"`
	OffsetX            *int      `json:"offsetX,omitempty"`
	OffsetY            *int      `json:"offsetY,omitempty"`
	UseGlobalPosition  bool      `json:"useGlobalPosition"`
	Brightness         *int      `json:"brightness,omitempty"`
	Contrast           *int      `json:"contrast,omitempty"`
	Sepia              *int      `json:"sepia,omitempty"`
	DarkModeEnabled    *bool     `json:"darkModeEnabled,omitempty"`
	ExtremeModeEnabled *bool     `json:"extremeModeEnabled,omitempty"`
}

// Clone returns a deep copy of p.
func (p PerSite) Clone() PerSite {
	out := PerSite{UseGlobalPosition: p.UseGlobalPosition}
	out.Position = clonePtr(p.Position)
	out.OffsetX = clonePtr(p.OffsetX)
	out.OffsetY = clonePtr(p.OffsetY)
	out.Brightness = clonePtr(p.Brightness)
	out.Contrast = clonePtr(p.Contrast)
	out.Sepia = clonePtr(p.Sepia)
	out.DarkModeEnabled = clonePtr(p.DarkModeEnabled)
	out.ExtremeModeEnabled = clonePtr(p.ExtremeModeEnabled)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func ptr[T any](v T) *T {
	return &v
}

// ApplyTo overlays the per-site values onto g. Position fields only apply
// when the per-site layer is enabled and the record does not defer to the
// global position.
func (p PerSite) ApplyTo(g *Global) {
	if g.PerSiteSettings.Enabled && !p.UseGlobalPosition {
		if p.Position != nil && p.Position.Valid() {
			g.Position = *p.Position
		}
		if p.OffsetX != nil {
			g.OffsetX = *p.OffsetX
		}
		if p.OffsetY != nil {
			g.OffsetY = *p.OffsetY
		}
	}
	if p.Brightness != nil {
		g.Brightness = clampPercent(*p.Brightness)
	}
	if p.Contrast != nil {
		g.Contrast = clampPercent(*p.Contrast)
	}
	if p.Sepia != nil {
		g.Sepia = clampPercent(*p.Sepia)
	}
	if p.ExtremeModeEnabled != nil {
		g.ExtremeMode.Enabled = *p.ExtremeModeEnabled
	}
}

// NewPerSite seeds a record for a first visit. It defers to the global
// position until the user places the button on this site.
func NewPerSite(g Global, darkMode bool) PerSite {
	return PerSite{
		UseGlobalPosition:  true,
		Brightness:         ptr(g.Brightness),
		Contrast:           ptr(g.Contrast),
		Sepia:              ptr(g.Sepia),
		DarkModeEnabled:    ptr(darkMode),
		ExtremeModeEnabled: ptr(g.ExtremeMode.Enabled),
	}
}

// Mirror copies the live values from g into p before it is persisted.
func (p *PerSite) Mirror(g Global, darkMode bool) {
	if !p.UseGlobalPosition {
		p.Position = ptr(g.Position)
		p.OffsetX = ptr(g.OffsetX)
		p.OffsetY = ptr(g.OffsetY)
	}
	p.Brightness = ptr(g.Brightness)
	p.Contrast = ptr(g.Contrast)
	p.Sepia = ptr(g.Sepia)
	p.DarkModeEnabled = ptr(darkMode)
	p.ExtremeModeEnabled = ptr(g.ExtremeMode.Enabled)
}
