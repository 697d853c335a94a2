// Package surface renders the control surface: the toggle button, the
// settings button, the settings panel and the diagnostics modal. It reads
// state and never changes it; user input comes back as dom.Action values.
package surface

import (
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/Rorqualx/darkmode-go/internal/assets"
	"github.com/Rorqualx/darkmode-go/internal/device"
	"github.com/Rorqualx/darkmode-go/internal/dom"
	"github.com/Rorqualx/darkmode-go/internal/settings"
)

// Widget ids.
const (
	ToggleID      = "darkModeToggle"
	GearID        = "toggleDarkModeUIButton"
	PanelID       = "darkModeToggleUI"
	DiagnosticsID = "darkModeDiagnostics"
)

// Action names emitted by the widgets.
const (
	ActionToggle           = "toggle"
	ActionExtreme          = "extreme"
	ActionPreset           = "preset"
	ActionExclude          = "exclude"
	ActionReset            = "reset"
	ActionDiagnostics      = "diagnostics"
	ActionDiagnosticsClose = "diagnostics.close"
	ActionOpen             = "ui.open"
	ActionClose            = "ui.close"
	ActionMove             = "ui.move"
)

// Model is the state snapshot the widgets render from.
type Model struct {
	Settings settings.Global
	Tuning   device.Tuning
	Site     string
	Dark     bool
	Extreme  bool
	Excluded bool
	Version  string

	// ResetArmed renders the reset button as its confirmation step.
	ResetArmed bool
}

// Surface tracks which widgets should be on the page.
type Surface struct {
	ui          dom.UI
	panelOpen   bool
	diagnostics bool
}

// New creates a surface mounting through ui.
func New(ui dom.UI) *Surface {
	return &Surface{ui: ui}
}

// PanelOpen reports whether the settings panel should be visible.
func (s *Surface) PanelOpen() bool { return s.panelOpen }

// Expected lists the widgets that should be present.
func (s *Surface) Expected() []string {
	ids := []string{ToggleID, GearID}
	if s.panelOpen {
		ids = append(ids, PanelID)
	}
	return ids
}

// Render mounts every expected widget from m, replacing existing ones.
func (s *Surface) Render(ctx context.Context, m Model) error {
	for _, id := range s.Expected() {
		if err := s.mount(ctx, id, m); err != nil {
			return err
		}
	}
	return nil
}

// Missing returns the expected widgets that are not in the document.
func (s *Surface) Missing(ctx context.Context) ([]string, error) {
	expected := s.Expected()
	present, err := s.ui.Present(ctx, expected)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, id := range expected {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// Repair remounts missing widgets and returns how many it recreated.
func (s *Surface) Repair(ctx context.Context, m Model) (int, error) {
	missing, err := s.Missing(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range missing {
		if err := s.mount(ctx, id, m); err != nil {
			return 0, err
		}
	}
	return len(missing), nil
}

// OpenPanel shows the settings panel.
func (s *Surface) OpenPanel(ctx context.Context, m Model) error {
	s.panelOpen = true
	return s.mount(ctx, PanelID, m)
}

// ClosePanel hides the settings panel.
func (s *Surface) ClosePanel(ctx context.Context) error {
	s.panelOpen = false
	return s.ui.Unmount(ctx, PanelID)
}

// ShowDiagnostics mounts the diagnostics modal with report.
func (s *Surface) ShowDiagnostics(ctx context.Context, report string) error {
	html, err := assets.Render(assets.DiagnosticsTemplate, struct{ Report string }{Report: report})
	if err != nil {
		return err
	}
	s.diagnostics = true
	return s.ui.Mount(ctx, dom.Widget{ID: DiagnosticsID, HTML: html})
}

// CloseDiagnostics removes the diagnostics modal.
func (s *Surface) CloseDiagnostics(ctx context.Context) error {
	s.diagnostics = false
	return s.ui.Unmount(ctx, DiagnosticsID)
}

// Teardown removes every widget.
func (s *Surface) Teardown(ctx context.Context) error {
	var firstErr error
	for _, id := range []string{ToggleID, GearID, PanelID, DiagnosticsID} {
		if err := s.ui.Unmount(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.panelOpen = false
	s.diagnostics = false
	return firstErr
}

func (s *Surface) mount(ctx context.Context, id string, m Model) error {
	var (
		name string
		data any
	)
	switch id {
	case ToggleID:
		name = assets.ToggleTemplate
		data = struct {
			Dark  bool
			Style template.CSS
		}{m.Dark, ToggleStyle(m.Settings, m.Tuning)}
	case GearID:
		name = assets.GearTemplate
		data = struct{ Style template.CSS }{GearStyle(m.Settings)}
	case PanelID:
		name = assets.PanelTemplate
		data = panelData(m)
	default:
		return fmt.Errorf("surface: unknown widget %q", id)
	}
	html, err := assets.Render(name, data)
	if err != nil {
		return err
	}
	return s.ui.Mount(ctx, dom.Widget{ID: id, HTML: html})
}

type panelView struct {
	Site       string
	Excluded   bool
	Dark       bool
	Extreme    bool
	Brightness int
	Contrast   int
	Sepia      int
	Presets    []string
	Exclusions []string
	Tier       device.Tier
	Version    string
	ResetArmed bool
	Style      template.CSS
}

func panelData(m Model) panelView {
	return panelView{
		Site:       m.Site,
		Excluded:   m.Excluded,
		Dark:       m.Dark,
		Extreme:    m.Extreme,
		Brightness: m.Settings.Brightness,
		Contrast:   m.Settings.Contrast,
		Sepia:      m.Settings.Sepia,
		Presets:    settings.PresetNames(),
		Exclusions: m.Settings.ExclusionList,
		Tier:       m.Tuning.Tier,
		Version:    assets.SanitizeVersion(m.Version),
		ResetArmed: m.ResetArmed,
		Style:      PanelStyle(m.Settings.UIPosition),
	}
}

// ToggleStyle places the toggle button in its corner with the tuned size.
func ToggleStyle(g settings.Global, t device.Tuning) template.CSS {
	var b strings.Builder
	b.WriteString("position:fixed;z-index:2147483646;")
	x, y := t.OffsetX, t.OffsetY
	switch g.Position {
	case settings.TopLeft:
		fmt.Fprintf(&b, "top:%dpx;left:%dpx;", y, x)
	case settings.TopRight:
		fmt.Fprintf(&b, "top:%dpx;right:%dpx;", y, x)
	case settings.BottomLeft:
		fmt.Fprintf(&b, "bottom:%dpx;left:%dpx;", y, x)
	default:
		fmt.Fprintf(&b, "bottom:%dpx;right:%dpx;", y, x)
	}
	fmt.Fprintf(&b, "width:%dpx;height:%dpx;opacity:%.2f;", t.ButtonWidth, t.ButtonHeight, g.ButtonOpacity)
	fmt.Fprintf(&b, "transition:all %.2fs ease;", t.TransitionSpeed)
	fmt.Fprintf(&b, "background:%s;color:%s;", cssColor(g.ThemeColor, "#f7f7f7"), cssColor(g.TextColor, "#444"))
	b.WriteString("border-radius:20px;border:none;cursor:pointer;")
	return template.CSS(b.String())
}

// GearStyle places the settings button on the right edge.
func GearStyle(g settings.Global) template.CSS {
	var b strings.Builder
	b.WriteString("position:fixed;z-index:2147483646;width:40px;height:40px;border-radius:50%;")
	if !g.SettingsButtonVisible {
		b.WriteString("display:none;")
	} else {
		b.WriteString("display:flex;")
	}
	fmt.Fprintf(&b, "right:%dpx;", g.SettingsButtonOffset)
	switch g.SettingsButtonVerticalPosition {
	case "top":
		fmt.Fprintf(&b, "top:%dpx;", g.SettingsButtonVerticalOffset)
	case "bottom":
		fmt.Fprintf(&b, "bottom:%dpx;", g.SettingsButtonVerticalOffset)
	default:
		b.WriteString("top:50%;transform:translateY(-50%);")
	}
	return template.CSS(b.String())
}

// PanelStyle docks the panel or places it where it was dragged.
func PanelStyle(p settings.UIPosition) template.CSS {
	base := "position:fixed;z-index:2147483646;width:320px;max-height:80vh;overflow:auto;" +
		"background:#1a1a1a;color:#ddd;padding:16px;border-radius:8px;"
	if p.Top != nil && p.Left != nil {
		return template.CSS(base + fmt.Sprintf("top:%.0fpx;left:%.0fpx;", *p.Top, *p.Left))
	}
	return template.CSS(base + "top:50%;left:50%;transform:translate(-50%,-50%);")
}

// cssColor passes through colors that parse, falling back otherwise, so
// user text never reaches a style attribute unchecked.
func cssColor(v, fallback string) string {
	if _, ok := dom.ParseColor(v); ok {
		return strings.TrimSpace(v)
	}
	return fallback
}
