package diagnostics

import (
	"context"

	"github.com/Rorqualx/darkmode-go/internal/dom"
)

// Theme is what the page itself does about dark mode.
type Theme struct {
	HasDarkMode       bool `json:"hasDarkMode"`
	HasDarkModeToggle bool `json:"hasDarkModeToggle"`
	MediaQueryPrefers bool `json:"mediaQueryPrefers"`
	DarkModeClasses   bool `json:"darkModeClasses"`
}

const (
	darkClassSelector = `html.dark, html.darkmode, html.dark-mode, html[data-theme="dark"], html[theme="dark"], ` +
		`body.dark, body.darkmode, body.dark-mode, body[data-theme="dark"], body[theme="dark"]`
	toggleSelector = `[aria-label*="dark mode"], [aria-label*="night mode"], [title*="dark mode"], [title*="night mode"], ` +
		`[data-action*="dark-mode"], [data-action*="night-mode"], [class*="darkModeToggle"], ` +
		`[id*="dark-mode"], [id*="darkmode"], svg[aria-label*="dark"]`
)

// DetectTheme looks for the page's own dark theme markers and toggles.
// The control surface never counts as a page toggle.
func DetectTheme(ctx context.Context, q dom.ElementStyler, prefersDark bool) (Theme, error) {
	t := Theme{MediaQueryPrefers: prefersDark}

	marked, err := q.QueryAll(ctx, dom.DocumentRoot, 0, darkClassSelector)
	if err != nil {
		return t, err
	}
	if len(marked) > 0 {
		t.HasDarkMode = true
		t.DarkModeClasses = true
	}

	toggles, err := q.QueryAll(ctx, dom.DocumentRoot, 0, toggleSelector)
	if err != nil {
		return t, err
	}
	if len(toggles) == 0 {
		return t, nil
	}
	computed, err := q.Inspect(ctx, toggles)
	if err != nil {
		return t, err
	}
	for _, c := range computed {
		if !c.Gone && !c.InUI {
			t.HasDarkModeToggle = true
			break
		}
	}
	return t, nil
}

// CountIframes returns the number of iframes in the document.
func CountIframes(ctx context.Context, q dom.ElementStyler) (int, error) {
	ids, err := q.QueryAll(ctx, dom.DocumentRoot, 0, "iframe")
	return len(ids), err
}
