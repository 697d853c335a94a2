// Package assets provides the embedded stylesheets and widget templates.
// Using Go's embed package allows for single-binary deployment without
// external file dependencies.
package assets

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"html/template"
	"io/fs"
	"regexp"
	"sync"
)

// Styles embeds the stylesheets injected into pages.
//
//go:embed css/*.css
var Styles embed.FS

// Templates embeds all HTML templates.
//
//go:embed templates/*.html
var Templates embed.FS

// Template names for the control-surface widgets.
const (
	ToggleTemplate      = "toggle.html"
	GearTemplate        = "gear.html"
	PanelTemplate       = "panel.html"
	DiagnosticsTemplate = "diagnostics.html"
	HealthTemplate      = "health.html"
)

// ReadStyle returns the raw content of a stylesheet.
func ReadStyle(name string) (string, error) {
	b, err := fs.ReadFile(Styles, "css/"+name)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ExtremeCSS is the document-level extreme-mode stylesheet.
func ExtremeCSS() string { return mustStyle("extreme.css") }

// ShadowCSS is injected into every registered shadow root.
func ShadowCSS() string { return mustStyle("shadow.css") }

func mustStyle(name string) string {
	css, err := ReadStyle(name)
	if err != nil {
		panic(fmt.Sprintf("assets: missing embedded stylesheet %s: %v", name, err))
	}
	return css
}

// GetTemplate parses and returns a named template from the embedded filesystem.
func GetTemplate(name string) (*template.Template, error) {
	return template.ParseFS(Templates, "templates/"+name)
}

// ReadTemplate returns the raw content of a template file.
func ReadTemplate(name string) ([]byte, error) {
	return fs.ReadFile(Templates, "templates/"+name)
}

var (
	parsedMu sync.Mutex
	parsed   = map[string]*template.Template{}
)

// Render executes the named template with data. Parsed templates are cached.
func Render(name string, data any) (string, error) {
	parsedMu.Lock()
	t, ok := parsed[name]
	if !ok {
		var err error
		t, err = GetTemplate(name)
		if err != nil {
			parsedMu.Unlock()
			return "", fmt.Errorf("parse template %s: %w", name, err)
		}
		parsed[name] = t
	}
	parsedMu.Unlock()

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.String(), nil
}

// sanitizeVersion removes any potentially dangerous characters from the version string.
// This prevents XSS via build-time ldflags injection.
// Only allows alphanumeric characters, dots, dashes, underscores, and plus signs.
var versionSanitizer = regexp.MustCompile(`[^a-zA-Z0-9.\-_+]`)

// SanitizeVersion sanitizes a version string to prevent XSS attacks.
// Returns "unknown" if the result is empty after sanitization.
func SanitizeVersion(version string) string {
	escaped := html.EscapeString(version)
	sanitized := versionSanitizer.ReplaceAllString(escaped, "")
	if sanitized == "" {
		return "unknown"
	}
	if len(sanitized) > 100 {
		sanitized = sanitized[:100]
	}
	return sanitized
}

// HealthPageData contains the data for rendering the health page.
type HealthPageData struct {
	Version      string
	GoVersion    string
	Uptime       string
	BrowserReady bool
	Sessions     int
}

// RenderHealthPage renders the health page with the given data.
func RenderHealthPage(data HealthPageData) (string, error) {
	// Pre-sanitize version as defense in depth
	data.Version = SanitizeVersion(data.Version)
	return Render(HealthTemplate, data)
}
