// Package sitefixes provides the table of known sites that need extra
// styling, with optional hot reload from an external file.
package sitefixes

import (
	"embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/Rorqualx/darkmode-go/internal/settings"
)

//go:embed sitefixes.yaml
var defaultFixesFS embed.FS

// Fix methods.
const (
	MethodCustomCSS   = "custom_css"
	MethodForceStyles = "force_styles"
)

// ForcedStyle is a set of declarations forced on every match of Selector.
type ForcedStyle struct {
	Selector string            `yaml:"selector" json:"selector"`
	Styles   map[string]string `yaml:"styles" json:"styles"`
}

// Fix is the special handling for one site.
type Fix struct {
	Description           string        `yaml:"description" json:"description"`
	Method                string        `yaml:"fix_method" json:"fixMethod"`
	CustomCSS             string        `yaml:"custom_css,omitempty" json:"customCss,omitempty"`
	ForceStyles           []ForcedStyle `yaml:"force_styles,omitempty" json:"forceStyles,omitempty"`
	DefaultButtonPosition string        `yaml:"default_button_position,omitempty" json:"defaultButtonPosition,omitempty"`
}

// Position returns the default button position, if one is set.
func (f Fix) Position() (settings.Position, bool) {
	p := settings.Position(f.DefaultButtonPosition)
	return p, f.DefaultButtonPosition != "" && p.Valid()
}

// Table maps site keys to fixes.
type Table struct {
	Sites map[string]Fix `yaml:"sites"`
}

// Match finds the fix for host. A host matches a key when it equals the key
// or is a subdomain of it; the longest matching key wins.
func (t *Table) Match(host string) (key string, fix Fix, ok bool) {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for k, f := range t.Sites {
		if host != k && !strings.HasSuffix(host, "."+k) {
			continue
		}
		if len(k) > len(key) {
			key, fix, ok = k, f, true
		}
	}
	return key, fix, ok
}

// Keys returns the site keys in sorted order.
func (t *Table) Keys() []string {
	keys := make([]string, 0, len(t.Sites))
	for k := range t.Sites {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks every entry.
func (t *Table) Validate() error {
	if len(t.Sites) == 0 {
		return fmt.Errorf("site fixes must have at least one site")
	}
	for key, f := range t.Sites {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("site fix with empty key")
		}
		switch f.Method {
		case MethodCustomCSS:
			if strings.TrimSpace(f.CustomCSS) == "" {
				return fmt.Errorf("site %s: custom_css is empty", key)
			}
		case MethodForceStyles:
			if len(f.ForceStyles) == 0 {
				return fmt.Errorf("site %s: force_styles is empty", key)
			}
			for _, fs := range f.ForceStyles {
				if strings.TrimSpace(fs.Selector) == "" || len(fs.Styles) == 0 {
					return fmt.Errorf("site %s: force_styles entry needs a selector and styles", key)
				}
			}
		default:
			return fmt.Errorf("site %s: unknown fix_method %q", key, f.Method)
		}
		if f.DefaultButtonPosition != "" && !settings.Position(f.DefaultButtonPosition).Valid() {
			return fmt.Errorf("site %s: invalid default_button_position %q", key, f.DefaultButtonPosition)
		}
	}
	return nil
}

var (
	instance *Table
	once     sync.Once
	loadErr  error
)

// Default returns the embedded table.
func Default() *Table {
	once.Do(func() {
		instance, loadErr = load()
		if loadErr != nil {
			log.Error().Err(loadErr).Msg("Failed to load embedded site fixes")
			instance = &Table{Sites: map[string]Fix{}}
		}
	})
	return instance
}

func load() (*Table, error) {
	data, err := defaultFixesFS.ReadFile("sitefixes.yaml")
	if err != nil {
		return nil, err
	}
	t, err := parseAndValidate(data)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("sites", len(t.Sites)).Msg("Site fixes loaded")
	return t, nil
}

func parseAndValidate(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	normalized := make(map[string]Fix, len(t.Sites))
	for k, f := range t.Sites {
		normalized[strings.ToLower(strings.TrimSpace(k))] = f
	}
	t.Sites = normalized
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}
