package settings

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Rorqualx/darkmode-go/internal/types"
)

// Preset is a named brightness/contrast/sepia triple.
type Preset struct {
	Brightness int `json:"brightness"`
	Contrast   int `json:"contrast"`
	Sepia      int `json:"sepia"`
}

// Presets are the built-in theme presets.
var Presets = map[string]Preset{
	"DEFAULT":       {Brightness: 100, Contrast: 90, Sepia: 10},
	"HIGH_CONTRAST": {Brightness: 110, Contrast: 110, Sepia: 0},
	"LOW_CONTRAST":  {Brightness: 90, Contrast: 80, Sepia: 5},
	"SEPIA":         {Brightness: 100, Contrast: 95, Sepia: 40},
	"NIGHT":         {Brightness: 80, Contrast: 100, Sepia: 0},
	"ULTRA_DARK":    {Brightness: 70, Contrast: 120, Sepia: 0},
	"MIDNIGHT":      {Brightness: 60, Contrast: 130, Sepia: 0},
}

// LookupPreset finds a preset by name, case-insensitively.
func LookupPreset(name string) (Preset, error) {
	p, ok := Presets[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", types.ErrUnknownPreset, name)
	}
	return p, nil
}

// PresetNames lists the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply copies the preset values onto g.
func (p Preset) Apply(g *Global) {
	g.Brightness = p.Brightness
	g.Contrast = p.Contrast
	g.Sepia = p.Sepia
}
