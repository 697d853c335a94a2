package dom

import (
	"strconv"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// LightThreshold is the luminance above which a color counts as light.
const LightThreshold = 0.55

// RGBA is an 8-bit color with alpha in [0,1].
type RGBA struct {
	R, G, B uint8
	A       float64
}

// ParseColor parses rgb(), rgba(), #rgb and #rrggbb values as produced by
// getComputedStyle. The keyword transparent parses to a zero alpha.
func ParseColor(s string) (RGBA, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "transparent":
		return RGBA{}, true
	case strings.HasPrefix(s, "#"):
		c, err := colorful.Hex(s)
		if err != nil {
			return RGBA{}, false
		}
		r, g, b := c.RGB255()
		return RGBA{R: r, G: g, B: b, A: 1}, true
	case strings.HasPrefix(s, "rgba(") || strings.HasPrefix(s, "rgb("):
		return parseFunctional(s)
	}
	return RGBA{}, false
}

func parseFunctional(s string) (RGBA, bool) {
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return RGBA{}, false
	}
	body := s[open+1 : len(s)-1]
	body = strings.ReplaceAll(body, "/", " ")
	fields := strings.FieldsFunc(body, func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) != 3 && len(fields) != 4 {
		return RGBA{}, false
	}

	var ch [3]uint8
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(strings.TrimSuffix(fields[i], "%"), 64)
		if err != nil {
			return RGBA{}, false
		}
		if strings.HasSuffix(fields[i], "%") {
			v = v * 255 / 100
		}
		ch[i] = uint8(min(max(v, 0), 255) + 0.5)
	}
	c := RGBA{R: ch[0], G: ch[1], B: ch[2], A: 1}
	if len(fields) == 4 {
		a, err := strconv.ParseFloat(strings.TrimSuffix(fields[3], "%"), 64)
		if err != nil {
			return RGBA{}, false
		}
		if strings.HasSuffix(fields[3], "%") {
			a /= 100
		}
		c.A = min(max(a, 0), 1)
	}
	return c, true
}

// Luminance returns the perceptual luminance of c in [0,1].
func (c RGBA) Luminance() float64 {
	return (0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)) / 255
}

// IsLight classifies a CSS color. Transparent and unparsable colors are
// never light.
func IsLight(css string) bool {
	c, ok := ParseColor(css)
	if !ok || c.A == 0 {
		return false
	}
	return c.Luminance() > LightThreshold
}

// IsDark is the complement of IsLight, so unreadable text colors count as
// dark.
func IsDark(css string) bool {
	return !IsLight(css)
}
