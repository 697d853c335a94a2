package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Viewport bounds accepted by Emulate.
const (
	minViewport = 200
	maxViewport = 7680
)

// Emulation overrides what a page reports about its device. The zero value
// leaves the browser defaults alone.
type Emulation struct {
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	PixelRatio float64 `json:"pixelRatio,omitempty"`
	Mobile     bool    `json:"mobile,omitempty"`
	Touch      bool    `json:"touch,omitempty"`
	UserAgent  string  `json:"userAgent,omitempty"`
	// ColorScheme is "dark", "light" or empty.
	ColorScheme string `json:"colorScheme,omitempty"`
}

// IsZero reports whether e overrides nothing.
func (e Emulation) IsZero() bool {
	return e == Emulation{}
}

// Validate checks the viewport and color scheme.
func (e Emulation) Validate() error {
	if e.Width != 0 || e.Height != 0 {
		if e.Width < minViewport || e.Width > maxViewport || e.Height < minViewport || e.Height > maxViewport {
			return fmt.Errorf("viewport %dx%d outside %d..%d", e.Width, e.Height, minViewport, maxViewport)
		}
	}
	if e.PixelRatio < 0 || e.PixelRatio > 8 {
		return fmt.Errorf("pixel ratio %g out of range", e.PixelRatio)
	}
	switch e.ColorScheme {
	case "", "dark", "light":
	default:
		return fmt.Errorf("unknown color scheme %q", e.ColorScheme)
	}
	return nil
}

// Emulate applies e to page. Call it before navigating so the device probe
// sees the emulated values.
func Emulate(ctx context.Context, page *rod.Page, e Emulation) error {
	if err := e.Validate(); err != nil {
		return err
	}
	p := page.Context(ctx)

	if e.Width != 0 {
		ratio := e.PixelRatio
		if ratio == 0 {
			ratio = 1
		}
		if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             e.Width,
			Height:            e.Height,
			DeviceScaleFactor: ratio,
			Mobile:            e.Mobile,
		}); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
	}
	if e.Touch {
		if err := (proto.EmulationSetTouchEmulationEnabled{Enabled: true}).Call(p); err != nil {
			return fmt.Errorf("enable touch: %w", err)
		}
	}
	if e.UserAgent != "" {
		if err := (proto.NetworkSetUserAgentOverride{UserAgent: e.UserAgent}).Call(p); err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
	}
	if e.ColorScheme != "" {
		if err := (proto.EmulationSetEmulatedMedia{
			Features: []*proto.EmulationMediaFeature{{Name: "prefers-color-scheme", Value: e.ColorScheme}},
		}).Call(p); err != nil {
			return fmt.Errorf("emulate color scheme: %w", err)
		}
	}
	return nil
}
