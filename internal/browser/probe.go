package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/ysmood/gson"

	"github.com/Rorqualx/darkmode-go/internal/device"
)

const environmentJS = `() => ({
	userAgent: navigator.userAgent,
	screenWidth: screen.width,
	screenHeight: screen.height,
	innerWidth: window.innerWidth,
	innerHeight: window.innerHeight,
	pixelRatio: window.devicePixelRatio || 1,
	touch: 'ontouchstart' in window || navigator.maxTouchPoints > 0,
	deviceMemory: navigator.deviceMemory || 0,
	reducedMotion: matchMedia('(prefers-reduced-motion: reduce)').matches,
	prefersDark: matchMedia('(prefers-color-scheme: dark)').matches,
})`

// benchmarkJS runs the same loop as device.Workload and reports elapsed
// milliseconds.
const benchmarkJS = `(n) => {
	const start = performance.now();
	let sum = 0;
	for (let i = 0; i < n; i++) {
		sum += Math.sqrt(i);
	}
	return performance.now() - start + (sum < 0 ? 1 : 0);
}`

const batteryJS = `async () => {
	if (!navigator.getBattery) {
		return {available: false};
	}
	try {
		const b = await navigator.getBattery();
		return {available: true, level: b.level, charging: b.charging};
	} catch (e) {
		return {available: false};
	}
}`

// PageProbe measures the device through a live page.
type PageProbe struct {
	page *rod.Page
}

var _ device.Probe = PageProbe{}

// NewPageProbe returns a probe evaluating in page.
func NewPageProbe(page *rod.Page) PageProbe {
	return PageProbe{page: page}
}

// Environment implements device.Probe.
func (p PageProbe) Environment(ctx context.Context) (device.Environment, error) {
	v, err := p.eval(ctx, environmentJS)
	if err != nil {
		return device.Environment{}, err
	}
	return decodeEnvironment(v), nil
}

// Benchmark implements device.Probe.
func (p PageProbe) Benchmark(ctx context.Context) (time.Duration, error) {
	v, err := p.eval(ctx, benchmarkJS, device.BenchmarkIterations)
	if err != nil {
		return 0, err
	}
	return time.Duration(v.Num() * float64(time.Millisecond)), nil
}

// Battery implements device.Probe.
func (p PageProbe) Battery(ctx context.Context) (device.Battery, error) {
	v, err := p.eval(ctx, batteryJS)
	if err != nil {
		return device.Battery{}, err
	}
	return decodeBattery(v), nil
}

func (p PageProbe) eval(ctx context.Context, js string, args ...any) (gson.JSON, error) {
	res, err := p.page.Context(ctx).Eval(js, args...)
	if err != nil {
		var zero gson.JSON
		return zero, fmt.Errorf("browser: probe: %w", err)
	}
	return res.Value, nil
}

func decodeEnvironment(v gson.JSON) device.Environment {
	return device.Environment{
		UserAgent:            str(v.Get("userAgent")),
		ScreenWidth:          v.Get("screenWidth").Int(),
		ScreenHeight:         v.Get("screenHeight").Int(),
		InnerWidth:           v.Get("innerWidth").Int(),
		InnerHeight:          v.Get("innerHeight").Int(),
		PixelRatio:           v.Get("pixelRatio").Num(),
		Touch:                v.Get("touch").Bool(),
		DeviceMemory:         v.Get("deviceMemory").Num(),
		PrefersReducedMotion: v.Get("reducedMotion").Bool(),
		PrefersDark:          v.Get("prefersDark").Bool(),
	}
}

func decodeBattery(v gson.JSON) device.Battery {
	if !v.Get("available").Bool() {
		return device.Battery{}
	}
	return device.Battery{
		Available: true,
		Level:     v.Get("level").Num(),
		Charging:  v.Get("charging").Bool(),
	}
}
