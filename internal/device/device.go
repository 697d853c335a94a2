// Package device probes the host environment once and maps the result,
// together with the user's optimization preferences, to a performance tier.
package device

import (
	"context"
	"math"
	"regexp"
	"time"

	"github.com/rs/zerolog"
)

// Tier is the single knob controlling timing and scope trade-offs.
type Tier string

// Performance tiers.
const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Downgrade returns the next lower tier. Low stays low.
func (t Tier) Downgrade() Tier {
	switch t {
	case TierHigh:
		return TierMedium
	default:
		return TierLow
	}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierHigh || t == TierMedium || t == TierLow
}

const (
	mobileWidthBreakpoint = 768
	lowBatteryLevel       = 0.2
	benchmarkSlow         = 150 * time.Millisecond
	benchmarkModerate     = 50 * time.Millisecond
)

// BenchmarkIterations is the size of Workload. Page probes run the same
// loop in the page.
const BenchmarkIterations = 1_000_000

var mobileUA = regexp.MustCompile(`(?i)Android|webOS|iPhone|iPad|iPod|BlackBerry|IEMobile|Opera Mini`)

// Environment is the raw data a Probe reads from the host.
type Environment struct {
	UserAgent            string
	ScreenWidth          int
	ScreenHeight         int
	InnerWidth           int
	InnerHeight          int
	PixelRatio           float64
	Touch                bool
	DeviceMemory         float64 // GiB; zero when the memory hint is unavailable
	PrefersReducedMotion bool
	PrefersDark          bool
}

// Battery is the host battery status.
type Battery struct {
	Available bool
	Level     float64
	Charging  bool
}

// Probe reads the environment. Implementations talk to a live page or to
// the local process.
type Probe interface {
	Environment(ctx context.Context) (Environment, error)
	// Benchmark times Workload on the device being themed.
	Benchmark(ctx context.Context) (time.Duration, error)
	Battery(ctx context.Context) (Battery, error)
}

// Info is the cached device snapshot. JSON names match the persisted
// deviceInfo record.
type Info struct {
	IsMobile             bool     `json:"isMobile"`
	IsTouch              bool     `json:"isTouch"`
	ScreenWidth          int      `json:"screenWidth"`
	ScreenHeight         int      `json:"screenHeight"`
	InnerWidth           int      `json:"innerWidth"`
	InnerHeight          int      `json:"innerHeight"`
	PixelRatio           float64  `json:"pixelRatio"`
	PerformanceTier      Tier     `json:"performanceTier"`
	PrefersReducedMotion bool     `json:"prefersReducedMotion"`
	PrefersDark          bool     `json:"prefersDark"`
	BatteryLevel         *float64 `json:"batteryLevel,omitempty"`
	BatteryCharging      bool     `json:"batteryCharging"`
	BatteryLow           bool     `json:"isLowPowerMode"`
}

// Default is the snapshot used before detection or after it fails.
func Default() Info {
	return Info{
		ScreenWidth:     1920,
		ScreenHeight:    1080,
		InnerWidth:      1920,
		InnerHeight:     1080,
		PixelRatio:      1,
		PerformanceTier: TierMedium,
	}
}

// IsMobile classifies the device from its user agent and viewport width.
func IsMobile(userAgent string, innerWidth int) bool {
	return mobileUA.MatchString(userAgent) || (innerWidth > 0 && innerWidth < mobileWidthBreakpoint)
}

// ClassifyMemory maps the device memory hint to a tier.
func ClassifyMemory(gib float64) Tier {
	switch {
	case gib <= 2:
		return TierLow
	case gib <= 4:
		return TierMedium
	default:
		return TierHigh
	}
}

// BaselineTier is the starting tier when no memory hint is available.
func BaselineTier(isMobile bool, pixelRatio float64) Tier {
	if !isMobile {
		return TierHigh
	}
	if pixelRatio >= 3 {
		return TierMedium
	}
	return TierLow
}

// ClassifyBenchmark adjusts base by the measured Workload duration.
func ClassifyBenchmark(base Tier, elapsed time.Duration) Tier {
	switch {
	case elapsed > benchmarkSlow:
		return TierLow
	case elapsed > benchmarkModerate && base == TierHigh:
		return TierMedium
	default:
		return base
	}
}

// Workload is the fixed floating-point job timed by Benchmark.
func Workload() float64 {
	var sum float64
	for i := 0; i < BenchmarkIterations; i++ {
		sum += math.Sqrt(float64(i))
	}
	return sum
}

var workloadSink float64

// LocalBenchmark times Workload in this process.
func LocalBenchmark() time.Duration {
	start := time.Now()
	workloadSink = Workload()
	return time.Since(start)
}

// Detect probes the environment once. Any probe failure yields the medium
// tier; detection itself never fails.
func Detect(ctx context.Context, p Probe) Info {
	logger := zerolog.Ctx(ctx)

	env, err := p.Environment(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Device detection failed, using medium tier")
		return Default()
	}

	info := Info{
		IsMobile:             IsMobile(env.UserAgent, env.InnerWidth),
		IsTouch:              env.Touch,
		ScreenWidth:          env.ScreenWidth,
		ScreenHeight:         env.ScreenHeight,
		InnerWidth:           env.InnerWidth,
		InnerHeight:          env.InnerHeight,
		PixelRatio:           env.PixelRatio,
		PrefersReducedMotion: env.PrefersReducedMotion,
		PrefersDark:          env.PrefersDark,
	}
	if info.PixelRatio <= 0 {
		info.PixelRatio = 1
	}

	if env.DeviceMemory > 0 {
		info.PerformanceTier = ClassifyMemory(env.DeviceMemory)
	} else {
		base := BaselineTier(info.IsMobile, info.PixelRatio)
		elapsed, err := p.Benchmark(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("Benchmark failed, using medium tier")
			info.PerformanceTier = TierMedium
		} else {
			info.PerformanceTier = ClassifyBenchmark(base, elapsed)
			logger.Debug().Dur("elapsed", elapsed).Str("tier", string(info.PerformanceTier)).Msg("Benchmark complete")
		}
	}

	logger.Info().
		Bool("mobile", info.IsMobile).
		Bool("touch", info.IsTouch).
		Float64("memory_gib", env.DeviceMemory).
		Str("tier", string(info.PerformanceTier)).
		Msg("Device detected")
	return info
}

// RefineBattery merges battery status into info. The second result reports
// whether anything changed.
func RefineBattery(ctx context.Context, p Probe, info Info) (Info, bool) {
	b, err := p.Battery(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("Battery status unavailable")
		return info, false
	}
	if !b.Available {
		return info, false
	}

	level := b.Level
	low := level < lowBatteryLevel && !b.Charging
	changed := info.BatteryLevel == nil || *info.BatteryLevel != level ||
		info.BatteryCharging != b.Charging || info.BatteryLow != low

	info.BatteryLevel = &level
	info.BatteryCharging = b.Charging
	info.BatteryLow = low
	return info, changed
}
