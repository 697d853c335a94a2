package device

import "time"

// Preferences are the user's deviceOptimization settings.
type Preferences struct {
	Enabled       bool
	ReducedMotion bool
	LowPowerMode  bool
}

// ResolveTier derives the effective tier. It is a pure function of info and
// prefs: low power or low battery downgrades one tier, reduced motion caps
// the tier at medium.
func ResolveTier(info Info, prefs Preferences) Tier {
	tier := info.PerformanceTier
	if !tier.Valid() {
		tier = TierMedium
	}
	if !prefs.Enabled {
		return tier
	}
	if prefs.LowPowerMode || info.BatteryLow {
		tier = tier.Downgrade()
	}
	if (prefs.ReducedMotion || info.PrefersReducedMotion) && tier == TierHigh {
		tier = TierMedium
	}
	return tier
}

// Baseline is the user-configured value set Tune starts from.
type Baseline struct {
	TransitionSpeed float64 // seconds
	ScanInterval    time.Duration
	DeepScan        bool
	ButtonWidth     int
	ButtonHeight    int
	OffsetX         int
	OffsetY         int
}

// Tuning is the set of values the tier decides. It is recomputed, never
// persisted.
type Tuning struct {
	Tier            Tier
	TransitionSpeed float64
	ScanInterval    time.Duration
	DeepScan        bool
	ButtonWidth     int
	ButtonHeight    int
	OffsetX         int
	OffsetY         int
}

const (
	lowScanFloor    = 5000 * time.Millisecond
	mediumScanFloor = 3000 * time.Millisecond
	minTouchTarget  = 40
	maxTouchTarget  = 50
	minTouchOffset  = 30
)

// Tune applies the tier's effects to base. Transition and touch sizing only
// apply when optimize is set; scan floors always apply.
func Tune(tier Tier, info Info, base Baseline, optimize bool) Tuning {
	t := Tuning{
		Tier:            tier,
		TransitionSpeed: base.TransitionSpeed,
		ScanInterval:    base.ScanInterval,
		DeepScan:        base.DeepScan,
		ButtonWidth:     base.ButtonWidth,
		ButtonHeight:    base.ButtonHeight,
		OffsetX:         base.OffsetX,
		OffsetY:         base.OffsetY,
	}

	switch tier {
	case TierLow:
		if t.ScanInterval < lowScanFloor {
			t.ScanInterval = lowScanFloor
		}
		t.DeepScan = false
	case TierMedium:
		if t.ScanInterval < mediumScanFloor {
			t.ScanInterval = mediumScanFloor
		}
	}

	if !optimize {
		return t
	}

	switch tier {
	case TierLow:
		t.TransitionSpeed = 0.1
	case TierMedium:
		t.TransitionSpeed = 0.2
	}

	if info.IsTouch && info.InnerWidth > 0 {
		size := info.InnerWidth * 12 / 100
		size = min(max(size, minTouchTarget), maxTouchTarget)
		t.ButtonWidth = size * 2
		t.ButtonHeight = size
		t.OffsetX = max(t.OffsetX, max(minTouchOffset, info.InnerWidth*4/100))
		t.OffsetY = max(t.OffsetY, max(minTouchOffset, info.InnerHeight*4/100))
	}
	return t
}
