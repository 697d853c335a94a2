package settings

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rorqualx/darkmode-go/internal/device"
	"github.com/Rorqualx/darkmode-go/internal/types"
)

func TestDeepMergeObjectsMergeKeyWise(t *testing.T) {
	stored := []byte(`{
		"brightness": 80,
		"extremeMode": {"enabled": true},
		"dynamicSelectors": {"scanInterval": 4000},
		"unknownKey": {"nested": true}
	}`)

	got, err := DeepMerge(Defaults(), stored)
	require.NoError(t, err)

	assert.Equal(t, 80, got.Brightness)
	assert.True(t, got.ExtremeMode.Enabled)
	assert.True(t, got.ExtremeMode.ForceDarkElements, "sibling keys keep their defaults")
	assert.True(t, got.ExtremeMode.IgnoreImageAnalysis)
	assert.Equal(t, 4000, got.DynamicSelectors.ScanInterval)
	assert.True(t, got.DynamicSelectors.DeepScan)
	assert.Equal(t, 90, got.Contrast)
}

func TestDeepMergeArraysReplaceWholesale(t *testing.T) {
	base := Defaults()
	base.ExclusionList = []string{"a.test", "b.test", "c.test"}

	got, err := DeepMerge(base, []byte(`{"exclusionList": ["z.test"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"z.test"}, got.ExclusionList)

	got, err = DeepMerge(base, []byte(`{"exclusionList": []}`))
	require.NoError(t, err)
	assert.Empty(t, got.ExclusionList)

	assert.Equal(t, []string{"a.test", "b.test", "c.test"}, base.ExclusionList, "base is not modified")
}

func TestDeepMergeMapsMergeKeyWise(t *testing.T) {
	base := Defaults()
	base.ExtremeMode.CustomCSSPerSite = map[string]string{"a.test": "a{}"}

	got, err := DeepMerge(base, []byte(`{"extremeMode": {"customCSSPerSite": {"b.test": "b{}"}}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.test": "a{}", "b.test": "b{}"}, got.ExtremeMode.CustomCSSPerSite)
	assert.Len(t, base.ExtremeMode.CustomCSSPerSite, 1)
}

func TestDeepMergeNullClearsOptional(t *testing.T) {
	base := Defaults()
	top, left := 10.0, 20.0
	base.UIPosition = UIPosition{Mode: "floating", Top: &top, Left: &left}

	got, err := DeepMerge(base, []byte(`{"uiPosition": {"top": null}}`))
	require.NoError(t, err)
	assert.Nil(t, got.UIPosition.Top)
	require.NotNil(t, got.UIPosition.Left)
	assert.Equal(t, 20.0, *got.UIPosition.Left)
	assert.Equal(t, "floating", got.UIPosition.Mode)
	assert.Equal(t, 10.0, *base.UIPosition.Top, "clone protects the base pointer")
}

func TestDeepMergeTypeMismatchIsBestEffort(t *testing.T) {
	got, err := DeepMerge(Defaults(), []byte(`{"brightness": "bright", "contrast": 70}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrInvalidValue))
	assert.Equal(t, 100, got.Brightness)
	assert.Equal(t, 70, got.Contrast, "valid fields still merge")
}

func TestDeepMergeMalformedFallsBack(t *testing.T) {
	for _, doc := range []string{`{"brightness":`, `[1,2]`, `"text"`} {
		got, err := DeepMerge(Defaults(), []byte(doc))
		assert.ErrorIs(t, err, types.ErrInvalidValue, doc)
		assert.Equal(t, Defaults(), got, doc)
	}

	got, err := DeepMerge(Defaults(), nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), got)
}

func TestDeepMergeNormalizes(t *testing.T) {
	got, err := DeepMerge(Defaults(), []byte(`{"position": "middle", "brightness": 900, "dynamicSelectors": {"scanInterval": 10}}`))
	require.NoError(t, err)
	assert.Equal(t, BottomRight, got.Position)
	assert.Equal(t, 200, got.Brightness)
	assert.Equal(t, 500, got.DynamicSelectors.ScanInterval)
}

func TestIsSiteExcluded(t *testing.T) {
	tests := []struct {
		name string
		list []string
		url  string
		want bool
	}{
		{"substring", []string{"example.com"}, "https://www.example.com/page", true},
		{"no match", []string{"example.com"}, "https://other.test/", false},
		{"wildcard anchored", []string{"https://*.example.com/*"}, "https://docs.example.com/a", true},
		{"wildcard must cover whole url", []string{"*.example.com"}, "https://docs.example.com/a", false},
		{"regexp metacharacters are literal", []string{"a+b.test"}, "https://a+b.test/", true},
		{"dot is literal in wildcard", []string{"*example.com*"}, "https://exampleXcom/", false},
		{"blank pattern skipped", []string{"", "  ", "site.test"}, "https://site.test/", true},
		{"empty list", nil, "https://site.test/", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSiteExcluded(nil, tt.list, tt.url))
		})
	}
}

func TestCompilePatternRejectsBlank(t *testing.T) {
	_, err := CompilePattern("  ")
	var pe *types.PatternError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, types.ErrInvalidPattern)
}

func TestAddRemoveExclusion(t *testing.T) {
	list, changed := AddExclusion(nil, " a.test ")
	assert.True(t, changed)
	assert.Equal(t, []string{"a.test"}, list)

	list, changed = AddExclusion(list, "a.test")
	assert.False(t, changed)
	assert.Len(t, list, 1)

	list, changed = RemoveExclusion(list, "a.test")
	assert.True(t, changed)
	assert.Empty(t, list)
}

func TestLookupPreset(t *testing.T) {
	p, err := LookupPreset("night")
	require.NoError(t, err)
	assert.Equal(t, Preset{Brightness: 80, Contrast: 100, Sepia: 0}, p)

	_, err = LookupPreset("neon")
	assert.ErrorIs(t, err, types.ErrUnknownPreset)
	assert.Len(t, PresetNames(), 7)
}

func TestPerSiteApplyTo(t *testing.T) {
	g := Defaults()
	pos := TopLeft
	rec := PerSite{
		Position:           &pos,
		OffsetX:            ptr(5),
		UseGlobalPosition:  true,
		Brightness:         ptr(70),
		ExtremeModeEnabled: ptr(true),
	}

	rec.ApplyTo(&g)
	assert.Equal(t, BottomRight, g.Position, "position ignored while deferring to global")
	assert.Equal(t, 70, g.Brightness)
	assert.True(t, g.ExtremeMode.Enabled)

	rec.UseGlobalPosition = false
	rec.ApplyTo(&g)
	assert.Equal(t, TopLeft, g.Position)
	assert.Equal(t, 5, g.OffsetX)
}

func TestGlobalTune(t *testing.T) {
	g := Defaults()
	g.DeviceOptimization.LowPowerMode = true
	tuning := g.Tune(device.Info{PerformanceTier: device.TierMedium})
	assert.Equal(t, device.TierLow, tuning.Tier)
	assert.False(t, tuning.DeepScan)
	assert.True(t, Defaults().DynamicSelectors.DeepScan, "tuning never writes back")
}
