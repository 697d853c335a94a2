package surface

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rorqualx/darkmode-go/internal/device"
	"github.com/Rorqualx/darkmode-go/internal/dom/htmldoc"
	"github.com/Rorqualx/darkmode-go/internal/settings"
)

func testModel() Model {
	g := settings.Defaults()
	return Model{
		Settings: g,
		Tuning:   g.Tune(device.Info{PerformanceTier: device.TierHigh, InnerWidth: 1280}),
		Site:     "site.test",
		Dark:     true,
		Version:  "3.1.0",
	}
}

func newDoc(t *testing.T) *htmldoc.Document {
	t.Helper()
	d, err := htmldoc.ParseString("https://site.test/", `<html><body><p>x</p></body></html>`)
	require.NoError(t, err)
	return d
}

func TestRenderMountsExpectedWidgets(t *testing.T) {
	d := newDoc(t)
	s := New(d)
	ctx := context.Background()

	require.NoError(t, s.Render(ctx, testModel()))
	missing, err := s.Missing(ctx)
	require.NoError(t, err)
	assert.Empty(t, missing)
	assert.Equal(t, []string{ToggleID, GearID}, s.Expected())
	assert.Contains(t, d.String(), `data-action="toggle"`)
}

func TestRepairRecreatesRemovedWidgets(t *testing.T) {
	d := newDoc(t)
	s := New(d)
	ctx := context.Background()
	m := testModel()
	require.NoError(t, s.Render(ctx, m))
	require.NoError(t, s.OpenPanel(ctx, m))

	d.RemoveByID(ToggleID)
	d.RemoveByID(PanelID)

	n, err := s.Repair(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Repair(ctx, m)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing left to repair")
}

func TestClosedPanelIsNotExpected(t *testing.T) {
	d := newDoc(t)
	s := New(d)
	ctx := context.Background()
	m := testModel()
	require.NoError(t, s.OpenPanel(ctx, m))
	require.NoError(t, s.ClosePanel(ctx))

	assert.False(t, s.PanelOpen())
	assert.NotContains(t, s.Expected(), PanelID)
	present, err := d.Present(ctx, []string{PanelID})
	require.NoError(t, err)
	assert.False(t, present[PanelID])
}

func TestDiagnosticsModal(t *testing.T) {
	d := newDoc(t)
	s := New(d)
	ctx := context.Background()
	require.NoError(t, s.ShowDiagnostics(ctx, `{"issues":[]}`))
	present, err := d.Present(ctx, []string{DiagnosticsID})
	require.NoError(t, err)
	assert.True(t, present[DiagnosticsID])

	require.NoError(t, s.CloseDiagnostics(ctx))
	present, err = d.Present(ctx, []string{DiagnosticsID})
	require.NoError(t, err)
	assert.False(t, present[DiagnosticsID])
}

func TestToggleStyleCorners(t *testing.T) {
	g := settings.Defaults()
	tuning := device.Tuning{OffsetX: 30, OffsetY: 40, ButtonWidth: 80, ButtonHeight: 40, TransitionSpeed: 0.3}

	tests := []struct {
		pos  settings.Position
		want string
	}{
		{settings.TopLeft, "top:40px;left:30px;"},
		{settings.TopRight, "top:40px;right:30px;"},
		{settings.BottomLeft, "bottom:40px;left:30px;"},
		{settings.BottomRight, "bottom:40px;right:30px;"},
	}
	for _, tt := range tests {
		g.Position = tt.pos
		assert.Contains(t, string(ToggleStyle(g, tuning)), tt.want, tt.pos)
	}
}

func TestToggleStyleRejectsBadColors(t *testing.T) {
	g := settings.Defaults()
	g.ThemeColor = "red;background:url(x)"
	style := string(ToggleStyle(g, device.Tuning{}))
	assert.NotContains(t, style, "url(")
	assert.Contains(t, style, "background:#f7f7f7;")
}

func TestGearStyle(t *testing.T) {
	g := settings.Defaults()
	assert.Contains(t, string(GearStyle(g)), "translateY(-50%)")

	g.SettingsButtonVerticalPosition = "top"
	assert.Contains(t, string(GearStyle(g)), "top:40px;")

	g.SettingsButtonVisible = false
	assert.Contains(t, string(GearStyle(g)), "display:none;")
}

func TestPanelStyleFollowsDrag(t *testing.T) {
	assert.Contains(t, string(PanelStyle(settings.UIPosition{})), "translate(-50%,-50%)")
	top, left := 12.0, 34.0
	assert.Contains(t, string(PanelStyle(settings.UIPosition{Top: &top, Left: &left})), "top:12px;left:34px;")
}
