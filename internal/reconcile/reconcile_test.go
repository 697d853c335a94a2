package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rorqualx/darkmode-go/internal/device"
	"github.com/Rorqualx/darkmode-go/internal/dom/htmldoc"
	"github.com/Rorqualx/darkmode-go/internal/loop/looptest"
	"github.com/Rorqualx/darkmode-go/internal/settings"
	"github.com/Rorqualx/darkmode-go/internal/surface"
)

type fixture struct {
	doc        *htmldoc.Document
	sched      *looptest.Scheduler
	surf       *surface.Surface
	rec        *Reconciler
	extreme    bool
	rediscover int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d, err := htmldoc.ParseString("https://site.test/", `<html><body><div id="app"></div></body></html>`)
	require.NoError(t, err)
	f := &fixture{doc: d, sched: looptest.New(looptest.Epoch), surf: surface.New(d)}

	g := settings.Defaults()
	model := surface.Model{Settings: g, Tuning: g.Tune(device.Info{PerformanceTier: device.TierHigh}), Site: "site.test"}
	require.NoError(t, f.surf.Render(context.Background(), model))

	f.rec = New(d, f.sched, Hooks{
		Repair:        func(ctx context.Context) (int, error) { return f.surf.Repair(ctx, model) },
		ExtremeActive: func() bool { return f.extreme },
		Rediscover: func(context.Context) error {
			f.rediscover++
			return nil
		},
	})
	return f
}

func (f *fixture) present(t *testing.T, id string) bool {
	t.Helper()
	got, err := f.doc.Present(context.Background(), []string{id})
	require.NoError(t, err)
	return got[id]
}

func TestReconcilerRecreatesRemovedToggle(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.rec.Start(context.Background()))

	f.doc.RemoveByID(surface.ToggleID)
	assert.True(t, f.present(t, surface.ToggleID), "a removal alone repairs at once")

	_, repaired := f.rec.Stats()
	assert.Equal(t, 1, repaired)
}

func TestReconcilerRepairsRemovalAfterWindow(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.rec.Start(context.Background()))

	_, err := f.doc.AppendHTML(0, `<div>page content</div>`)
	require.NoError(t, err)
	f.sched.Advance(Delay)

	f.doc.RemoveByID(surface.GearID)
	assert.True(t, f.present(t, surface.GearID))
	passes, repaired := f.rec.Stats()
	assert.Equal(t, 2, passes)
	assert.Equal(t, 1, repaired)
}

func TestReconcilerDebouncesBursts(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.rec.Start(context.Background()))

	for i := 0; i < 5; i++ {
		_, err := f.doc.AppendHTML(0, `<span></span>`)
		require.NoError(t, err)
	}
	passes, _ := f.rec.Stats()
	assert.Equal(t, 1, passes)

	f.sched.Advance(Delay)
	_, err := f.doc.AppendHTML(0, `<span></span>`)
	require.NoError(t, err)
	passes, _ = f.rec.Stats()
	assert.Equal(t, 2, passes)
}

func TestReconcilerRediscoversWhenExtremeActive(t *testing.T) {
	f := newFixture(t)
	f.rec.Pass(context.Background())
	assert.Zero(t, f.rediscover)

	f.extreme = true
	f.rec.Pass(context.Background())
	assert.Equal(t, 1, f.rediscover)
}

func TestReconcilerRestartReplacesObserver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.rec.Start(ctx))
	require.NoError(t, f.rec.Start(ctx))
	assert.Equal(t, 1, f.doc.Observers())

	f.rec.Stop()
	assert.False(t, f.rec.Running())
	assert.Zero(t, f.doc.Observers())

	_, err := f.doc.AppendHTML(0, `<span></span>`)
	require.NoError(t, err)
	passes, _ := f.rec.Stats()
	assert.Zero(t, passes)
}
