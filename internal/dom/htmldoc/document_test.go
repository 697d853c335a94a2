package htmldoc

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rorqualx/darkmode-go/internal/dom"
)

const page = `<!doctype html>
<html><head><style>
  .card { background-color: #ffffff; color: #222 }
  #hero { background: url(x.png) rgb(250, 250, 250) no-repeat; position: sticky }
  p { color: rgb(10, 10, 10) !important }
</style></head>
<body style="color: #333">
  <main id="main"><div class="card" id="c1">text</div><p id="p1" style="color: #fff">x</p></main>
  <div id="hero"></div>
  <x-widget id="w"><template shadowrootmode="open"><style>span { color: #eee }</style><span id="inner">s</span>
    <x-nested id="n"><template shadowrootmode="open"><b id="deep">d</b></template></x-nested></template></x-widget>
  <x-closed id="cl"><template shadowrootmode="closed"><i>hidden</i></template></x-closed>
</body></html>`

func load(t *testing.T) *Document {
	t.Helper()
	d, err := ParseString("https://site.test/page", page)
	require.NoError(t, err)
	return d
}

func one(t *testing.T, d *Document, root dom.RootID, sel string) dom.NodeID {
	t.Helper()
	ids, err := d.QueryAll(context.Background(), root, 0, sel)
	require.NoError(t, err)
	require.Len(t, ids, 1, sel)
	return ids[0]
}

func TestQueryAllAssignsStableIDs(t *testing.T) {
	d := load(t)
	ctx := context.Background()
	a := one(t, d, dom.DocumentRoot, "#c1")
	b := one(t, d, dom.DocumentRoot, ".card")
	assert.Equal(t, a, b)

	main := one(t, d, dom.DocumentRoot, "main")
	scoped, err := d.QueryAll(ctx, dom.DocumentRoot, main, "*")
	require.NoError(t, err)
	assert.Len(t, scoped, 2)

	light, err := d.QueryAll(ctx, dom.DocumentRoot, 0, "span")
	require.NoError(t, err)
	assert.Empty(t, light, "shadow content is not part of the light tree")

	_, err = d.QueryAll(ctx, dom.DocumentRoot, 0, "[[bad")
	assert.Error(t, err)
}

func TestShadowRoots(t *testing.T) {
	d := load(t)
	ctx := context.Background()

	roots, err := d.ShadowRoots(ctx, dom.DocumentRoot, 0, "*")
	require.NoError(t, err)
	require.Len(t, roots, 1, "closed roots are not reported")
	assert.Equal(t, one(t, d, dom.DocumentRoot, "#w"), roots[0].Host)

	inner := one(t, d, roots[0].Root, "#inner")
	assert.NotZero(t, inner)

	nested, err := d.ShadowRoots(ctx, roots[0].Root, 0, "*")
	require.NoError(t, err)
	require.Len(t, nested, 1)
	one(t, d, nested[0].Root, "#deep")

	_, err = d.QueryAll(ctx, dom.RootID(99), 0, "*")
	assert.ErrorIs(t, err, dom.ErrRootUnavailable)
}

func TestInspectCascade(t *testing.T) {
	d := load(t)
	ctx := context.Background()
	ids := []dom.NodeID{
		one(t, d, dom.DocumentRoot, "#c1"),
		one(t, d, dom.DocumentRoot, "#p1"),
		one(t, d, dom.DocumentRoot, "#hero"),
		one(t, d, dom.DocumentRoot, "main"),
	}
	got, err := d.Inspect(ctx, ids)
	require.NoError(t, err)

	assert.Equal(t, "#ffffff", got[0].Background)
	assert.Equal(t, "#222", got[0].Color)
	assert.Equal(t, "DIV", got[0].Tag)

	assert.Equal(t, "rgb(10, 10, 10)", got[1].Color, "important rule beats plain inline")

	assert.Equal(t, "rgb(250, 250, 250)", got[2].Background, "shorthand feeds background-color")
	assert.Equal(t, "sticky", got[2].Position)

	assert.Equal(t, "#333", got[3].Color, "color inherits from body")
	assert.Equal(t, defaultBackground, got[3].Background)
	assert.Equal(t, 2, got[3].Children)

	roots, err := d.ShadowRoots(ctx, dom.DocumentRoot, 0, "x-widget")
	require.NoError(t, err)
	span := one(t, d, roots[0].Root, "span")
	got, err = d.Inspect(ctx, []dom.NodeID{span})
	require.NoError(t, err)
	assert.Equal(t, "#eee", got[0].Color, "shadow sheets apply inside their root")
}

func TestInlineStyleRoundTrip(t *testing.T) {
	d := load(t)
	ctx := context.Background()
	c1 := one(t, d, dom.DocumentRoot, "#c1")

	style, present, err := d.InlineStyle(ctx, c1)
	require.NoError(t, err)
	assert.False(t, present)
	assert.Empty(t, style)

	require.NoError(t, d.SetInlineStyle(ctx, c1, "background-color: #1a1a1a !important"))
	got, err := d.Inspect(ctx, []dom.NodeID{c1})
	require.NoError(t, err)
	assert.Equal(t, "#1a1a1a", got[0].Background)

	require.NoError(t, d.SetInlineStyle(ctx, c1, ""))
	style, present, err = d.InlineStyle(ctx, c1)
	require.NoError(t, err)
	assert.True(t, present, "an empty style keeps the attribute")
	assert.Empty(t, style)

	require.NoError(t, d.RemoveInlineStyle(ctx, c1))
	_, present, err = d.InlineStyle(ctx, c1)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestRemovedNodesAreGone(t *testing.T) {
	d := load(t)
	ctx := context.Background()
	c1 := one(t, d, dom.DocumentRoot, "#c1")
	require.NoError(t, d.Remove(c1))

	_, _, err := d.InlineStyle(ctx, c1)
	assert.ErrorIs(t, err, dom.ErrNodeGone)
	assert.ErrorIs(t, d.SetInlineStyle(ctx, c1, "x: y"), dom.ErrNodeGone)

	got, err := d.Inspect(ctx, []dom.NodeID{c1})
	require.NoError(t, err, "a vanished node does not fail the batch")
	assert.True(t, got[0].Gone)
}

func TestInjectStyleReplacesByID(t *testing.T) {
	d := load(t)
	ctx := context.Background()

	require.NoError(t, d.InjectStyle(ctx, dom.DocumentRoot, "extreme-mode-css", "body{color:red}"))
	require.NoError(t, d.InjectStyle(ctx, dom.DocumentRoot, "extreme-mode-css", "body{color:blue}"))
	assert.Equal(t, []string{"extreme-mode-css"}, d.StyleIDs(dom.DocumentRoot))
	assert.Contains(t, d.String(), "body{color:blue}")
	assert.NotContains(t, d.String(), "body{color:red}")

	roots, err := d.ShadowRoots(ctx, dom.DocumentRoot, 0, "*")
	require.NoError(t, err)
	require.NoError(t, d.InjectStyle(ctx, roots[0].Root, "extreme-mode-shadow-css", "*{color:#ddd}"))
	assert.Equal(t, []string{"extreme-mode-shadow-css"}, d.StyleIDs(roots[0].Root))

	require.NoError(t, d.RemoveStyle(ctx, dom.DocumentRoot, "extreme-mode-css"))
	require.NoError(t, d.RemoveStyle(ctx, dom.DocumentRoot, "absent"))
	assert.Empty(t, d.StyleIDs(dom.DocumentRoot))
}

func TestObserveAppend(t *testing.T) {
	d := load(t)
	ctx := context.Background()
	var seen []dom.Mutation
	stop, err := d.Observe(ctx, dom.DocumentRoot, func(m dom.Mutation) { seen = append(seen, m) })
	require.NoError(t, err)

	added, err := d.AppendHTML(0, `<section id="s"><x-late><template shadowrootmode="open"><p>p</p></template></x-late></section>text`)
	require.NoError(t, err)
	require.Len(t, added, 1)
	require.Len(t, seen, 1)
	assert.Equal(t, added, seen[0].Added)

	roots, err := d.ShadowRoots(ctx, dom.DocumentRoot, 0, "x-late")
	require.NoError(t, err)
	assert.Len(t, roots, 1, "late declarative roots attach too")

	stop()
	_, err = d.AppendHTML(0, `<div></div>`)
	require.NoError(t, err)
	assert.Len(t, seen, 1)
	assert.Equal(t, 0, d.Observers())
}

func TestObserveRemoval(t *testing.T) {
	d := load(t)
	ctx := context.Background()
	var seen []dom.Mutation
	stop, err := d.Observe(ctx, dom.DocumentRoot, func(m dom.Mutation) { seen = append(seen, m) })
	require.NoError(t, err)
	defer stop()

	c1 := one(t, d, dom.DocumentRoot, "#c1")
	require.NoError(t, d.Remove(c1))
	require.Len(t, seen, 1)
	assert.Empty(t, seen[0].Added)
	assert.Equal(t, []dom.NodeID{c1}, seen[0].Removed)

	require.NoError(t, d.Mount(ctx, dom.Widget{ID: "w", HTML: `<div>w</div>`}))
	d.RemoveByID("w")
	require.Len(t, seen, 3)
	assert.Len(t, seen[2].Removed, 1)

	d.RemoveByID("missing")
	assert.Len(t, seen, 3, "nothing removed, nothing reported")
}

func TestMountPresentDispatch(t *testing.T) {
	d := load(t)
	ctx := context.Background()

	require.NoError(t, d.Mount(ctx, dom.Widget{ID: "darkModeToggle", HTML: `<button>Dark</button>`}))
	require.NoError(t, d.Mount(ctx, dom.Widget{ID: "darkModeToggle", HTML: `<button>Light</button>`}))
	assert.Equal(t, 1, strings.Count(d.String(), `id="darkModeToggle"`))

	present, err := d.Present(ctx, []string{"darkModeToggle", "darkModeToggleUI"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"darkModeToggle": true, "darkModeToggleUI": false}, present)

	btn := one(t, d, dom.DocumentRoot, "#darkModeToggle")
	got, err := d.Inspect(ctx, []dom.NodeID{btn})
	require.NoError(t, err)
	assert.True(t, got[0].InUI)

	var actions []dom.Action
	stop := d.OnAction(func(a dom.Action) { actions = append(actions, a) })
	d.Dispatch(dom.Action{Name: "toggle"})
	stop()
	d.Dispatch(dom.Action{Name: "toggle"})
	assert.Equal(t, []dom.Action{{Name: "toggle"}}, actions)

	require.NoError(t, d.Unmount(ctx, "darkModeToggle"))
	present, err = d.Present(ctx, []string{"darkModeToggle"})
	require.NoError(t, err)
	assert.False(t, present["darkModeToggle"])
}

func TestRenderKeepsShadowTemplates(t *testing.T) {
	d := load(t)
	out := d.String()
	assert.Contains(t, out, `<template shadowrootmode="open">`)
	assert.Contains(t, out, `<template shadowrootmode="closed">`)
	assert.Contains(t, out, `id="deep"`)

	again, err := ParseString(d.URL(), out)
	require.NoError(t, err)
	roots, err := again.ShadowRoots(context.Background(), dom.DocumentRoot, 0, "*")
	require.NoError(t, err)
	assert.Len(t, roots, 1)
	assert.Equal(t, out, d.String(), "rendering does not disturb the tree")
}
