package htmldoc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/Rorqualx/darkmode-go/internal/dom"
)

// Observe implements dom.Observer. Insertions made through AppendHTML and
// Mount are reported synchronously, after the document lock is released.
func (d *Document) Observe(ctx context.Context, root dom.RootID, fn func(dom.Mutation)) (func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.container(root); err != nil {
		return nil, err
	}
	d.nextHandle++
	h := d.nextHandle
	d.observers[h] = observer{root: root, fn: fn}
	return func() {
		d.mu.Lock()
		delete(d.observers, h)
		d.mu.Unlock()
	}, nil
}

// Observers returns the number of live observers, for tests.
func (d *Document) Observers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.observers)
}

func (d *Document) observersFor(root dom.RootID) []func(dom.Mutation) {
	var fns []func(dom.Mutation)
	for _, o := range d.observers {
		if o.root == root {
			fns = append(fns, o.fn)
		}
	}
	return fns
}

func notify(fns []func(dom.Mutation), m dom.Mutation) {
	if len(m.Added) == 0 && len(m.Removed) == 0 {
		return
	}
	for _, fn := range fns {
		fn(m)
	}
}

var bodyContext = &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}

// AppendHTML parses fragment and appends it to parent, or to the body when
// parent is zero. It returns the inserted top-level elements.
func (d *Document) AppendHTML(parent dom.NodeID, fragment string) ([]dom.NodeID, error) {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), bodyContext)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: fragment: %w", err)
	}

	d.mu.Lock()
	target := d.body()
	if parent != 0 {
		if target, err = d.resolve(parent); err != nil {
			d.mu.Unlock()
			return nil, err
		}
	}
	root, _ := d.rootOf(target)

	var added []dom.NodeID
	for _, n := range nodes {
		target.AppendChild(n)
		d.attachShadowRoots(n)
		if n.Type == html.ElementNode {
			added = append(added, d.idOf(n))
		}
	}
	fns := d.observersFor(root)
	d.mu.Unlock()

	notify(fns, dom.Mutation{Root: root, Added: added})
	return added, nil
}

// Remove detaches an element and reports the removal to observers of its
// root.
func (d *Document) Remove(id dom.NodeID) error {
	d.mu.Lock()
	n, err := d.resolve(id)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	root, _ := d.rootOf(n)
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
	fns := d.observersFor(root)
	d.mu.Unlock()

	notify(fns, dom.Mutation{Root: root, Removed: []dom.NodeID{id}})
	return nil
}

// Mount implements dom.UI.
func (d *Document) Mount(ctx context.Context, w dom.Widget) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	nodes, err := html.ParseFragment(strings.NewReader(w.HTML), bodyContext)
	if err != nil {
		return fmt.Errorf("htmldoc: widget %s: %w", w.ID, err)
	}
	var el *html.Node
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			el = n
			break
		}
	}
	if el == nil {
		return fmt.Errorf("htmldoc: widget %s: %w", w.ID, errors.New("no element"))
	}
	setAttr(el, "id", w.ID)
	setAttr(el, UIAttr, "")

	d.mu.Lock()
	removed := d.removeByID(w.ID)
	d.body().AppendChild(el)
	added := []dom.NodeID{d.idOf(el)}
	fns := d.observersFor(dom.DocumentRoot)
	d.mu.Unlock()

	notify(fns, dom.Mutation{Root: dom.DocumentRoot, Added: added, Removed: removed})
	return nil
}

// Unmount implements dom.UI.
func (d *Document) Unmount(ctx context.Context, id string) error {
	d.RemoveByID(id)
	return nil
}

// Present implements dom.UI.
func (d *Document) Present(ctx context.Context, ids []string) (map[string]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]bool, len(ids))
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = false
		want[id] = true
	}
	walk(d.doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			if id := attr(n, "id"); want[id] {
				out[id] = true
			}
		}
		return true
	})
	return out, nil
}

// RemoveByID detaches the element with the given id attribute, as a page
// script would.
func (d *Document) RemoveByID(id string) {
	d.mu.Lock()
	removed := d.removeByID(id)
	fns := d.observersFor(dom.DocumentRoot)
	d.mu.Unlock()

	notify(fns, dom.Mutation{Root: dom.DocumentRoot, Removed: removed})
}

// removeByID detaches every document element with the id attribute and
// returns their handles.
func (d *Document) removeByID(id string) []dom.NodeID {
	var found []*html.Node
	walk(d.doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && attr(n, "id") == id {
			found = append(found, n)
			return false
		}
		return true
	})
	removed := make([]dom.NodeID, 0, len(found))
	for _, n := range found {
		removed = append(removed, d.idOf(n))
		n.Parent.RemoveChild(n)
	}
	return removed
}

// OnAction implements dom.UI.
func (d *Document) OnAction(fn func(dom.Action)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextHandle++
	h := d.nextHandle
	d.actions[h] = fn
	return func() {
		d.mu.Lock()
		delete(d.actions, h)
		d.mu.Unlock()
	}
}

// Dispatch delivers a user action to the registered handlers.
func (d *Document) Dispatch(a dom.Action) {
	d.mu.Lock()
	fns := make([]func(dom.Action), 0, len(d.actions))
	for _, fn := range d.actions {
		fns = append(fns, fn)
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn(a)
	}
}
