// Package htmldoc implements the dom capabilities over a parsed HTML
// document. Declarative shadow roots (<template shadowrootmode>) become
// shadow roots, and computed styles come from a small cascade over the
// document's <style> sheets and inline styles.
package htmldoc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"weak"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/Rorqualx/darkmode-go/internal/dom"
)

// UIAttr marks control-surface elements.
const UIAttr = "data-darkmode-ui"

type shadowRoot struct {
	id        dom.RootID
	host      weak.Pointer[html.Node]
	container *html.Node
	open      bool
}

type observer struct {
	root dom.RootID
	fn   func(dom.Mutation)
}

// Document is an in-memory dom.Document. It is safe for concurrent use.
type Document struct {
	mu  sync.Mutex
	url string
	doc *html.Node

	nodes  map[dom.NodeID]weak.Pointer[html.Node]
	ids    map[weak.Pointer[html.Node]]dom.NodeID
	nextID dom.NodeID

	roots      map[dom.RootID]*shadowRoot
	containers map[*html.Node]*shadowRoot
	nextRoot   dom.RootID

	observers  map[int]observer
	actions    map[int]func(dom.Action)
	nextHandle int
}

var _ dom.Document = (*Document)(nil)

// Parse reads an HTML document. url is reported by URL.
func Parse(url string, r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: parse: %w", err)
	}
	d := &Document{
		url:        url,
		doc:        root,
		nodes:      make(map[dom.NodeID]weak.Pointer[html.Node]),
		ids:        make(map[weak.Pointer[html.Node]]dom.NodeID),
		roots:      make(map[dom.RootID]*shadowRoot),
		containers: make(map[*html.Node]*shadowRoot),
		observers:  make(map[int]observer),
		actions:    make(map[int]func(dom.Action)),
	}
	d.attachShadowRoots(root)
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(url, src string) (*Document, error) {
	return Parse(url, strings.NewReader(src))
}

// URL implements dom.Document.
func (d *Document) URL() string { return d.url }

// Title implements dom.Titler.
func (d *Document) Title(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var title string
	walk(d.doc, func(n *html.Node) bool {
		if title != "" {
			return false
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Title {
			title = strings.TrimSpace(textContent(n))
			return false
		}
		return true
	})
	return title, nil
}

// attachShadowRoots turns declarative shadow templates under n into shadow
// roots, innermost last.
func (d *Document) attachShadowRoots(n *html.Node) {
	var hosts []*html.Node
	walk(n, func(c *html.Node) bool {
		if c.Type == html.ElementNode && c.DataAtom == atom.Template && attr(c, "shadowrootmode") != "" && c.Parent != nil {
			hosts = append(hosts, c)
			return false
		}
		return true
	})
	for _, tmpl := range hosts {
		host := tmpl.Parent
		host.RemoveChild(tmpl)
		container := &html.Node{Type: html.DocumentNode, Data: "#shadow-root"}
		for c := tmpl.FirstChild; c != nil; {
			next := c.NextSibling
			tmpl.RemoveChild(c)
			container.AppendChild(c)
			c = next
		}
		d.nextRoot++
		sr := &shadowRoot{
			id:        d.nextRoot,
			host:      weak.Make(host),
			container: container,
			open:      strings.EqualFold(attr(tmpl, "shadowrootmode"), "open"),
		}
		d.roots[sr.id] = sr
		d.containers[container] = sr
		d.attachShadowRoots(container)
	}
}

// idOf returns the handle for n, assigning one on first sight.
func (d *Document) idOf(n *html.Node) dom.NodeID {
	wp := weak.Make(n)
	if id, ok := d.ids[wp]; ok {
		return id
	}
	d.nextID++
	d.ids[wp] = d.nextID
	d.nodes[d.nextID] = wp
	return d.nextID
}

// resolve returns the live, attached element behind id.
func (d *Document) resolve(id dom.NodeID) (*html.Node, error) {
	wp, ok := d.nodes[id]
	if !ok {
		return nil, dom.ErrNodeGone
	}
	n := wp.Value()
	if n == nil {
		delete(d.nodes, id)
		delete(d.ids, wp)
		return nil, dom.ErrNodeGone
	}
	if _, ok := d.rootOf(n); !ok {
		return nil, dom.ErrNodeGone
	}
	return n, nil
}

// rootOf walks up to the document or a live shadow container.
func (d *Document) rootOf(n *html.Node) (dom.RootID, bool) {
	for p := n; p != nil; p = p.Parent {
		if p == d.doc {
			return dom.DocumentRoot, true
		}
		if sr, ok := d.containers[p]; ok {
			host := sr.host.Value()
			if host == nil {
				return 0, false
			}
			if _, ok := d.rootOf(host); !ok {
				return 0, false
			}
			return sr.id, true
		}
	}
	return 0, false
}

// container returns the node queries on root run against.
func (d *Document) container(root dom.RootID) (*html.Node, error) {
	if root == dom.DocumentRoot {
		return d.doc, nil
	}
	sr, ok := d.roots[root]
	if !ok || !sr.open || sr.host.Value() == nil {
		return nil, dom.ErrRootUnavailable
	}
	return sr.container, nil
}

func compile(selector string) (cascadia.SelectorGroup, error) {
	sel, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: selector %q: %w", selector, err)
	}
	return sel, nil
}

// QueryAll implements dom.ElementStyler.
func (d *Document) QueryAll(ctx context.Context, root dom.RootID, scope dom.NodeID, selector string) ([]dom.NodeID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel, err := compile(selector)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	base, err := d.container(root)
	if err != nil {
		return nil, err
	}
	if scope != 0 {
		if base, err = d.resolve(scope); err != nil {
			return nil, err
		}
	}
	matches := cascadia.QueryAll(base, sel)
	ids := make([]dom.NodeID, len(matches))
	for i, m := range matches {
		ids[i] = d.idOf(m)
	}
	return ids, nil
}

// InlineStyle implements dom.ElementStyler.
func (d *Document) InlineStyle(ctx context.Context, id dom.NodeID) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.resolve(id)
	if err != nil {
		return "", false, err
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == "style" {
			return a.Val, true, nil
		}
	}
	return "", false, nil
}

// SetInlineStyle implements dom.ElementStyler.
func (d *Document) SetInlineStyle(ctx context.Context, id dom.NodeID, style string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.resolve(id)
	if err != nil {
		return err
	}
	setAttr(n, "style", style)
	return nil
}

// RemoveInlineStyle implements dom.ElementStyler.
func (d *Document) RemoveInlineStyle(ctx context.Context, id dom.NodeID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.resolve(id)
	if err != nil {
		return err
	}
	removeAttr(n, "style")
	return nil
}

// Inspect implements dom.ElementStyler.
func (d *Document) Inspect(ctx context.Context, ids []dom.NodeID) ([]dom.Computed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	sheets := make(map[dom.RootID][]rule)
	rulesFor := func(root dom.RootID) []rule {
		if r, ok := sheets[root]; ok {
			return r
		}
		base := d.doc
		if sr, ok := d.roots[root]; ok {
			base = sr.container
		}
		var order int
		var rules []rule
		walk(base, func(n *html.Node) bool {
			if n.Type == html.ElementNode && n.DataAtom == atom.Style {
				rules = append(rules, parseSheet(textContent(n), &order)...)
			}
			return true
		})
		sheets[root] = rules
		return rules
	}

	out := make([]dom.Computed, len(ids))
	for i, id := range ids {
		out[i].Node = id
		n, err := d.resolve(id)
		if err != nil {
			out[i].Gone = true
			continue
		}
		out[i] = d.compute(n, rulesFor)
		out[i].Node = id
	}
	return out, nil
}

const (
	defaultBackground = "rgba(0, 0, 0, 0)"
	defaultColor      = "rgb(0, 0, 0)"
	defaultPosition   = "static"
)

func (d *Document) compute(n *html.Node, rulesFor func(dom.RootID) []rule) dom.Computed {
	root, _ := d.rootOf(n)
	own := cascade(n, rulesFor(root), "background-color", "color", "position")

	c := dom.Computed{
		Tag:        strings.ToUpper(n.Data),
		Background: defaultBackground,
		Color:      defaultColor,
		Position:   defaultPosition,
		Children:   elementChildren(n),
		InUI:       d.inUI(n),
	}
	if v, ok := own["background-color"]; ok {
		c.Background = v
	}
	if v, ok := own["position"]; ok {
		c.Position = strings.ToLower(v)
	}
	if v, ok := own["color"]; ok && v != "inherit" {
		c.Color = v
		return c
	}
	// color inherits, across shadow boundaries too
	for p := d.parentElement(n); p != nil; p = d.parentElement(p) {
		pr, _ := d.rootOf(p)
		if v, ok := cascade(p, rulesFor(pr), "color")["color"]; ok && v != "inherit" {
			c.Color = v
			break
		}
	}
	return c
}

// parentElement steps to the parent element, or to the host at a shadow
// boundary.
func (d *Document) parentElement(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if sr, ok := d.containers[p]; ok {
			return sr.host.Value()
		}
		if p.Type == html.ElementNode {
			return p
		}
	}
	return nil
}

func (d *Document) inUI(n *html.Node) bool {
	for p := n; p != nil; p = d.parentElement(p) {
		if hasAttr(p, UIAttr) {
			return true
		}
	}
	return false
}

// ShadowRoots implements dom.ShadowRootScanner.
func (d *Document) ShadowRoots(ctx context.Context, root dom.RootID, scope dom.NodeID, selector string) ([]dom.ShadowRoot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel, err := compile(selector)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pruneRoots()
	base, err := d.container(root)
	if err != nil {
		return nil, err
	}
	hosts := make(map[*html.Node]bool)
	if scope != 0 {
		if base, err = d.resolve(scope); err != nil {
			return nil, err
		}
		if sel.Match(base) {
			hosts[base] = true
		}
	}
	for _, h := range cascadia.QueryAll(base, sel) {
		hosts[h] = true
	}

	var out []dom.ShadowRoot
	for _, sr := range d.roots {
		host := sr.host.Value()
		if host == nil || !sr.open || !hosts[host] {
			continue
		}
		out = append(out, dom.ShadowRoot{Host: d.idOf(host), Root: sr.id})
	}
	sortRoots(out)
	return out, nil
}

func sortRoots(roots []dom.ShadowRoot) {
	for i := 1; i < len(roots); i++ {
		for j := i; j > 0 && roots[j].Root < roots[j-1].Root; j-- {
			roots[j], roots[j-1] = roots[j-1], roots[j]
		}
	}
}

// pruneRoots forgets shadow roots whose host was collected.
func (d *Document) pruneRoots() {
	for id, sr := range d.roots {
		if sr.host.Value() == nil {
			delete(d.roots, id)
			delete(d.containers, sr.container)
		}
	}
}

// InjectStyle implements dom.StyleInjector.
func (d *Document) InjectStyle(ctx context.Context, root dom.RootID, id, css string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	base, err := d.container(root)
	if err != nil {
		return err
	}
	removeStyleByID(base, id)

	style := &html.Node{Type: html.ElementNode, Data: "style", DataAtom: atom.Style,
		Attr: []html.Attribute{{Key: "id", Val: id}}}
	style.AppendChild(&html.Node{Type: html.TextNode, Data: css})

	parent := base
	if root == dom.DocumentRoot {
		parent = d.headOrHTML()
	}
	parent.AppendChild(style)
	return nil
}

// RemoveStyle implements dom.StyleInjector.
func (d *Document) RemoveStyle(ctx context.Context, root dom.RootID, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	base, err := d.container(root)
	if err != nil {
		return err
	}
	removeStyleByID(base, id)
	return nil
}

func removeStyleByID(base *html.Node, id string) {
	var found []*html.Node
	walk(base, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Style && attr(n, "id") == id {
			found = append(found, n)
			return false
		}
		return true
	})
	for _, n := range found {
		n.Parent.RemoveChild(n)
	}
}

func (d *Document) headOrHTML() *html.Node {
	var head, htmlEl *html.Node
	walk(d.doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		switch n.DataAtom {
		case atom.Head:
			head = n
			return false
		case atom.Html:
			htmlEl = n
		}
		return head == nil
	})
	if head != nil {
		return head
	}
	if htmlEl != nil {
		return htmlEl
	}
	return d.doc
}

func (d *Document) body() *html.Node {
	var body *html.Node
	walk(d.doc, func(n *html.Node) bool {
		if body != nil {
			return false
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Body {
			body = n
			return false
		}
		return true
	})
	if body == nil {
		return d.headOrHTML()
	}
	return body
}

// StyleIDs lists the ids of the <style> elements in root, in tree order.
func (d *Document) StyleIDs(root dom.RootID) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	base, err := d.container(root)
	if err != nil {
		return nil
	}
	var ids []string
	walk(base, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Style {
			if id := attr(n, "id"); id != "" {
				ids = append(ids, id)
			}
			return false
		}
		return true
	})
	return ids
}

// Render serializes the document with shadow roots written back as
// declarative templates.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	type restore struct {
		host, tmpl *html.Node
		sr         *shadowRoot
	}
	var undo []restore

	// Inner roots first so their templates travel with the outer content.
	ordered := make([]*shadowRoot, 0, len(d.roots))
	for _, sr := range d.roots {
		ordered = append(ordered, sr)
	}
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].id > ordered[j-1].id; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	for _, sr := range ordered {
		host := sr.host.Value()
		if host == nil {
			continue
		}
		mode := "closed"
		if sr.open {
			mode = "open"
		}
		tmpl := &html.Node{Type: html.ElementNode, Data: "template", DataAtom: atom.Template,
			Attr: []html.Attribute{{Key: "shadowrootmode", Val: mode}}}
		moveChildren(sr.container, tmpl)
		host.InsertBefore(tmpl, host.FirstChild)
		undo = append(undo, restore{host: host, tmpl: tmpl, sr: sr})
	}

	err := html.Render(w, d.doc)

	for i := len(undo) - 1; i >= 0; i-- {
		u := undo[i]
		u.host.RemoveChild(u.tmpl)
		moveChildren(u.tmpl, u.sr.container)
	}
	return err
}

// String renders the document, for debugging and tests.
func (d *Document) String() string {
	var b bytes.Buffer
	if err := d.Render(&b); err != nil {
		return ""
	}
	return b.String()
}

func moveChildren(from, to *html.Node) {
	for c := from.FirstChild; c != nil; {
		next := c.NextSibling
		from.RemoveChild(c)
		to.AppendChild(c)
		c = next
	}
}

// walk visits n and its descendants in tree order; returning false from fn
// skips the node's children.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func textContent(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}

func elementChildren(n *html.Node) int {
	count := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			count++
		}
	}
	return count
}
