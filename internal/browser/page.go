package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/Rorqualx/darkmode-go/internal/dom"
)

//go:embed runtime.js
var runtimeJS string

const (
	bindingName = "__darkmode_binding"

	// callJS dispatches to the page runtime. A document that lost it,
	// such as one that replaced window, answers with a runtime error.
	callJS = `(fn, args) => window.__darkmode
		? window.__darkmode.call(fn, args)
		: {error: "runtime", value: null}`

	// stopTimeout bounds the unobserve call made by an observer's stop
	// function, which has no caller context.
	stopTimeout = 2 * time.Second
)

var (
	_ dom.Document = (*PageDocument)(nil)
	_ dom.Titler   = (*PageDocument)(nil)
)

// bindingMessage is the payload the runtime sends through the binding.
type bindingMessage struct {
	Type     string       `json:"type"`
	Observer int64        `json:"observer"`
	Root     dom.RootID   `json:"root"`
	Added    []dom.NodeID `json:"added"`
	Removed  []dom.NodeID `json:"removed"`
	Name     string       `json:"name"`
	Value    string       `json:"value"`
	X        float64      `json:"x"`
	Y        float64      `json:"y"`
}

// PageDocument adapts a live page to dom.Document. Calls are evaluated in
// the page's main frame; observer and action callbacks arrive on the
// event goroutine.
type PageDocument struct {
	page   *rod.Page
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	remove func() error

	mu        sync.Mutex
	url       string
	nextID    int
	observers map[int64]func(dom.Mutation)
	actions   map[int]func(dom.Action)
	navigate  map[int]func(string)
}

// Attach installs the runtime on page, now and on every later document,
// and starts listening for binding calls and navigations.
func Attach(ctx context.Context, page *rod.Page) (*PageDocument, error) {
	if page == nil {
		return nil, errors.New("browser: nil page")
	}
	p := page.Context(ctx)

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(p); err != nil {
		return nil, fmt.Errorf("add binding: %w", err)
	}
	remove, err := p.EvalOnNewDocument("(" + runtimeJS + ")()")
	if err != nil {
		return nil, fmt.Errorf("register runtime: %w", err)
	}
	if _, err := p.Eval(runtimeJS); err != nil {
		_ = remove()
		return nil, fmt.Errorf("install runtime: %w", err)
	}

	info, err := p.Info()
	if err != nil {
		_ = remove()
		return nil, fmt.Errorf("page info: %w", err)
	}

	lctx, cancel := context.WithCancel(context.Background())
	d := &PageDocument{
		page:      page,
		ctx:       lctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		remove:    remove,
		url:       info.URL,
		observers: make(map[int64]func(dom.Mutation)),
		actions:   make(map[int]func(dom.Action)),
		navigate:  make(map[int]func(string)),
	}

	// Subscribe before returning so no event after Attach is missed.
	wait := page.Context(lctx).EachEvent(d.onBinding, d.onNavigated)
	go func() {
		defer close(d.done)
		wait()
	}()
	return d, nil
}

// Close stops event delivery. The page itself stays open.
func (d *PageDocument) Close() {
	d.cancel()
	<-d.done
	if err := d.remove(); err != nil {
		log.Debug().Err(err).Msg("Failed to unregister page runtime")
	}
}

// URL implements dom.Document.
func (d *PageDocument) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

// OnNavigate registers fn for main-frame navigations. fn runs on the event
// goroutine with the new URL.
func (d *PageDocument) OnNavigate(fn func(url string)) (stop func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.navigate[id] = fn
	return func() {
		d.mu.Lock()
		delete(d.navigate, id)
		d.mu.Unlock()
	}
}

func (d *PageDocument) onNavigated(e *proto.PageFrameNavigated) {
	if e.Frame == nil || e.Frame.ParentID != "" {
		return
	}
	d.mu.Lock()
	d.url = e.Frame.URL
	handlers := make([]func(string), 0, len(d.navigate))
	for _, fn := range d.navigate {
		handlers = append(handlers, fn)
	}
	// Observers died with the old document.
	clear(d.observers)
	d.mu.Unlock()

	for _, fn := range handlers {
		fn(e.Frame.URL)
	}
}

func (d *PageDocument) onBinding(e *proto.RuntimeBindingCalled) {
	if e.Name != bindingName {
		return
	}
	var msg bindingMessage
	if err := json.Unmarshal([]byte(e.Payload), &msg); err != nil {
		log.Debug().Err(err).Msg("Malformed binding payload")
		return
	}

	switch msg.Type {
	case "mutation":
		d.mu.Lock()
		fn := d.observers[msg.Observer]
		d.mu.Unlock()
		if fn != nil {
			fn(dom.Mutation{Root: msg.Root, Added: msg.Added, Removed: msg.Removed})
		}
	case "action":
		d.mu.Lock()
		handlers := make([]func(dom.Action), 0, len(d.actions))
		for _, fn := range d.actions {
			handlers = append(handlers, fn)
		}
		d.mu.Unlock()
		a := dom.Action{Name: msg.Name, Value: msg.Value, X: msg.X, Y: msg.Y}
		for _, fn := range handlers {
			fn(a)
		}
	}
}

// call runs fn in the page runtime, reinstalling the runtime once if the
// document lost it.
func (d *PageDocument) call(ctx context.Context, fn string, args ...any) (gson.JSON, error) {
	if args == nil {
		args = []any{}
	}
	for attempt := 0; ; attempt++ {
		res, err := d.page.Context(ctx).Eval(callJS, fn, args)
		if err != nil {
			var zero gson.JSON
			return zero, fmt.Errorf("browser: %s: %w", fn, err)
		}
		v, err := decodeResult(fn, res.Value)
		if errors.Is(err, errRuntimeMissing) && attempt == 0 {
			if _, err := d.page.Context(ctx).Eval(runtimeJS); err != nil {
				return v, fmt.Errorf("browser: reinstall runtime: %w", err)
			}
			continue
		}
		return v, err
	}
}

var errRuntimeMissing = errors.New("browser: page runtime missing")

// decodeResult unwraps the runtime's {error, value} reply.
func decodeResult(fn string, reply gson.JSON) (gson.JSON, error) {
	value := reply.Get("value")
	switch kind := reply.Get("error").Str(); kind {
	case "":
		return value, nil
	case "gone":
		return value, dom.ErrNodeGone
	case "root":
		return value, dom.ErrRootUnavailable
	case "runtime":
		return value, errRuntimeMissing
	default:
		return value, fmt.Errorf("browser: %s: %s", fn, kind)
	}
}

// str is Str without gson's "<nil>" for absent values.
func str(v gson.JSON) string {
	if v.Nil() {
		return ""
	}
	return v.Str()
}

func decodeNodes(v gson.JSON) []dom.NodeID {
	if v.Nil() {
		return nil
	}
	arr := v.Arr()
	ids := make([]dom.NodeID, 0, len(arr))
	for _, x := range arr {
		ids = append(ids, dom.NodeID(x.Num()))
	}
	return ids
}

func decodeComputed(v gson.JSON) []dom.Computed {
	if v.Nil() {
		return nil
	}
	arr := v.Arr()
	out := make([]dom.Computed, 0, len(arr))
	for _, x := range arr {
		node := dom.NodeID(x.Get("node").Num())
		if x.Get("gone").Bool() {
			out = append(out, dom.Computed{Node: node, Gone: true})
			continue
		}
		out = append(out, dom.Computed{
			Node:       node,
			Tag:        str(x.Get("tag")),
			Background: str(x.Get("background")),
			Color:      str(x.Get("color")),
			Position:   str(x.Get("position")),
			Children:   x.Get("children").Int(),
			InUI:       x.Get("ui").Bool(),
		})
	}
	return out
}

func decodeShadowRoots(v gson.JSON) []dom.ShadowRoot {
	if v.Nil() {
		return nil
	}
	arr := v.Arr()
	out := make([]dom.ShadowRoot, 0, len(arr))
	for _, x := range arr {
		out = append(out, dom.ShadowRoot{
			Host: dom.NodeID(x.Get("host").Num()),
			Root: dom.RootID(x.Get("root").Num()),
		})
	}
	return out
}

// InjectStyle implements dom.StyleInjector.
func (d *PageDocument) InjectStyle(ctx context.Context, root dom.RootID, id, css string) error {
	_, err := d.call(ctx, "injectStyle", root, id, css)
	return err
}

// RemoveStyle implements dom.StyleInjector.
func (d *PageDocument) RemoveStyle(ctx context.Context, root dom.RootID, id string) error {
	_, err := d.call(ctx, "removeStyle", root, id)
	return err
}

// QueryAll implements dom.ElementStyler.
func (d *PageDocument) QueryAll(ctx context.Context, root dom.RootID, scope dom.NodeID, selector string) ([]dom.NodeID, error) {
	v, err := d.call(ctx, "query", root, scope, selector)
	if err != nil {
		return nil, err
	}
	return decodeNodes(v), nil
}

// InlineStyle implements dom.ElementStyler.
func (d *PageDocument) InlineStyle(ctx context.Context, id dom.NodeID) (string, bool, error) {
	v, err := d.call(ctx, "inlineStyle", id)
	if err != nil {
		return "", false, err
	}
	return str(v.Get("style")), v.Get("present").Bool(), nil
}

// SetInlineStyle implements dom.ElementStyler.
func (d *PageDocument) SetInlineStyle(ctx context.Context, id dom.NodeID, style string) error {
	_, err := d.call(ctx, "setInlineStyle", id, style)
	return err
}

// RemoveInlineStyle implements dom.ElementStyler.
func (d *PageDocument) RemoveInlineStyle(ctx context.Context, id dom.NodeID) error {
	_, err := d.call(ctx, "removeInlineStyle", id)
	return err
}

// Inspect implements dom.ElementStyler.
func (d *PageDocument) Inspect(ctx context.Context, ids []dom.NodeID) ([]dom.Computed, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	v, err := d.call(ctx, "inspect", ids)
	if err != nil {
		return nil, err
	}
	return decodeComputed(v), nil
}

// ShadowRoots implements dom.ShadowRootScanner.
func (d *PageDocument) ShadowRoots(ctx context.Context, root dom.RootID, scope dom.NodeID, selector string) ([]dom.ShadowRoot, error) {
	v, err := d.call(ctx, "shadowRoots", root, scope, selector)
	if err != nil {
		return nil, err
	}
	return decodeShadowRoots(v), nil
}

// Observe implements dom.Observer.
func (d *PageDocument) Observe(ctx context.Context, root dom.RootID, fn func(dom.Mutation)) (func(), error) {
	d.mu.Lock()
	d.nextID++
	id := int64(d.nextID)
	d.observers[id] = fn
	d.mu.Unlock()

	if _, err := d.call(ctx, "observe", root, id); err != nil {
		d.dropObserver(id)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if !d.dropObserver(id) {
				// Navigation already took the observer with it.
				return
			}
			ctx, cancel := context.WithTimeout(d.ctx, stopTimeout)
			defer cancel()
			if _, err := d.call(ctx, "unobserve", id); err != nil {
				log.Debug().Err(err).Int64("observer", id).Msg("Failed to disconnect observer")
			}
		})
	}, nil
}

func (d *PageDocument) dropObserver(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.observers[id]
	delete(d.observers, id)
	return ok
}

// Mount implements dom.UI.
func (d *PageDocument) Mount(ctx context.Context, w dom.Widget) error {
	v, err := d.call(ctx, "mount", w.ID, w.HTML)
	if err != nil {
		return err
	}
	if !v.Bool() {
		return fmt.Errorf("browser: widget %s rendered no element", w.ID)
	}
	return nil
}

// Unmount implements dom.UI.
func (d *PageDocument) Unmount(ctx context.Context, id string) error {
	_, err := d.call(ctx, "unmount", id)
	return err
}

// Present implements dom.UI.
func (d *PageDocument) Present(ctx context.Context, ids []string) (map[string]bool, error) {
	v, err := d.call(ctx, "present", ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = v.Get(id).Bool()
	}
	return out, nil
}

// OnAction implements dom.UI.
func (d *PageDocument) OnAction(fn func(dom.Action)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.actions[id] = fn
	return func() {
		d.mu.Lock()
		delete(d.actions, id)
		d.mu.Unlock()
	}
}

// Title implements dom.Titler.
func (d *PageDocument) Title(ctx context.Context) (string, error) {
	v, err := d.call(ctx, "title")
	if err != nil {
		return "", err
	}
	return str(v), nil
}
