// Package dom defines the capabilities the theming engine needs from a
// document. The engine never touches a concrete DOM; adapters implement
// these interfaces against a parsed document or a live browser page.
package dom

import (
	"context"
	"errors"
)

// NodeID is an opaque element handle. Adapters resolve it through weak
// references, so holding a NodeID never keeps an element alive.
type NodeID int64

// RootID identifies a style scope: the document or one shadow root.
type RootID int64

// DocumentRoot is the top-level document scope.
const DocumentRoot RootID = 0

var (
	// ErrNodeGone is returned for handles whose element was collected or
	// detached.
	ErrNodeGone = errors.New("dom: node is gone")
	// ErrRootUnavailable is returned for shadow roots that cannot be
	// entered, such as closed or cross-origin roots.
	ErrRootUnavailable = errors.New("dom: root unavailable")
)

// StyleInjector manages stylesheets keyed by a purpose id. Injecting an id
// that already exists in root replaces it.
type StyleInjector interface {
	InjectStyle(ctx context.Context, root RootID, id, css string) error
	// RemoveStyle is a no-op when id is absent.
	RemoveStyle(ctx context.Context, root RootID, id string) error
}

// Computed is the slice of computed style the engine reads per element.
type Computed struct {
	Node       NodeID
	Tag        string // upper case
	Background string
	Color      string
	Position   string
	Children   int
	// InUI marks elements inside the control surface.
	InUI bool
	// Gone is set when the element vanished before it could be read.
	Gone bool
}

// ElementStyler reads and writes elements.
type ElementStyler interface {
	// QueryAll returns the elements of root matching selector, limited to
	// descendants of scope unless scope is zero.
	QueryAll(ctx context.Context, root RootID, scope NodeID, selector string) ([]NodeID, error)
	// InlineStyle returns the style attribute and whether it was present.
	InlineStyle(ctx context.Context, id NodeID) (string, bool, error)
	// SetInlineStyle replaces the style attribute. An empty style leaves an
	// empty attribute behind.
	SetInlineStyle(ctx context.Context, id NodeID, style string) error
	// RemoveInlineStyle deletes the style attribute.
	RemoveInlineStyle(ctx context.Context, id NodeID) error
	// Inspect reads computed styles for ids. Vanished nodes come back with
	// Gone set rather than failing the batch.
	Inspect(ctx context.Context, ids []NodeID) ([]Computed, error)
}

// ShadowRoot is an open shadow root and its host.
type ShadowRoot struct {
	Host NodeID
	Root RootID
}

// ShadowRootScanner finds shadow roots.
type ShadowRootScanner interface {
	// ShadowRoots returns the open shadow roots hosted by elements of root
	// matching selector. A non-zero scope limits the search to that element
	// and its descendants.
	ShadowRoots(ctx context.Context, root RootID, scope NodeID, selector string) ([]ShadowRoot, error)
}

// Mutation is one observed batch of child-list changes. Removed holds the
// handles of detached elements; they no longer resolve.
type Mutation struct {
	Root    RootID
	Added   []NodeID
	Removed []NodeID
}

// Observer delivers subtree insertions and removals. Callbacks may arrive
// on any goroutine.
type Observer interface {
	// Observe watches root (the body for DocumentRoot) until the returned
	// stop function is called.
	Observe(ctx context.Context, root RootID, fn func(Mutation)) (stop func(), err error)
}

// Widget is a control-surface element rendered by the engine.
type Widget struct {
	ID   string
	HTML string
}

// Action is a user interaction with the control surface.
type Action struct {
	Name  string  `json:"name"`
	Value string  `json:"value,omitempty"`
	X     float64 `json:"x,omitempty"`
	Y     float64 `json:"y,omitempty"`
}

// UI mounts control-surface widgets and reports user actions.
type UI interface {
	// Mount attaches w to the body, replacing any element with the same id.
	Mount(ctx context.Context, w Widget) error
	Unmount(ctx context.Context, id string) error
	// Present reports which of ids are attached to the document.
	Present(ctx context.Context, ids []string) (map[string]bool, error)
	// OnAction registers fn for user actions. Callbacks may arrive on any
	// goroutine.
	OnAction(fn func(Action)) (stop func())
}

// Document bundles every capability of one page.
type Document interface {
	StyleInjector
	ElementStyler
	ShadowRootScanner
	Observer
	UI
	URL() string
}

// Titler is implemented by documents that can report their title.
type Titler interface {
	Title(ctx context.Context) (string, error)
}
