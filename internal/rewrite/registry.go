package rewrite

import "github.com/Rorqualx/darkmode-go/internal/dom"

// Registry is the monotonic set of shadow roots seen in a document. A root
// is registered once, so its stylesheet and observer are attached once.
type Registry struct {
	hosts map[dom.RootID]dom.NodeID
	order []dom.RootID
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{hosts: make(map[dom.RootID]dom.NodeID)}
}

// Add registers r and reports whether it was new.
func (r *Registry) Add(sr dom.ShadowRoot) bool {
	if _, ok := r.hosts[sr.Root]; ok {
		return false
	}
	r.hosts[sr.Root] = sr.Host
	r.order = append(r.order, sr.Root)
	return true
}

// Has reports whether root is registered.
func (r *Registry) Has(root dom.RootID) bool {
	_, ok := r.hosts[root]
	return ok
}

// Roots returns the registered roots in discovery order.
func (r *Registry) Roots() []dom.RootID {
	out := make([]dom.RootID, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered roots.
func (r *Registry) Len() int {
	return len(r.order)
}
