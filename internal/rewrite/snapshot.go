package rewrite

import (
	"strings"

	"github.com/Rorqualx/darkmode-go/internal/dom"
)

// Decl is one forced CSS declaration. Forced declarations are always
// written with !important.
type Decl struct {
	Prop  string
	Value string
}

func (d Decl) String() string {
	return d.Prop + ": " + d.Value + " !important"
}

type snapshotEntry struct {
	original string
	present  bool
	forced   []Decl
}

// Restore is the original inline style of one element.
type Restore struct {
	Node dom.NodeID
	// Style is the original style attribute, empty when Present is false.
	Style   string
	Present bool
}

// Snapshot records each element's inline style the first time the engine
// touches it, along with the declarations forced on it since. The element's
// style is always original + forced, so re-applying the same declarations
// is a no-op and rollback is exact.
type Snapshot struct {
	entries map[dom.NodeID]*snapshotEntry
	order   []dom.NodeID
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{entries: make(map[dom.NodeID]*snapshotEntry)}
}

// Has reports whether id has an entry.
func (s *Snapshot) Has(id dom.NodeID) bool {
	_, ok := s.entries[id]
	return ok
}

// Record stores the original style of id. An existing entry is never
// overwritten; Record reports whether a new entry was created.
func (s *Snapshot) Record(id dom.NodeID, style string, present bool) bool {
	if _, ok := s.entries[id]; ok {
		return false
	}
	s.entries[id] = &snapshotEntry{original: style, present: present}
	s.order = append(s.order, id)
	return true
}

// Force merges decls into the forced set of id, keyed by property, and
// returns the composed style. changed is false when the set already held
// the same values. id must have been recorded.
func (s *Snapshot) Force(id dom.NodeID, decls ...Decl) (style string, changed bool) {
	e, ok := s.entries[id]
	if !ok {
		return "", false
	}
	for _, d := range decls {
		found := false
		for i := range e.forced {
			if e.forced[i].Prop != d.Prop {
				continue
			}
			found = true
			if e.forced[i].Value != d.Value {
				e.forced[i].Value = d.Value
				changed = true
			}
			break
		}
		if !found {
			e.forced = append(e.forced, d)
			changed = true
		}
	}
	return compose(e.original, e.forced), changed
}

// Drain empties the snapshot and returns the original styles in the order
// they were recorded.
func (s *Snapshot) Drain() []Restore {
	out := make([]Restore, 0, len(s.order))
	for _, id := range s.order {
		e := s.entries[id]
		out = append(out, Restore{Node: id, Style: e.original, Present: e.present})
	}
	s.entries = make(map[dom.NodeID]*snapshotEntry)
	s.order = nil
	return out
}

// Len is the number of distinct elements with a forced style.
func (s *Snapshot) Len() int {
	return len(s.entries)
}

func compose(original string, forced []Decl) string {
	var b strings.Builder
	if base := strings.TrimRight(strings.TrimSpace(original), "; "); base != "" {
		b.WriteString(base)
	}
	for _, d := range forced {
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		b.WriteString(d.String())
	}
	return b.String()
}
