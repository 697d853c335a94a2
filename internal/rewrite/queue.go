package rewrite

import "github.com/Rorqualx/darkmode-go/internal/dom"

// QueueCapacity bounds the number of subtrees waiting for a drain.
const QueueCapacity = 512

type workItem struct {
	root dom.RootID
	node dom.NodeID
}

// workQueue is the arena of inserted subtrees waiting for the next drain.
// When full, new entries are dropped.
type workQueue struct {
	items   []workItem
	cap     int
	dropped int
}

func newWorkQueue(capacity int) *workQueue {
	if capacity <= 0 {
		capacity = QueueCapacity
	}
	return &workQueue{cap: capacity}
}

// push queues the added subtrees of m and returns how many were dropped.
func (q *workQueue) push(m dom.Mutation) int {
	dropped := 0
	for _, id := range m.Added {
		if len(q.items) >= q.cap {
			dropped++
			continue
		}
		q.items = append(q.items, workItem{root: m.Root, node: id})
	}
	q.dropped += dropped
	return dropped
}

// take removes and returns every queued item.
func (q *workQueue) take() []workItem {
	items := q.items
	q.items = nil
	return items
}

func (q *workQueue) len() int { return len(q.items) }

func (q *workQueue) reset() {
	q.items = nil
}
