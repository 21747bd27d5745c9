package reconciler

import (
	"github.com/google/btree"

	"github.com/yairfalse/lapse/pkg/expiry"
)

// Queue orders instances by effective expiration, earliest first. Ties are
// broken by instance ID so iteration order is deterministic.
type Queue struct {
	tree *btree.BTreeG[*expiry.Instance]
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		tree: btree.NewG[*expiry.Instance](32, func(a, b *expiry.Instance) bool {
			if c := a.Expiration.Compare(b.Expiration); c != 0 {
				return c < 0
			}
			return a.ID < b.ID
		}),
	}
}

// Push adds inst. An instance with the same ID and expiration replaces the
// one already queued.
func (q *Queue) Push(inst *expiry.Instance) {
	q.tree.ReplaceOrInsert(inst)
}

// Len returns the number of queued instances.
func (q *Queue) Len() int {
	return q.tree.Len()
}

// Ascend calls fn for each instance in expiration order until fn returns false.
func (q *Queue) Ascend(fn func(inst *expiry.Instance) bool) {
	q.tree.Ascend(btree.ItemIteratorG[*expiry.Instance](fn))
}

// Items returns the queued instances in expiration order.
func (q *Queue) Items() []*expiry.Instance {
	out := make([]*expiry.Instance, 0, q.tree.Len())
	q.Ascend(func(inst *expiry.Instance) bool {
		out = append(out, inst)
		return true
	})
	return out
}
