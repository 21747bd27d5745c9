package reconciler

import (
	"time"

	"github.com/yairfalse/lapse/pkg/expiry"
	"github.com/yairfalse/lapse/pkg/resource"
)

// Excluded is an instance left out of the pass because it has no usable
// expiration.
type Excluded struct {
	ID     string `json:"instance_id"`
	Reason string `json:"reason"`
}

// Evaluation is the instance set of one pass, ordered by urgency.
type Evaluation struct {
	Queue    *Queue
	Excluded []Excluded
}

// Evaluate builds an instance model for every resource. Resources without a
// valid expiration are reported in Excluded and never queued.
func Evaluate(resources []resource.Resource, keys expiry.TagKeys) *Evaluation {
	ev := &Evaluation{Queue: NewQueue()}
	for _, r := range resources {
		inst, err := expiry.Build(r, keys)
		if err != nil {
			ev.Excluded = append(ev.Excluded, Excluded{ID: r.ID, Reason: err.Error()})
			continue
		}
		ev.Queue.Push(inst)
	}
	return ev
}

// Plan splits the queue at now: every instance due by now in expiration
// order, and the first instance still in the future. next is nil when no
// instance is in the future.
func (ev *Evaluation) Plan(now time.Time) (due []*expiry.Instance, next *expiry.Instance) {
	ev.Queue.Ascend(func(inst *expiry.Instance) bool {
		if inst.DueBy(now) {
			due = append(due, inst)
			return true
		}
		next = inst
		return false
	})
	return due, next
}
