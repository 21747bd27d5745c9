package expiry

import "time"

// Deadline is an optional point in time. The zero value is absent.
//
// Deadlines are totally ordered: present deadlines compare by time and an
// absent deadline sorts after every present one.
type Deadline struct {
	t   time.Time
	set bool
}

// At returns a present deadline at t.
func At(t time.Time) Deadline {
	return Deadline{t: t, set: true}
}

// Never returns an absent deadline.
func Never() Deadline {
	return Deadline{}
}

// IsSet reports whether the deadline is present.
func (d Deadline) IsSet() bool {
	return d.set
}

// Time returns the deadline and whether it is present.
func (d Deadline) Time() (time.Time, bool) {
	return d.t, d.set
}

// Compare returns -1 if d is earlier than o, +1 if later and 0 if equal.
func (d Deadline) Compare(o Deadline) int {
	switch {
	case !d.set && !o.set:
		return 0
	case !d.set:
		return 1
	case !o.set:
		return -1
	}
	return d.t.Compare(o.t)
}

// Equal reports whether both deadlines are absent or both are the same instant.
func (d Deadline) Equal(o Deadline) bool {
	return d.Compare(o) == 0
}

// DueBy reports whether the deadline is present and at or before now.
func (d Deadline) DueBy(now time.Time) bool {
	return d.set && !d.t.After(now)
}

// String renders the deadline in RFC 3339, or "never" when absent.
func (d Deadline) String() string {
	if !d.set {
		return "never"
	}
	return d.t.UTC().Format(time.RFC3339)
}

// Earliest returns the smallest of ds. Absent values never win against a
// present one; with no present values the result is absent.
func Earliest(ds ...Deadline) Deadline {
	out := Never()
	for _, d := range ds {
		if d.Compare(out) < 0 {
			out = d
		}
	}
	return out
}
