// Package expiry derives a single expiration policy from an instance's tags.
//
// Each instance may carry up to four expiration tags. Durations are added to
// the launch time, datetimes are taken as UTC. The stop candidate is the
// earlier of the two stop tags, the terminate candidate the earlier of the two
// terminate tags, and the effective expiration is the earlier of the two
// candidates. When the candidates are equal, terminate wins.
package expiry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yairfalse/lapse/pkg/resource"
)

var (
	// ErrNoExpiration is returned by Build when no tag yields a valid deadline.
	ErrNoExpiration = errors.New("no valid expiration")

	// ErrInvalidInstance is returned by Build for a structurally broken record.
	ErrInvalidInstance = errors.New("invalid instance")
)

// Instance is an instance together with its derived expiration policy.
// It is rebuilt from live state on every pass and never persisted.
type Instance struct {
	ID         string
	Name       string
	State      string
	LaunchedAt time.Time

	// StopAt and TerminateAt are the combined per-action candidates.
	StopAt      Deadline
	TerminateAt Deadline

	// Expiration is the earlier candidate and Action the action it belongs to.
	Expiration Deadline
	Action     Action

	// Malformed lists tag keys that were present but could not be parsed.
	Malformed []string
}

// Build derives the expiration policy of r using keys.
//
// A malformed tag only removes its own candidate. Build fails with
// ErrInvalidInstance when r has no ID or state, and with ErrNoExpiration when
// none of the four tags yields a deadline.
func Build(r resource.Resource, keys TagKeys) (*Instance, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("%w: missing instance id", ErrInvalidInstance)
	}
	if r.State == "" {
		return nil, fmt.Errorf("%w: instance %s has no state", ErrInvalidInstance, r.ID)
	}

	inst := &Instance{
		ID:         r.ID,
		Name:       r.Name,
		State:      r.State,
		LaunchedAt: r.LaunchedAt,
	}

	inst.StopAt = Earliest(
		inst.afterDuration(r, keys.StopAfterDuration),
		inst.afterDatetime(r, keys.StopAfterDatetime),
	)
	inst.TerminateAt = Earliest(
		inst.afterDuration(r, keys.TerminateAfterDuration),
		inst.afterDatetime(r, keys.TerminateAfterDatetime),
	)

	inst.Expiration = Earliest(inst.StopAt, inst.TerminateAt)
	if !inst.Expiration.IsSet() {
		if len(inst.Malformed) > 0 {
			return nil, fmt.Errorf("instance %s: %w (malformed tags: %s)",
				r.ID, ErrNoExpiration, strings.Join(inst.Malformed, ", "))
		}
		return nil, fmt.Errorf("instance %s: %w", r.ID, ErrNoExpiration)
	}

	// Terminate is compared first so that it wins a tie.
	if inst.Expiration.Equal(inst.TerminateAt) {
		inst.Action = ActionTerminate
	} else {
		inst.Action = ActionStop
	}

	return inst, nil
}

// DueBy reports whether the instance has expired at now.
func (i *Instance) DueBy(now time.Time) bool {
	return i.Expiration.DueBy(now)
}

// IsRunning reports whether the instance was pending or running when
// described.
func (i *Instance) IsRunning() bool {
	return i.State == resource.StateRunning || i.State == resource.StatePending
}

// ExpiresAt returns the effective expiration time. It is only meaningful for
// instances returned by Build, which always have one.
func (i *Instance) ExpiresAt() time.Time {
	t, _ := i.Expiration.Time()
	return t
}

func (i *Instance) afterDuration(r resource.Resource, key string) Deadline {
	v, ok := r.Tag(key)
	if !ok {
		return Never()
	}
	d, ok := ParseDuration(v)
	if !ok {
		if strings.TrimSpace(v) != "" {
			i.Malformed = append(i.Malformed, key)
		}
		return Never()
	}
	if r.LaunchedAt.IsZero() {
		return Never()
	}
	return At(r.LaunchedAt.UTC().Add(d))
}

func (i *Instance) afterDatetime(r resource.Resource, key string) Deadline {
	v, ok := r.Tag(key)
	if !ok {
		return Never()
	}
	t, ok := ParseDatetime(v)
	if !ok {
		i.Malformed = append(i.Malformed, key)
		return Never()
	}
	return At(t)
}
