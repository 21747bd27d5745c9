// Package emitter defines the notification side channel for expiration actions.
package emitter

import (
	"context"
	"errors"
	"time"

	"github.com/yairfalse/lapse/pkg/expiry"
)

// DetailType is the event detail-type used for every action notification.
const DetailType = "Action"

// Event announces that an action was taken on an instance.
type Event struct {
	Action     expiry.Action `json:"action"`
	InstanceID string        `json:"instance-id"`
	Time       time.Time     `json:"-"`
}

// Emitter publishes events to a backend. Delivery is best effort.
type Emitter interface {
	// Emit sends one event.
	Emit(ctx context.Context, event Event) error

	// Close cleans up resources.
	Close() error
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to multiple backends.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit sends to every emitter, even after a failure, and joins the errors.
func (m *MultiEmitter) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all emitters.
func (m *MultiEmitter) Close() error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of wrapped emitters.
func (m *MultiEmitter) Len() int {
	return len(m.emitters)
}

// Nop discards every event. It is used when no notification target is configured.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(context.Context, Event) error { return nil }

// Close implements Emitter.
func (Nop) Close() error { return nil }
