package emitter

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerEmitter wraps an Emitter with a circuit breaker. After threshold
// consecutive failures it fails fast with gobreaker.ErrOpenState until the
// cool-down passes, so a dead bus does not add a timeout to every action.
type BreakerEmitter struct {
	next    Emitter
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerEmitter wraps next. A zero cooldown defaults to 30 seconds.
func NewBreakerEmitter(name string, next Emitter, threshold uint32, cooldown time.Duration) *BreakerEmitter {
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
	return &BreakerEmitter{next: next, breaker: cb}
}

// Emit implements Emitter.
func (b *BreakerEmitter) Emit(ctx context.Context, event Event) error {
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Emit(ctx, event)
	})
	return err
}

// Close implements Emitter.
func (b *BreakerEmitter) Close() error {
	return b.next.Close()
}

// State returns the breaker state.
func (b *BreakerEmitter) State() gobreaker.State {
	return b.breaker.State()
}
