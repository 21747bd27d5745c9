// Package reconciler runs one expiration pass: describe, order by urgency,
// act on everything already due and reschedule for the next instance.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yairfalse/lapse/executor"
	"github.com/yairfalse/lapse/internal/plugin"
	"github.com/yairfalse/lapse/internal/telemetry"
	"github.com/yairfalse/lapse/pkg/expiry"
)

// Actor acts on one expired instance. *executor.Executor implements it.
type Actor interface {
	Act(ctx context.Context, inst *expiry.Instance) executor.Result
}

// Scheduler moves the next check to an instance's expiration.
// *reschedule.Rescheduler implements it.
type Scheduler interface {
	ScheduleNext(ctx context.Context, inst *expiry.Instance) (time.Time, error)
}

// PassResult summarizes one pass.
type PassResult struct {
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time"`
	Duration  time.Duration     `json:"duration"`
	Described int               `json:"described"`
	Excluded  []Excluded        `json:"excluded,omitempty"`
	Results   []executor.Result `json:"results,omitempty"`

	// Next is the earliest instance still in the future, nil if none.
	Next          *expiry.Instance `json:"-"`
	NextID        string           `json:"next_instance_id,omitempty"`
	NextFireAt    time.Time        `json:"next_fire_at,omitempty"`
	RescheduleErr string           `json:"reschedule_error,omitempty"`
}

// Failed counts results with StatusFailed.
func (p *PassResult) Failed() int {
	n := 0
	for _, r := range p.Results {
		if r.Status == executor.StatusFailed {
			n++
		}
	}
	return n
}

// Reconciler runs expiration passes.
type Reconciler struct {
	inventory plugin.Inventory
	keys      expiry.TagKeys
	actor     Actor
	scheduler Scheduler
	logger    zerolog.Logger
	metrics   *telemetry.Provider
	now       func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithMetrics sets the telemetry provider.
func WithMetrics(p *telemetry.Provider) Option {
	return func(r *Reconciler) { r.metrics = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a reconciler.
func New(inventory plugin.Inventory, keys expiry.TagKeys, actor Actor, scheduler Scheduler, opts ...Option) *Reconciler {
	r := &Reconciler{
		inventory: inventory,
		keys:      keys,
		actor:     actor,
		scheduler: scheduler,
		logger:    log.Logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs one pass. It returns an error only when the instance set
// cannot be described; per-instance and reschedule failures are reported in
// the result.
func (r *Reconciler) Run(ctx context.Context) (*PassResult, error) {
	ctx, span := r.metrics.StartSpan(ctx, "reconciler.run")
	defer span.End()

	res := &PassResult{StartTime: r.now()}
	defer func() {
		res.EndTime = r.now()
		res.Duration = res.EndTime.Sub(res.StartTime)
		r.metrics.RecordPassDuration(ctx, res.Duration)
	}()

	resources, err := r.inventory.Describe(ctx)
	if err != nil {
		r.logger.Error().Ctx(ctx).Err(err).Msg("Failed to describe EC2 instances")
		return res, fmt.Errorf("describe instances: %w", err)
	}
	res.Described = len(resources)

	ev := Evaluate(resources, r.keys)
	for _, ex := range ev.Excluded {
		r.logger.Warn().Ctx(ctx).
			Str("instance_id", ex.ID).
			Str("reason", ex.Reason).
			Msg("Excluding EC2 instance without a valid expiration")
	}
	res.Excluded = ev.Excluded

	due, next := ev.Plan(r.now())
	span.SetAttributes(
		attribute.Int("instances.described", len(resources)),
		attribute.Int("instances.due", len(due)),
	)
	r.metrics.RecordEvaluated(ctx, "excluded", len(ev.Excluded))
	r.metrics.RecordEvaluated(ctx, "expired", len(due))

	r.logger.Debug().Ctx(ctx).
		Int("described", len(resources)).
		Int("excluded", len(ev.Excluded)).
		Int("due", len(due)).
		Msg("Evaluated EC2 instances")

	for _, inst := range due {
		res.Results = append(res.Results, r.act(ctx, inst))
	}

	if next == nil {
		r.logger.Info().Ctx(ctx).Msg("No future expirations; next check left to the backup schedule")
		return res, nil
	}

	r.metrics.RecordEvaluated(ctx, "future", 1)
	res.Next = next
	res.NextID = next.ID
	fireAt, err := r.scheduler.ScheduleNext(ctx, next)
	if err != nil {
		res.RescheduleErr = err.Error()
		return res, nil
	}
	res.NextFireAt = fireAt
	return res, nil
}

// act shields the pass from a panic while handling one instance.
func (r *Reconciler) act(ctx context.Context, inst *expiry.Instance) (result executor.Result) {
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("panic handling instance %s: %v", inst.ID, p)
			r.logger.Error().Ctx(ctx).Err(err).
				Str("instance_id", inst.ID).
				Msg("Failed to handle expired EC2 instance")
			now := r.now()
			result = executor.Result{
				InstanceID: inst.ID,
				StartTime:  now,
				EndTime:    now,
				Action:     inst.Action,
				Status:     executor.StatusFailed,
				Error:      err.Error(),
				Err:        err,
			}
		}
	}()
	return r.actor.Act(ctx, inst)
}
