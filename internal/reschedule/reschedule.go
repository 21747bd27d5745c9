// Package reschedule maintains the single "next check" record that wakes the
// engine at the next expiration.
package reschedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	_ "time/tzdata" // schedule timezones resolve without host zoneinfo

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/lapse/internal/telemetry"
	"github.com/yairfalse/lapse/pkg/expiry"
)

// MinLead is the shortest delay ever written as a fire time.
const MinLead = time.Minute

// ErrRecordNotFound is returned by a Store that holds no record yet.
var ErrRecordNotFound = errors.New("reschedule record not found")

// Record is the persisted next-check job.
//
// Only FireAt is ever changed by the engine. Fields carries the rest of the
// record exactly as the store read it, so that a store whose backend forbids
// partial updates can write the whole definition back.
type Record struct {
	Name     string                     `json:"name"`
	FireAt   time.Time                  `json:"fire_at"`
	Timezone string                     `json:"timezone,omitempty"`
	Fields   map[string]json.RawMessage `json:"fields,omitempty"`
}

// WithFireAt returns a copy of r with only the fire time changed.
func (r *Record) WithFireAt(t time.Time) *Record {
	out := &Record{
		Name:     r.Name,
		FireAt:   t,
		Timezone: r.Timezone,
	}
	if r.Fields != nil {
		out.Fields = make(map[string]json.RawMessage, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// Location resolves the record's timezone, falling back to UTC.
func (r *Record) Location() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Store reads and writes the one reschedule record as a whole.
type Store interface {
	Get(ctx context.Context) (*Record, error)
	Put(ctx context.Context, rec *Record) error
}

// FireTime returns the later of expiration and now plus MinLead.
func FireTime(expiration, now time.Time) time.Time {
	floor := now.Add(MinLead)
	if expiration.Before(floor) {
		return floor
	}
	return expiration
}

// Rescheduler moves the next-check record to an instance's expiration.
type Rescheduler struct {
	store   Store
	logger  zerolog.Logger
	metrics *telemetry.Provider
	now     func() time.Time
	dryRun  bool
}

// Option configures a Rescheduler.
type Option func(*Rescheduler)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Rescheduler) { r.logger = l }
}

// WithMetrics sets the telemetry provider.
func WithMetrics(p *telemetry.Provider) Option {
	return func(r *Rescheduler) { r.metrics = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Rescheduler) { r.now = now }
}

// WithDryRun computes and reports the fire time without writing it.
func WithDryRun(dryRun bool) Option {
	return func(r *Rescheduler) { r.dryRun = dryRun }
}

// New creates a Rescheduler backed by store.
func New(store Store, opts ...Option) *Rescheduler {
	r := &Rescheduler{
		store:  store,
		logger: log.Logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ScheduleNext reads the record, sets its fire time to
// FireTime(inst expiration, now) and writes it back. It returns the fire time
// that was (or in dry-run mode would have been) written.
//
// Errors are logged here; callers may ignore them. The instance is picked up
// again by the next trigger either way.
func (r *Rescheduler) ScheduleNext(ctx context.Context, inst *expiry.Instance) (time.Time, error) {
	logger := r.logger.With().Ctx(ctx).Str("instance_id", inst.ID).Logger()
	logger.Info().
		Str("expiration", inst.Expiration.String()).
		Str("action", inst.Action.Verb()).
		Msg("Scheduling next check based on EC2 instance")

	exp, ok := inst.Expiration.Time()
	if !ok {
		err := fmt.Errorf("instance %s: %w", inst.ID, expiry.ErrNoExpiration)
		r.fail(ctx, logger, err)
		return time.Time{}, err
	}

	rec, err := r.store.Get(ctx)
	if err != nil {
		err = fmt.Errorf("read reschedule record: %w", err)
		r.fail(ctx, logger, err)
		return time.Time{}, err
	}

	fireAt := FireTime(exp, r.now())
	next := rec.WithFireAt(fireAt)

	if r.dryRun {
		logger.Info().
			Str("schedule", rec.Name).
			Time("fire_at", fireAt).
			Msg("dry run: next check not written")
		r.metrics.RecordReschedule(ctx, "dry_run")
		return fireAt, nil
	}

	if err := r.store.Put(ctx, next); err != nil {
		err = fmt.Errorf("write reschedule record: %w", err)
		r.fail(ctx, logger, err)
		return time.Time{}, err
	}

	logger.Info().
		Str("schedule", rec.Name).
		Time("fire_at", fireAt).
		Msg("next check scheduled")
	r.metrics.RecordReschedule(ctx, "success")
	return fireAt, nil
}

func (r *Rescheduler) fail(ctx context.Context, logger zerolog.Logger, err error) {
	logger.Error().Err(err).Msg("Failed to schedule next check")
	r.metrics.RecordReschedule(ctx, "failed")
}
