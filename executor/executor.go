// Package executor stops or terminates expired instances after independently
// re-verifying the decision against a fresh describe.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yairfalse/lapse/internal/emitter"
	"github.com/yairfalse/lapse/internal/plugin"
	"github.com/yairfalse/lapse/internal/telemetry"
	"github.com/yairfalse/lapse/pkg/expiry"
)

// Executor acts on expired instances one at a time.
type Executor struct {
	inventory plugin.Inventory
	actuator  plugin.Actuator
	cfg       Config
	verifier  *Verifier
	emitter   emitter.Emitter
	logger    zerolog.Logger
	metrics   *telemetry.Provider
	now       func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithMetrics sets the telemetry provider.
func WithMetrics(p *telemetry.Provider) Option {
	return func(e *Executor) { e.metrics = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithEmitter sets where action events are published.
func WithEmitter(em emitter.Emitter) Option {
	return func(e *Executor) { e.emitter = em }
}

// WithGuard adds a policy guard to verification.
func WithGuard(g Guard) Option {
	return func(e *Executor) { e.verifier = NewVerifier(g) }
}

// New creates an executor.
func New(inventory plugin.Inventory, actuator plugin.Actuator, cfg Config, opts ...Option) *Executor {
	e := &Executor{
		inventory: inventory,
		actuator:  actuator,
		cfg:       cfg,
		verifier:  NewVerifier(nil),
		emitter:   emitter.Nop{},
		logger:    log.Logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Act stops or terminates inst if it is still due. Failures are reported in
// the result and logged; Act never returns an error to the caller so one
// instance cannot abort the rest of a pass.
func (e *Executor) Act(ctx context.Context, inst *expiry.Instance) Result {
	ctx, span := e.metrics.StartSpan(ctx, "executor.act",
		attribute.String("instance.id", inst.ID),
		attribute.String("action", inst.Action.Verb()),
	)
	defer span.End()

	logger := e.logger.With().Ctx(ctx).
		Str("instance_id", inst.ID).
		Str("action", inst.Action.Verb()).
		Logger()

	res := Result{
		InstanceID: inst.ID,
		Action:     inst.Action,
		StartTime:  e.now(),
	}

	logger.Debug().
		Str("state", inst.State).
		Str("expiration", inst.Expiration.String()).
		Msg("Found expired EC2 instance")

	switch {
	case inst.Action != expiry.ActionStop && inst.Action != expiry.ActionTerminate:
		err := fmt.Errorf("instance %s: unexpected action %q", inst.ID, inst.Action)
		logger.Error().Err(err).Msg("Failed to handle expired EC2 instance")
		return e.fail(ctx, res, err)

	case !e.cfg.Enabled(inst.Action):
		logger.Info().Msgf("NOT %s expired EC2 instance (%s action disabled): %s",
			progressive(inst.Action), inst.Action.Verb(), inst.ID)
		return e.skip(ctx, res, inst.Action.Verb()+" action disabled")

	case inst.Action == expiry.ActionStop && !inst.IsRunning():
		logger.Debug().Msgf("NOT stopping expired EC2 instance (instance not running): %s", inst.ID)
		return e.skip(ctx, res, "instance not running")
	}

	checks, err := e.verify(ctx, inst)
	res.Checks = checks
	if err != nil {
		logger.Error().Err(err).Msgf("Aborting %s of EC2 instance (failed verification): %s",
			noun(inst.Action), inst.ID)
		e.metrics.RecordVerificationFailure(ctx, inst.Action.Verb())
		span.SetStatus(codes.Error, "verification failed")
		return e.fail(ctx, res, err)
	}

	if e.cfg.DryRun {
		logger.Info().Msgf("dry run: would %s EC2 instance: %s", inst.Action.Verb(), inst.ID)
		res.Status = StatusDryRun
		e.metrics.RecordAction(ctx, inst.Action.Verb(), string(StatusDryRun))
		return e.finish(res)
	}

	if err := e.actuate(ctx, inst); err != nil {
		logger.Error().Err(err).Msgf("Failed to %s EC2 instance: %s", inst.Action.Verb(), inst.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return e.fail(ctx, res, err)
	}

	// The text of these lines is matched by external log metric filters.
	logger.Info().Msgf("%s EC2 instance: %s", inst.Action.Past(), inst.ID)
	res.Status = StatusSuccess
	e.metrics.RecordAction(ctx, inst.Action.Verb(), string(StatusSuccess))

	res.Notified = e.notify(ctx, logger, inst)
	return e.finish(res)
}

// verify rebuilds the instance from a fresh describe and runs the verifier.
// The batch's cached model is never reused.
func (e *Executor) verify(ctx context.Context, inst *expiry.Instance) ([]Check, error) {
	c := &Candidate{
		Planned: inst,
		Now:     e.now(),
		Config:  e.cfg,
	}

	r, err := e.inventory.DescribeInstance(ctx, inst.ID)
	switch {
	case err != nil:
		c.BuildErr = fmt.Errorf("describe instance: %w", err)
	default:
		c.Resource = r
		c.Fresh, c.BuildErr = expiry.Build(*r, e.cfg.TagKeys)
	}

	return e.verifier.Verify(ctx, c)
}

func (e *Executor) actuate(ctx context.Context, inst *expiry.Instance) error {
	switch inst.Action {
	case expiry.ActionStop:
		return e.actuator.Stop(ctx, inst.ID)
	case expiry.ActionTerminate:
		return e.actuator.Terminate(ctx, inst.ID)
	default:
		return fmt.Errorf("unexpected action %q", inst.Action)
	}
}

// notify publishes the action event. Failures are logged and never undo or
// fail the action already taken.
func (e *Executor) notify(ctx context.Context, logger zerolog.Logger, inst *expiry.Instance) bool {
	err := e.emitter.Emit(ctx, emitter.Event{
		Action:     inst.Action,
		InstanceID: inst.ID,
		Time:       e.now(),
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to emit event for action")
		return false
	}
	return true
}

func (e *Executor) skip(ctx context.Context, res Result, reason string) Result {
	res.Status = StatusSkipped
	res.SkipReason = reason
	e.metrics.RecordAction(ctx, res.Action.Verb(), string(StatusSkipped))
	return e.finish(res)
}

func (e *Executor) fail(ctx context.Context, res Result, err error) Result {
	res.Status = StatusFailed
	res.Err = err
	res.Error = err.Error()
	outcome := string(StatusFailed)
	if errors.Is(err, ErrVerification) {
		outcome = "verification_failed"
	}
	e.metrics.RecordAction(ctx, res.Action.Verb(), outcome)
	return e.finish(res)
}

func (e *Executor) finish(res Result) Result {
	res.EndTime = e.now()
	res.Duration = res.EndTime.Sub(res.StartTime)
	return res
}

func progressive(a expiry.Action) string {
	if a == expiry.ActionTerminate {
		return "terminating"
	}
	return "stopping"
}

func noun(a expiry.Action) string {
	if a == expiry.ActionTerminate {
		return "termination"
	}
	return "stop"
}
