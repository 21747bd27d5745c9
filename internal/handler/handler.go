// Package handler adapts an expiration pass to the Lambda SQS trigger.
package handler

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/lapse/reconciler"
)

// Runner runs one expiration pass.
type Runner interface {
	Run(ctx context.Context) (*reconciler.PassResult, error)
}

// Handler is the Lambda entry point.
type Handler struct {
	runner Runner
	logger zerolog.Logger
	newID  func() string
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithIDGenerator overrides how invocation IDs are made when the Lambda
// context has none.
func WithIDGenerator(fn func() string) Option {
	return func(h *Handler) { h.newID = fn }
}

// New creates a handler.
func New(runner Runner, opts ...Option) *Handler {
	h := &Handler{
		runner: runner,
		logger: log.Logger,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle logs why the invocation ran, then runs one pass. It always returns
// nil: the pass is payload independent, so a failed invocation would only be
// redelivered to produce the same outcome. Panics are recovered and logged.
func (h *Handler) Handle(ctx context.Context, evt events.SQSEvent) (err error) {
	logger := h.logger.With().Str("invocation_id", h.invocationID(ctx)).Logger()
	ctx = logger.WithContext(ctx)

	defer func() {
		if p := recover(); p != nil {
			logger.Error().
				Err(fmt.Errorf("panic: %v", p)).
				Str("stack", string(debug.Stack())).
				Msg("handler()")
			err = nil
		}
	}()

	h.logTriggers(logger, evt)

	res, runErr := h.runner.Run(ctx)
	if runErr != nil {
		logger.Error().Err(runErr).Msg("Expiration pass failed")
		return nil
	}

	logger.Info().
		Int("described", res.Described).
		Int("excluded", len(res.Excluded)).
		Int("acted", len(res.Results)).
		Int("failed", res.Failed()).
		Str("next_instance_id", res.NextID).
		Dur("duration", res.Duration).
		Msg("Expiration pass complete")
	return nil
}

func (h *Handler) invocationID(ctx context.Context) string {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID
	}
	return h.newID()
}

func (h *Handler) logTriggers(logger zerolog.Logger, evt events.SQSEvent) {
	for _, t := range ClassifyTrigger(evt) {
		e := logger.Info().Str("trigger", string(t.Kind))
		if t.Resource != "" {
			e = e.Str("resource", t.Resource)
		}
		if t.Kind == TriggerUnknown {
			e = e.Str("event", t.Raw)
		}
		e.Msgf("Trigger: %s", t.Label())
	}
}
