package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/yairfalse/lapse/executor"
	"github.com/yairfalse/lapse/internal/config"
	"github.com/yairfalse/lapse/internal/emitter"
	"github.com/yairfalse/lapse/internal/plugin/aws"
	"github.com/yairfalse/lapse/internal/reschedule"
	"github.com/yairfalse/lapse/internal/telemetry"
	"github.com/yairfalse/lapse/pkg/expiry"
	"github.com/yairfalse/lapse/policy"
	"github.com/yairfalse/lapse/reconciler"
	"github.com/yairfalse/lapse/storage"
)

// breakerCooldown is how long an open notification breaker stays open.
const breakerCooldown = 30 * time.Second

// appOptions tune buildApp for one command.
type appOptions struct {
	dryRun  bool
	readers []sdkmetric.Reader
}

// app holds everything one expiration pass needs.
type app struct {
	cfg        *config.Config
	plugin     *aws.Plugin
	telemetry  *telemetry.Provider
	emitter    emitter.Emitter
	store      *storage.Store
	schedule   reschedule.Store
	reconciler *reconciler.Reconciler
}

// newPlugin creates the AWS plugin from cfg.
func newPlugin(ctx context.Context, cfg *config.Config) (*aws.Plugin, error) {
	p, err := aws.New(ctx, aws.Config{
		Region:    cfg.AWS.Region,
		Profile:   cfg.AWS.Profile,
		TagPrefix: cfg.Expiry.TagPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("create aws plugin: %w", err)
	}
	return p, nil
}

// buildApp wires the plugin, notification emitters, guard policy, reschedule
// store, executor and reconciler from cfg.
func buildApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	p, err := newPlugin(ctx, cfg)
	if err != nil {
		return nil, err
	}

	provider, err := telemetry.NewProvider(ctx, cfg.OTEL, opts.readers...)
	if err != nil {
		return nil, fmt.Errorf("create telemetry provider: %w", err)
	}

	a := &app{cfg: cfg, plugin: p, telemetry: provider, emitter: newEmitter(cfg, p)}

	schedule, err := a.openSchedule(ctx)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.schedule = schedule

	keys := expiry.NewTagKeys(cfg.Expiry.TagPrefix)
	execOpts := []executor.Option{
		executor.WithLogger(log.Logger),
		executor.WithMetrics(provider),
		executor.WithEmitter(a.emitter),
	}
	if cfg.Guard.PolicyPath != "" {
		guard, err := policy.LoadGuard(ctx, cfg.Guard.PolicyPath)
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		execOpts = append(execOpts, executor.WithGuard(guard))
	}

	exec := executor.New(p, p, executor.Config{
		TagKeys:          keys,
		StopEnabled:      bool(cfg.Expiry.StopAction),
		TerminateEnabled: bool(cfg.Expiry.TerminateAction),
		DryRun:           opts.dryRun,
	}, execOpts...)

	resched := reschedule.New(schedule,
		reschedule.WithLogger(log.Logger),
		reschedule.WithMetrics(provider),
		reschedule.WithDryRun(opts.dryRun),
	)

	a.reconciler = reconciler.New(p, keys, exec, resched,
		reconciler.WithLogger(log.Logger),
		reconciler.WithMetrics(provider),
	)

	log.Info().
		Str("region", p.Region()).
		Str("tag_prefix", keys.Prefix).
		Bool("stop_action", bool(cfg.Expiry.StopAction)).
		Bool("terminate_action", bool(cfg.Expiry.TerminateAction)).
		Str("schedule_backend", cfg.Schedule.Backend).
		Bool("notify", cfg.NotifyEnabled()).
		Bool("guard", cfg.Guard.PolicyPath != "").
		Bool("dry_run", opts.dryRun).
		Msg("lapse configured")

	return a, nil
}

// openSchedule returns the reschedule store for the configured backend.
func (a *app) openSchedule(ctx context.Context) (reschedule.Store, error) {
	switch a.cfg.Schedule.Backend {
	case config.BackendLocal:
		store, err := storage.Open(a.cfg.Schedule.StorePath)
		if err != nil {
			return nil, err
		}
		a.store = store
		fireAt := time.Now().UTC().Add(a.cfg.Schedule.BackupInterval)
		if err := store.Ensure(ctx, recordName(a.cfg), fireAt); err != nil {
			return nil, fmt.Errorf("init reschedule record: %w", err)
		}
		return store, nil
	default:
		return a.plugin.ScheduleStore(a.cfg.Schedule.ParameterName), nil
	}
}

// recordName names the local reschedule record after the stack when known.
func recordName(cfg *config.Config) string {
	if cfg.StackName != "" {
		return cfg.StackName + "-NextSchedule"
	}
	return "lapse-NextSchedule"
}

// newEmitter combines the configured notification targets. Each target sits
// behind its own circuit breaker.
func newEmitter(cfg *config.Config, p *aws.Plugin) emitter.Emitter {
	var targets []emitter.Emitter
	if cfg.Notify.EventBusName != "" {
		targets = append(targets, emitter.NewBreakerEmitter("eventbridge",
			p.EventBridgeEmitter(cfg.Notify.EventBusName, cfg.Notify.Source),
			cfg.Notify.BreakerThreshold, breakerCooldown))
	}
	if cfg.Notify.SNSTopicARN != "" {
		targets = append(targets, emitter.NewBreakerEmitter("sns",
			p.SNSEmitter(cfg.Notify.SNSTopicARN),
			cfg.Notify.BreakerThreshold, breakerCooldown))
	}
	if len(targets) == 0 {
		return emitter.Nop{}
	}
	return emitter.NewMultiEmitter(targets...)
}

// Close releases the store, emitters and telemetry.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.emitter != nil {
		errs = append(errs, a.emitter.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
