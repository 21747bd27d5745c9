// Package telemetry provides OpenTelemetry instrumentation for lapse.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/lapse/internal/config"
)

const instrumentationName = "github.com/yairfalse/lapse"

// Provider wraps OTEL tracer and meter providers.
//
// A nil *Provider is valid: spans come from the global tracer and every
// Record method is a no-op.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	// Metrics
	actions              metric.Int64Counter
	verificationFailures metric.Int64Counter
	evaluated            metric.Int64Counter
	passDuration         metric.Float64Histogram
	reschedules          metric.Int64Counter
}

// NewProvider creates a new telemetry provider. Extra readers, such as the
// Prometheus exporter used by serve mode, are attached to the meter provider.
func NewProvider(ctx context.Context, cfg config.OTELConfig, readers ...sdkmetric.Reader) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{}

	if err := p.setupTracing(ctx, cfg, res); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(ctx, cfg, res, readers); err != nil {
		if p.tracerProvider != nil {
			_ = p.tracerProvider.Shutdown(ctx)
		}
		return nil, err
	}

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if cfg.Traces.Enabled && cfg.Endpoint != "" {
		exp, err := createTraceExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		sampler := sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate)
		opts = append(opts, sdktrace.WithBatcher(exp), sdktrace.WithSampler(sampler))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer(instrumentationName)

	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, cfg config.OTELConfig, res *resource.Resource, readers []sdkmetric.Reader) error {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
	}

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		exp, err := createMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter(instrumentationName)

	return nil
}

func createTraceExporter(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createMetricExporter(ctx context.Context, cfg config.OTELConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (p *Provider) initMetrics() error {
	var err error

	p.actions, err = p.meter.Int64Counter(
		"lapse_actions_total",
		metric.WithDescription("Expiration actions by action and outcome"),
	)
	if err != nil {
		return fmt.Errorf("create actions: %w", err)
	}

	p.verificationFailures, err = p.meter.Int64Counter(
		"lapse_verification_failures_total",
		metric.WithDescription("Actions aborted because re-verification failed"),
	)
	if err != nil {
		return fmt.Errorf("create verification_failures: %w", err)
	}

	p.evaluated, err = p.meter.Int64Counter(
		"lapse_instances_evaluated_total",
		metric.WithDescription("Instances evaluated per pass by result"),
	)
	if err != nil {
		return fmt.Errorf("create instances_evaluated: %w", err)
	}

	p.passDuration, err = p.meter.Float64Histogram(
		"lapse_pass_duration_seconds",
		metric.WithDescription("Duration of evaluation passes"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create pass_duration: %w", err)
	}

	p.reschedules, err = p.meter.Int64Counter(
		"lapse_reschedules_total",
		metric.WithDescription("Reschedule record writes by outcome"),
	)
	if err != nil {
		return fmt.Errorf("create reschedules: %w", err)
	}

	return nil
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	if p == nil {
		return otel.Meter(instrumentationName)
	}
	return p.meter
}

// StartSpan starts a new span.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordAction counts one executor outcome for an action.
func (p *Provider) RecordAction(ctx context.Context, action, outcome string) {
	if p == nil {
		return
	}
	p.actions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

// RecordVerificationFailure counts an action aborted by re-verification.
func (p *Provider) RecordVerificationFailure(ctx context.Context, action string) {
	if p == nil {
		return
	}
	p.verificationFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
	))
}

// RecordEvaluated counts instances by evaluation result (expired, future, excluded).
func (p *Provider) RecordEvaluated(ctx context.Context, result string, count int) {
	if p == nil || count == 0 {
		return
	}
	p.evaluated.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("result", result),
	))
}

// RecordPassDuration records how long one evaluation pass took.
func (p *Provider) RecordPassDuration(ctx context.Context, d time.Duration) {
	if p == nil {
		return
	}
	p.passDuration.Record(ctx, d.Seconds())
}

// RecordReschedule counts one reschedule attempt.
func (p *Provider) RecordReschedule(ctx context.Context, outcome string) {
	if p == nil {
		return
	}
	p.reschedules.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// Shutdown flushes and shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter: %w", err)
		}
	}
	return nil
}
