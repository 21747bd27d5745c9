package daemon

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DaemonMetrics holds serve-mode metrics using OTEL semantic conventions
type DaemonMetrics struct {
	passes             metric.Int64Counter
	passDuration       metric.Float64Histogram
	instancesDescribed metric.Int64Gauge
	storageOperations  metric.Int64Counter
}

// NewDaemonMetrics creates daemon metrics on meter.
func NewDaemonMetrics(meter metric.Meter) (*DaemonMetrics, error) {
	passes, err := meter.Int64Counter(
		"lapse.daemon.passes",
		metric.WithDescription("Number of expiration passes"),
		metric.WithUnit("{pass}"),
	)
	if err != nil {
		return nil, err
	}

	passDuration, err := meter.Float64Histogram(
		"lapse.daemon.pass.duration",
		metric.WithDescription("Duration of expiration passes"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	instancesDescribed, err := meter.Int64Gauge(
		"lapse.instances.described",
		metric.WithDescription("Number of in-scope instances in the last pass"),
		metric.WithUnit("{instance}"),
	)
	if err != nil {
		return nil, err
	}

	storageOperations, err := meter.Int64Counter(
		"lapse.storage.operations",
		metric.WithDescription("Number of local storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	return &DaemonMetrics{
		passes:             passes,
		passDuration:       passDuration,
		instancesDescribed: instancesDescribed,
		storageOperations:  storageOperations,
	}, nil
}

// RecordPass records a pass with status
func (m *DaemonMetrics) RecordPass(ctx context.Context, status string) {
	m.passes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("status", status),
		),
	)
}

// RecordPassDuration records pass duration
func (m *DaemonMetrics) RecordPassDuration(ctx context.Context, durationSeconds float64, status string) {
	m.passDuration.Record(ctx, durationSeconds,
		metric.WithAttributes(
			attribute.String("status", status),
		),
	)
}

// RecordInstancesDescribed records number of instances found
func (m *DaemonMetrics) RecordInstancesDescribed(ctx context.Context, count int64) {
	m.instancesDescribed.Record(ctx, count,
		metric.WithAttributes(
			attribute.String("cloud.provider", "aws"),
			attribute.String("resource.type", "ec2"),
		),
	)
}

// RecordStorageOperation records a storage operation
func (m *DaemonMetrics) RecordStorageOperation(ctx context.Context, operation string, status string, errorType string) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("status", status),
	}
	if errorType != "" {
		attrs = append(attrs, attribute.String("error.type", errorType))
	}

	m.storageOperations.Add(ctx, 1, metric.WithAttributes(attrs...))
}
