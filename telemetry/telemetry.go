// Package telemetry counts connection lifecycle events with OpenTelemetry
// instruments and exposes their current values as snapshots.
package telemetry

import (
	"context"
	"fmt"

	"github.com/ridge/pistonen/reactor"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/ridge/pistonen"

// Instrument names
const (
	MetricAccepted = "pistonen.connections.accepted"
	MetricClosed   = "pistonen.connections.closed"
	MetricActive   = "pistonen.connections.active"
	MetricDuration = "pistonen.connection.duration"
)

// Metrics is a reactor.Observer recording connection metrics
type Metrics struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider

	accepted metric.Int64Counter
	closed   metric.Int64Counter
	active   metric.Int64UpDownCounter
	duration metric.Float64Histogram
}

// New creates the instruments
func New() (*Metrics, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter(meterName)

	m := &Metrics{reader: reader, provider: provider}
	var err error
	if m.accepted, err = meter.Int64Counter(MetricAccepted,
		metric.WithDescription("Connections accepted"),
		metric.WithUnit("{connection}")); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", MetricAccepted, err)
	}
	if m.closed, err = meter.Int64Counter(MetricClosed,
		metric.WithDescription("Connections ended, by reason"),
		metric.WithUnit("{connection}")); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", MetricClosed, err)
	}
	if m.active, err = meter.Int64UpDownCounter(MetricActive,
		metric.WithDescription("Connections currently served"),
		metric.WithUnit("{connection}")); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", MetricActive, err)
	}
	if m.duration, err = meter.Float64Histogram(MetricDuration,
		metric.WithDescription("Connection lifetime"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 1, 5, 10, 60, 300)); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", MetricDuration, err)
	}
	return m, nil
}

// Accepted implements reactor.Observer
func (m *Metrics) Accepted(info reactor.ConnInfo) {
	ctx := context.Background()
	transport := metric.WithAttributes(attribute.String("transport", string(info.Transport)))
	m.accepted.Add(ctx, 1, transport)
	m.active.Add(ctx, 1, transport)
}

// Closed implements reactor.Observer
func (m *Metrics) Closed(info reactor.ConnInfo, reason reactor.Reason, err error) {
	ctx := context.Background()
	transport := attribute.String("transport", string(info.Transport))
	m.active.Add(ctx, -1, metric.WithAttributes(transport))
	m.closed.Add(ctx, 1, metric.WithAttributes(transport, attribute.String("reason", string(reason))))
	m.duration.Record(ctx, sinceSeconds(info.Accepted), metric.WithAttributes(transport))
}

// Shutdown releases the meter provider
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
