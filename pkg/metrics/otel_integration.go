package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// OTelExporter wraps an OTLP metric exporter installed as the global meter provider.
type OTelExporter struct {
	provider *metric.MeterProvider
}

// NewOTelExporter pushes meters over OTLP HTTP to endpoint every interval.
func NewOTelExporter(ctx context.Context, serviceName, endpoint string, interval time.Duration) (*OTelExporter, error) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(endpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(interval))),
		metric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	return &OTelExporter{provider: provider}, nil
}

// Shutdown flushes pending points and stops the exporter.
func (e *OTelExporter) Shutdown(ctx context.Context) error {
	if e == nil || e.provider == nil {
		return nil
	}
	return e.provider.Shutdown(ctx)
}
