package telemetry

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/shulepay/shulepay/internal/config"
)

// Provider holds the initialized OTEL providers
type Provider struct {
	tracerProvider *trace.TracerProvider
	meterProvider  *metric.MeterProvider
}

// Initialize wires OTLP trace and metric export for the service. Returns
// (nil, nil) when telemetry is disabled. The OTLP endpoint is expected to
// speak Grafana Cloud's /otlp base path with basic-auth credentials.
func Initialize(ctx context.Context, cfg config.OTELConfig) (*Provider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	log.Printf("[Telemetry] initializing for %s (endpoint %s)", cfg.ServiceName, cfg.Endpoint)

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
			attribute.String("service.namespace", "shulepay"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	auth := base64.StdEncoding.EncodeToString([]byte(cfg.InstanceID + ":" + cfg.Token))
	headers := map[string]string{"Authorization": "Basic " + auth}

	traceExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithURLPath("/otlp/v1/traces"),
		otlptracehttp.WithHeaders(headers),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tracerProvider := trace.NewTracerProvider(
		trace.WithBatcher(traceExporter, trace.WithBatchTimeout(5*time.Second)),
		trace.WithResource(res),
		trace.WithSampler(trace.AlwaysSample()),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	metricExporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.Endpoint),
		otlpmetrichttp.WithURLPath("/otlp/v1/metrics"),
		otlpmetrichttp.WithHeaders(headers),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	meterProvider := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(metricExporter,
			metric.WithInterval(30*time.Second),
		)),
		metric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	return &Provider{tracerProvider: tracerProvider, meterProvider: meterProvider}, nil
}

// Shutdown flushes and stops both providers. Nil-safe so callers can defer
// it unconditionally.
func (p *Provider) Shutdown(ctx context.Context) {
	if p == nil {
		return
	}
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		log.Printf("[Telemetry] tracer shutdown: %v", err)
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		log.Printf("[Telemetry] meter shutdown: %v", err)
	}
}
