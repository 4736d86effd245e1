// Package telemetry wires OpenTelemetry traces, metrics and logs. Every
// exporter is optional; without OTEL_EXPORTER_OTLP_ENDPOINT the global no-op
// providers stay in place and the assistant works unchanged.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ServiceName is the instrumentation scope and service.name of every signal.
const ServiceName = "chatops-assistant"

// ShutdownFunc flushes and stops a provider.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

func otlpEndpoint() string {
	return os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
}

func newResource(clusterName string) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(ServiceName),
			attribute.String("k8s.cluster.name", clusterName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}
	return res, nil
}

// InitTracer initializes the OpenTelemetry TracerProvider.
// If OTEL_EXPORTER_OTLP_ENDPOINT is set, it creates an OTLP gRPC exporter.
// If not set, tracing is disabled (noop tracer).
// Returns a shutdown function that flushes pending spans.
func InitTracer(ctx context.Context, clusterName string) (ShutdownFunc, error) {
	endpoint := otlpEndpoint()
	if endpoint == "" {
		slog.Info("telemetry: tracing disabled (OTEL_EXPORTER_OTLP_ENDPOINT not set)")
		return noopShutdown, nil
	}

	exporter, err := otlptracegrpc.New(ctx) // reads OTEL_EXPORTER_OTLP_ENDPOINT automatically
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := newResource(clusterName)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	slog.Info("telemetry: tracing enabled", "endpoint", endpoint)
	return tp.Shutdown, nil
}
