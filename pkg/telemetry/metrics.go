package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// WithAttrs returns a metric.MeasurementOption from attribute key-value pairs.
func WithAttrs(attrs ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributes(attrs...)
}

// Meters holds pre-created OTel metric instruments. A nil *Meters records nothing.
type Meters struct {
	// GenAI semantic convention metrics for MCP tool calls
	RequestDuration metric.Float64Histogram
	RequestCount    metric.Int64Counter

	DispatchTotal        metric.Int64Counter
	BackendDuration      metric.Float64Histogram
	ClassificationsTotal metric.Int64Counter
	ErrorsTotal          metric.Int64Counter
}

// NewMeters creates all instruments from the global MeterProvider.
func NewMeters() (*Meters, error) {
	meter := otel.Meter(ServiceName)
	m := &Meters{}
	var err error

	if m.RequestDuration, err = meter.Float64Histogram(
		"gen_ai.server.request.duration",
		metric.WithDescription("Duration of MCP tool call execution in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.RequestCount, err = meter.Int64Counter(
		"gen_ai.server.request.count",
		metric.WithDescription("Number of MCP tool call requests"),
	); err != nil {
		return nil, err
	}
	if m.DispatchTotal, err = meter.Int64Counter(
		"chatops.dispatch.total",
		metric.WithDescription("Inbound messages by resolved command kind"),
	); err != nil {
		return nil, err
	}
	if m.BackendDuration, err = meter.Float64Histogram(
		"chatops.backend.duration",
		metric.WithDescription("Duration of backend calls in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.ClassificationsTotal, err = meter.Int64Counter(
		"chatops.script.classifications.total",
		metric.WithDescription("Script discriminator decisions by kind and source"),
	); err != nil {
		return nil, err
	}
	if m.ErrorsTotal, err = meter.Int64Counter(
		"chatops.errors.total",
		metric.WithDescription("Failures surfaced to users by error kind"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// Dispatched counts one inbound message.
func (m *Meters) Dispatched(ctx context.Context, command string) {
	if m == nil {
		return
	}
	m.DispatchTotal.Add(ctx, 1, WithAttrs(attribute.String("command", command)))
}

// Backend records the duration of one backend call started at start.
func (m *Meters) Backend(ctx context.Context, backend string, start time.Time, errKind string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("backend", backend)}
	if errKind != "" {
		attrs = append(attrs, attribute.String("error.kind", errKind))
	}
	m.BackendDuration.Record(ctx, time.Since(start).Seconds(), WithAttrs(attrs...))
}

// Classified counts one discriminator decision.
func (m *Meters) Classified(ctx context.Context, kind, source string) {
	if m == nil {
		return
	}
	m.ClassificationsTotal.Add(ctx, 1, WithAttrs(
		attribute.String("script.kind", kind),
		attribute.String("script.source", source),
	))
}

// Failed counts one failure surfaced to a user or tool caller.
func (m *Meters) Failed(ctx context.Context, errKind, op string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.Add(ctx, 1, WithAttrs(
		attribute.String("error.kind", errKind),
		attribute.String("operation", op),
	))
}
