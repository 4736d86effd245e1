package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricExporters parses OTEL_METRICS_EXPORTER, a comma separated list of
// "otlp" and "prometheus". Unset means otlp when an OTLP endpoint is present.
func MetricExporters() map[string]bool {
	raw := os.Getenv("OTEL_METRICS_EXPORTER")
	if raw == "" {
		if otlpEndpoint() != "" {
			return map[string]bool{"otlp": true}
		}
		return map[string]bool{}
	}
	out := make(map[string]bool)
	for _, name := range strings.Split(raw, ",") {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" && name != "none" {
			out[name] = true
		}
	}
	return out
}

// InitMeterProvider installs a MeterProvider with the readers selected by
// MetricExporters. The returned handler serves /metrics when the prometheus
// reader is enabled and is nil otherwise.
func InitMeterProvider(ctx context.Context, clusterName string) (ShutdownFunc, http.Handler, error) {
	exporters := MetricExporters()
	if len(exporters) == 0 {
		slog.Info("telemetry: metrics disabled")
		return noopShutdown, nil, nil
	}

	res, err := newResource(clusterName)
	if err != nil {
		return nil, nil, err
	}
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	var handler http.Handler
	for name := range exporters {
		switch name {
		case "otlp":
			exp, err := otlpmetricgrpc.New(ctx)
			if err != nil {
				return nil, nil, fmt.Errorf("creating OTLP metric exporter: %w", err)
			}
			opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
		case "prometheus":
			registry := prometheus.NewRegistry()
			exp, err := promexporter.New(promexporter.WithRegisterer(registry))
			if err != nil {
				return nil, nil, fmt.Errorf("creating prometheus exporter: %w", err)
			}
			opts = append(opts, sdkmetric.WithReader(exp))
			handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
		default:
			return nil, nil, fmt.Errorf("unknown metric exporter %q", name)
		}
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	slog.Info("telemetry: metrics enabled", "exporters", exporters)
	return mp.Shutdown, handler, nil
}

// InitLoggerProvider exports slog records over OTLP. The returned handler is
// meant for config.SetupLogging and is nil when no endpoint is configured.
func InitLoggerProvider(ctx context.Context, clusterName string) (ShutdownFunc, slog.Handler, error) {
	if otlpEndpoint() == "" {
		return noopShutdown, nil, nil
	}

	exp, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("creating OTLP log exporter: %w", err)
	}
	res, err := newResource(clusterName)
	if err != nil {
		return nil, nil, err
	}

	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	)
	return lp.Shutdown, otelslog.NewHandler(ServiceName, otelslog.WithLoggerProvider(lp)), nil
}

// Shutdown runs every shutdown function and joins their errors.
func Shutdown(ctx context.Context, fns ...ShutdownFunc) error {
	var errs []error
	for _, fn := range fns {
		if fn == nil {
			continue
		}
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
