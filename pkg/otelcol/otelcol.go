// Package otelcol installs the process-wide OpenTelemetry tracer provider.
// Spans are exported over OTLP when TELEMETRY.EXPORTER is "http" or "grpc";
// otherwise the no-op global provider stays in place.
package otelcol

import (
	"context"
	"fmt"
	"time"

	"promohive/pkg/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("otelcol",
	fx.Invoke(Register),
)

func newExporter(ctx context.Context, cfg *config.Config) (*otlptrace.Exporter, error) {
	t := cfg.Telemetry
	switch t.Exporter {
	case "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithCompressor("gzip")}
		if t.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(t.Endpoint))
		}
		if t.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithCompression(otlptracehttp.GzipCompression)}
		if t.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(t.Endpoint))
		}
		if t.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", t.Exporter)
	}
}

// NewTracerProvider batches spans to exporter, tagging them with the
// service name and version.
func NewTracerProvider(cfg *config.Config, exporter sdktrace.SpanExporter) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.AppName),
		attribute.String("service.version", cfg.AppVersion),
		attribute.String("deployment.environment", cfg.AppEnv),
	)
	merged, err := resource.Merge(resource.Default(), res)
	if err != nil {
		merged = res
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(merged),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Telemetry.SampleRatio))),
	)
}

func Register(lc fx.Lifecycle, cfg *config.Config) error {
	if cfg.Telemetry.Exporter == "" {
		zap.L().Info("[Otel] tracing disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		zap.L().Error("[Otel] failed to create trace exporter", zap.Error(err))
		return err
	}

	tp := NewTracerProvider(cfg, exporter)
	otel.SetTracerProvider(tp)
	zap.L().Info("[Otel] tracing enabled", zap.String("exporter", cfg.Telemetry.Exporter), zap.String("endpoint", cfg.Telemetry.Endpoint))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return nil
}
