// Package telemetry installs the global OpenTelemetry providers the
// pipeline emits spans and stage-transition records through. Without a
// configured exporter the globals stay no-ops and instrumented code runs
// without overhead.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/scorehub/scorehub/internal/config"
)

// ServiceName identifies this process in exported telemetry.
const ServiceName = "scorehub"

// Accepted traces_exporter selectors.
const (
	ExporterNone     = "none"
	ExporterStdout   = "stdout"
	ExporterOTLPGRPC = "otlp-grpc"
	ExporterOTLPHTTP = "otlp-http"
)

// ShutdownFunc flushes and stops the configured providers.
type ShutdownFunc func(ctx context.Context) error

// Setup installs the global tracer provider selected by the telemetry config
// and, when stage events are enabled, a logger provider that carries the
// pipeline's run-state transitions to stdout. The returned shutdown flushes
// everything that was installed and is safe to call when nothing was.
func Setup(ctx context.Context, conf *config.TelemetryConfig, logger *slog.Logger) (ShutdownFunc, error) {
	if conf == nil {
		conf = &config.TelemetryConfig{}
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to describe the service resource: %w", err)
	}

	var shutdowns []ShutdownFunc

	exporter, err := newTraceExporter(ctx, conf)
	if err != nil {
		return nil, err
	}
	if exporter != nil {
		provider := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(provider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{}))
		shutdowns = append(shutdowns, provider.Shutdown)
	}

	if conf.StageEvents {
		events, err := stdoutlog.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create the stage event exporter: %w", err)
		}
		provider := sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(events)),
			sdklog.WithResource(res),
		)
		global.SetLoggerProvider(provider)
		shutdowns = append(shutdowns, provider.Shutdown)
	}

	logger.Info("Telemetry configured",
		"traces_exporter", exporterName(conf), "stage_events", conf.StageEvents)
	return combine(shutdowns), nil
}

func newTraceExporter(ctx context.Context, conf *config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	switch exporterName(conf) {
	case ExporterNone:
		return nil, nil
	case ExporterStdout:
		return stdouttrace.New()
	case ExporterOTLPGRPC:
		options := []otlptracegrpc.Option{}
		if conf.Endpoint != "" {
			options = append(options, otlptracegrpc.WithEndpoint(conf.Endpoint))
		}
		if conf.Insecure {
			options = append(options,
				otlptracegrpc.WithInsecure(),
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		}
		return otlptracegrpc.New(ctx, options...)
	case ExporterOTLPHTTP:
		options := []otlptracehttp.Option{}
		if conf.Endpoint != "" {
			options = append(options, otlptracehttp.WithEndpoint(conf.Endpoint))
		}
		if conf.Insecure {
			options = append(options, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, options...)
	default:
		return nil, fmt.Errorf("unsupported traces exporter %q", conf.TracesExporter)
	}
}

func exporterName(conf *config.TelemetryConfig) string {
	name := strings.ToLower(strings.TrimSpace(conf.TracesExporter))
	if name == "" {
		return ExporterNone
	}
	return name
}

// combine runs the provider shutdowns in reverse installation order so the
// log pipeline flushes before the tracer that may still reference it.
func combine(shutdowns []ShutdownFunc) ShutdownFunc {
	return func(ctx context.Context) error {
		var errs []error
		for i := len(shutdowns) - 1; i >= 0; i-- {
			if err := shutdowns[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
