// Package telemetry installs the OpenTelemetry tracer provider used by the
// sandbox, aggregator and orchestrator spans.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type Options struct {
	// Endpoint is the OTLP gRPC collector, e.g. "localhost:4317". Tracing is
	// off when empty.
	Endpoint    string
	Insecure    bool
	ServiceName string
	Version     string
	Timeout     time.Duration
}

// ShutdownFunc flushes and stops the exporter.
type ShutdownFunc func(context.Context) error

func noop(context.Context) error { return nil }

// Setup installs a global tracer provider exporting over OTLP/gRPC. Without
// an endpoint the global no-op provider stays in place.
func Setup(ctx context.Context, opts Options, logger *slog.Logger) (ShutdownFunc, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Endpoint == "" {
		logger.Debug("tracing disabled")
		return noop, nil
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "forgescan-engine"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	expOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(opts.Endpoint),
		otlptracegrpc.WithTimeout(opts.Timeout),
	}
	if opts.Insecure {
		expOpts = append(expOpts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	cctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	exporter, err := otlptracegrpc.New(cctx, expOpts...)
	if err != nil {
		return noop, fmt.Errorf("otlp exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(opts.ServiceName),
		semconv.ServiceVersion(opts.Version),
		attribute.String("service.component", "scan-engine"),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing enabled", "endpoint", opts.Endpoint)

	return tp.Shutdown, nil
}
