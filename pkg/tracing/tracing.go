// Package tracing wires OpenTelemetry into stopsync runs. A run is one trace:
// a reconcile.run span with one child per region, plus the HTTP spans of the
// fetches it made. Without an OTLP endpoint every span is a no-op.
package tracing

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	ServiceName = "stopsync"
	TracerName  = "github.com/NERVsystems/stopsync"
)

// Environment variables read by InitTracing.
const (
	EnvEndpoint    = "OTLP_ENDPOINT"
	EnvInsecure    = "OTLP_INSECURE"
	EnvEnvironment = "ENVIRONMENT"
)

// Tracer starts every stopsync span.
var Tracer trace.Tracer = noop.NewTracerProvider().Tracer(TracerName)

// Use routes spans to tp.
func Use(tp trace.TracerProvider) {
	Tracer = tp.Tracer(TracerName)
}

// InitTracing exports spans over OTLP/gRPC when OTLP_ENDPOINT is set. The
// connection is plaintext unless OTLP_INSECURE=false. The returned function
// flushes pending spans.
func InitTracing(ctx context.Context, version string) (shutdown func(context.Context) error, err error) {
	endpoint := os.Getenv(EnvEndpoint)
	if endpoint == "" {
		Use(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(clientOptions(endpoint)...))
	if err != nil {
		return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
	}
	res, err := runResource(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	Use(tp)

	return func(ctx context.Context) error {
		flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(flushCtx)
	}, nil
}

func clientOptions(endpoint string) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if os.Getenv(EnvInsecure) != "false" {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return opts
}

func runResource(ctx context.Context, version string) (*resource.Resource, error) {
	env := os.Getenv(EnvEnvironment)
	if env == "" {
		env = "development"
	}
	return resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(version),
			attribute.String("deployment.environment", env),
		),
	)
}

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer.Start(ctx, name, opts...)
}

// Fail records err on span and marks it failed with the error code.
func Fail(span trace.Span, code string, err error) {
	span.RecordError(err, trace.WithAttributes(ErrorAttributes(code, err)...))
	span.SetStatus(codes.Error, code)
}

// AddEvent adds an event to the span in ctx, if it records.
func AddEvent(ctx context.Context, name string, opts ...trace.EventOption) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(name, opts...)
	}
}

// SetAttributes sets attributes on the span in ctx, if it records.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}
