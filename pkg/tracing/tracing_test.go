package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

func record(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	Use(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { Use(noop.NewTracerProvider()) })
	return sr
}

func attrs(kvs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[string(kv.Key)] = kv.Value
	}
	return m
}

func TestInitTracingWithoutEndpoint(t *testing.T) {
	t.Setenv(EnvEndpoint, "")

	shutdown, err := InitTracing(context.Background(), "v1.2.3")
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := StartSpan(context.Background(), "reconcile.run")
	if span.IsRecording() {
		t.Error("spans must be no-ops without an endpoint")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestRunResource(t *testing.T) {
	t.Setenv(EnvEnvironment, "production")

	res, err := runResource(context.Background(), "v1.2.3")
	if err != nil {
		t.Fatalf("runResource: %v", err)
	}
	got := attrs(res.Attributes())
	tests := map[string]string{
		"service.name":           ServiceName,
		"service.version":        "v1.2.3",
		"deployment.environment": "production",
	}
	for key, want := range tests {
		if v := got[key]; v.AsString() != want {
			t.Errorf("%s = %q, want %q", key, v.AsString(), want)
		}
	}
}

func TestClientOptions(t *testing.T) {
	t.Setenv(EnvInsecure, "")
	if n := len(clientOptions("collector:4317")); n != 2 {
		t.Errorf("plaintext by default: %d options, want 2", n)
	}
	t.Setenv(EnvInsecure, "false")
	if n := len(clientOptions("collector:4317")); n != 1 {
		t.Errorf("TLS when OTLP_INSECURE=false: %d options, want 1", n)
	}
}

func TestFail(t *testing.T) {
	sr := record(t)

	_, span := StartSpan(context.Background(), "overpass.fetch_region")
	Fail(span, "TRANSIENT", errors.New("overpass unavailable"))
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("recorded %d spans", len(ended))
	}
	s := ended[0]
	if s.Status().Code != codes.Error || s.Status().Description != "TRANSIENT" {
		t.Errorf("status = %+v", s.Status())
	}
	if len(s.Events()) != 1 || s.Events()[0].Name != "exception" {
		t.Fatalf("events = %+v", s.Events())
	}
	ev := attrs(s.Events()[0].Attributes)
	if ev[AttrErrorCode].AsString() != "TRANSIENT" {
		t.Errorf("error code = %q", ev[AttrErrorCode].AsString())
	}
	if ev["exception.message"].AsString() != "overpass unavailable" {
		t.Errorf("exception message = %q", ev["exception.message"].AsString())
	}
}

func TestContextHelpers(t *testing.T) {
	sr := record(t)

	ctx, span := StartSpan(context.Background(), "http.request overpass")
	AddEvent(ctx, "rate_limit_wait")
	SetAttributes(ctx, attribute.String(AttrRateLimitService, ServiceOverpass))
	span.End()

	// No span in the context: both are no-ops.
	AddEvent(context.Background(), "ignored")
	SetAttributes(context.Background(), attribute.Bool("ignored", true))

	s := sr.Ended()[0]
	if len(s.Events()) != 1 || s.Events()[0].Name != "rate_limit_wait" {
		t.Errorf("events = %+v", s.Events())
	}
	if attrs(s.Attributes())[AttrRateLimitService].AsString() != ServiceOverpass {
		t.Errorf("attributes = %v", s.Attributes())
	}
}

func TestRegionAttributes(t *testing.T) {
	got := attrs(RegionAttributes("Agder", "42", 3, 812))
	if got[AttrRegionName].AsString() != "Agder" || got[AttrRegionCode].AsString() != "42" {
		t.Errorf("region %v", got)
	}
	if got[AttrRegionIndex].AsInt64() != 3 || got[AttrStopsCount].AsInt64() != 812 {
		t.Errorf("counts %v", got)
	}
}

func TestActionAttributes(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		want     int
	}{
		{"in place", 0, 3},
		{"moved", 28.6, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kvs := ActionAttributes("quay", "NSR:Quay:1", "relocate", tt.distance)
			if len(kvs) != tt.want {
				t.Fatalf("got %d attributes, want %d", len(kvs), tt.want)
			}
			got := attrs(kvs)
			if got[AttrAction].AsString() != "relocate" || got[AttrStopRef].AsString() != "NSR:Quay:1" {
				t.Errorf("attributes %v", got)
			}
			if tt.distance > 0 && got[AttrDistance].AsFloat64() != tt.distance {
				t.Errorf("distance = %v", got[AttrDistance].AsFloat64())
			}
		})
	}
}

func TestErrorAttributes(t *testing.T) {
	if got := ErrorAttributes("AUTH", nil); got != nil {
		t.Errorf("nil error gave %v", got)
	}
	if got := attrs(ErrorAttributes("AUTH", errors.New("401"))); got[AttrErrorCode].AsString() != "AUTH" {
		t.Errorf("attributes %v", got)
	}
}
