package reconcile

import (
	"bytes"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/NERVsystems/stopsync/pkg/changeset"
	"github.com/NERVsystems/stopsync/pkg/history"
	"github.com/NERVsystems/stopsync/pkg/nsr"
	"github.com/NERVsystems/stopsync/pkg/osm"
	"github.com/NERVsystems/stopsync/pkg/region"
	"github.com/NERVsystems/stopsync/pkg/tracing"
)

var (
	agder    = region.Region{Code: "42", Name: "Agder"}
	rogaland = region.Region{Code: "11", Name: "Rogaland"}
	testDay  = time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TrustedEditors = []string{"nsr2osm"}
	cfg.Today = testDay
	return cfg
}

func stopNode(id int64, lon, lat float64, user string, tags map[string]string) *osm.Element {
	n := osm.NewNode(id, orb.Point{lon, lat})
	for k, v := range tags {
		n.SetTag(k, v)
	}
	n.Meta = &osm.Meta{
		Version:   2,
		User:      user,
		UID:       1,
		Timestamp: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		Changeset: 100,
	}
	return n
}

func station(id string, lon, lat float64, name string) *nsr.Stop {
	return &nsr.Stop{
		Kind:         nsr.Station,
		ID:           id,
		Location:     orb.Point{lon, lat},
		Name:         name,
		Municipality: "4204",
		Version:      "3",
	}
}

func quay(id string, lon, lat float64, name string) *nsr.Stop {
	return &nsr.Stop{
		Kind:         nsr.Quay,
		ID:           id,
		Location:     orb.Point{lon, lat},
		Name:         name,
		Municipality: "4204",
		StopType:     "onstreetBus",
		Version:      "1",
	}
}

func storeOf(stops ...*nsr.Stop) *nsr.Store {
	s := nsr.NewStore()
	for _, stop := range stops {
		s.Add(stop)
	}
	return s
}

type harness struct {
	engine *Engine
	out    *changeset.Assembler
	log    *bytes.Buffer
}

func newHarness(t *testing.T, cfg Config, in Inputs) *harness {
	t.Helper()
	if in.History == nil {
		in.History = history.NewSnapshot()
	}
	var buf bytes.Buffer
	out := changeset.NewAssembler()
	audit := changeset.NewAuditLog(&buf, "stopsync test", testDay)
	return &harness{
		engine: NewEngine(cfg, in, out, audit, nil),
		out:    out,
		log:    &buf,
	}
}

func (h *harness) auditText(t *testing.T) string {
	t.Helper()
	if err := h.engine.audit.Flush(); err != nil {
		t.Fatalf("flushing audit log: %v", err)
	}
	return h.log.String()
}

func (h *harness) find(typ osm.ElementType, id int64) *osm.Element {
	for _, e := range h.out.Elements() {
		if e.Type == typ && e.ID == id {
			return e
		}
	}
	return nil
}

func (h *harness) created() []*osm.Element {
	var out []*osm.Element
	for _, e := range h.out.Elements() {
		if e.ID < 0 {
			out = append(out, e)
		}
	}
	return out
}

// recordSpans routes stopsync spans to an in-memory recorder for the test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tracing.Use(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { tracing.Use(noop.NewTracerProvider()) })
	return sr
}

func endedSpan(t *testing.T, sr *tracetest.SpanRecorder, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, s := range sr.Ended() {
		if s.Name() == name {
			return s
		}
	}
	t.Fatalf("no %s span recorded", name)
	return nil
}

func spanAttr(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}
