package monitoring

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialization(t *testing.T) {
	metrics := []prometheus.Collector{
		ActionsTotal,
		StopsTotal,
		RegionDuration,
		ExternalServiceRequestsTotal,
		ExternalServiceRequestDuration,
		RateLimitWaitTime,
		ErrorsTotal,
		SystemInfo,
		LastRunTimestamp,
		MemoryUsage,
	}

	for _, metric := range metrics {
		if metric == nil {
			t.Error("Metric is nil")
		}
	}
}

func TestRecordAction(t *testing.T) {
	ActionsTotal.Reset()

	RecordAction("03", "modify")
	RecordAction("03", "modify")
	RecordAction("03", "delete")

	if got := testutil.ToFloat64(ActionsTotal.WithLabelValues("03", "modify")); got != 2 {
		t.Errorf("Expected 2 modify actions, got %v", got)
	}
	if got := testutil.ToFloat64(ActionsTotal.WithLabelValues("03", "delete")); got != 1 {
		t.Errorf("Expected 1 delete action, got %v", got)
	}
}

func TestRecordStops(t *testing.T) {
	StopsTotal.Reset()

	RecordStops("46", StageExamined, 12)
	RecordStops("46", StageExamined, 3)
	RecordStops("46", StageNew, 0)

	if got := testutil.ToFloat64(StopsTotal.WithLabelValues("46", StageExamined)); got != 15 {
		t.Errorf("Expected 15 examined stops, got %v", got)
	}
	if got := testutil.CollectAndCount(StopsTotal); got != 1 {
		t.Errorf("Expected zero counts to be skipped, got %d series", got)
	}
}

func TestRecordExternalServiceRequest(t *testing.T) {
	ExternalServiceRequestsTotal.Reset()

	RecordExternalServiceRequest("overpass", "GET", 500*time.Millisecond, true)
	if got := testutil.ToFloat64(ExternalServiceRequestsTotal.WithLabelValues("overpass", "GET", "success")); got != 1 {
		t.Errorf("Expected 1 successful external request, got %v", got)
	}

	RecordExternalServiceRequest("overpass", "GET", 300*time.Millisecond, false)
	if got := testutil.ToFloat64(ExternalServiceRequestsTotal.WithLabelValues("overpass", "GET", "error")); got != 1 {
		t.Errorf("Expected 1 failed external request, got %v", got)
	}
}

func TestErrorMetrics(t *testing.T) {
	ErrorsTotal.Reset()

	RecordError("overpass", "TRANSIENT")
	if got := testutil.ToFloat64(ErrorsTotal.WithLabelValues("overpass", "TRANSIENT")); got != 1 {
		t.Errorf("Expected 1 error, got %v", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "stopsync_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(7)

	path := filepath.Join(t.TempDir(), "stopsync.prom")
	if err := WriteTextfileFrom(reg, path); err != nil {
		t.Fatalf("WriteTextfileFrom failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading textfile: %v", err)
	}
	if !strings.Contains(string(data), "stopsync_test_total 7") {
		t.Errorf("textfile missing counter, got:\n%s", data)
	}
}

func TestWriteTextfileEmptyPath(t *testing.T) {
	if err := WriteTextfileFrom(prometheus.NewRegistry(), ""); err != nil {
		t.Errorf("expected no-op for empty path, got %v", err)
	}
}

func BenchmarkRecordAction(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		RecordAction("03", "modify")
	}
}
