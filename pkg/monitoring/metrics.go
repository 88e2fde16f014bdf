package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Service name for metrics
	ServiceName = "stopsync"
)

// Stages of a stop within one region, as reported in the run summary.
const (
	StageExamined   = "examined"
	StageReference  = "in_reference"
	StageMatched    = "matched"
	StageModified   = "modified"
	StageDeleted    = "deleted"
	StageNew        = "new"
	StageUserEdited = "user_edited"
	StageOther      = "other"
)

var (
	// Reconciliation metrics
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stopsync_actions_total",
			Help: "Total number of classified actions per region",
		},
		[]string{"region", "action"},
	)

	StopsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stopsync_stops_total",
			Help: "Stops counted per region and summary stage",
		},
		[]string{"region", "stage"},
	)

	RegionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stopsync_region_duration_seconds",
			Help:    "Time spent reconciling one region",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"region"},
	)

	// External service metrics
	ExternalServiceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stopsync_external_service_requests_total",
			Help: "Total number of external service requests",
		},
		[]string{"service", "operation", "status"},
	)

	ExternalServiceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stopsync_external_service_request_duration_seconds",
			Help:    "External service request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 180.0},
		},
		[]string{"service", "operation"},
	)

	// Rate limiting metrics
	RateLimitWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stopsync_rate_limit_wait_duration_seconds",
			Help:    "Time spent waiting for rate limits",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"service"},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stopsync_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// System metrics
	SystemInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stopsync_system_info",
			Help: "System information",
		},
		[]string{"version", "go_version", "build_commit", "build_date"},
	)

	LastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stopsync_last_run_timestamp_seconds",
			Help: "Unix time the last run completed",
		},
	)

	MemoryUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stopsync_memory_usage_bytes",
			Help: "Memory usage in bytes",
		},
	)
)

// Helper functions for common metric updates

// RecordAction counts one classified action in a region.
func RecordAction(region, action string) {
	ActionsTotal.WithLabelValues(region, action).Inc()
}

// RecordStops adds n stops to the given summary stage of a region.
func RecordStops(region, stage string, n int) {
	if n <= 0 {
		return
	}
	StopsTotal.WithLabelValues(region, stage).Add(float64(n))
}

func RecordRegionDuration(region string, duration time.Duration) {
	RegionDuration.WithLabelValues(region).Observe(duration.Seconds())
}

func RecordExternalServiceRequest(service, operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	ExternalServiceRequestsTotal.WithLabelValues(service, operation, status).Inc()
	ExternalServiceRequestDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

func RecordRateLimitWait(service string, duration time.Duration) {
	RateLimitWaitTime.WithLabelValues(service).Observe(duration.Seconds())
}

func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
