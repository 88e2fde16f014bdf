package monitoring

import (
	"fmt"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/NERVsystems/stopsync/pkg/version"
)

// UpdateSystemMetrics records build information and current memory usage.
func UpdateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.Set(float64(m.Alloc))

	info := version.Info()
	SystemInfo.WithLabelValues(
		info["version"],
		info["go_version"],
		info["commit"],
		info["build_date"],
	).Set(1)
}

// MarkRunComplete stamps the completion time of a successful run.
func MarkRunComplete(at time.Time) {
	LastRunTimestamp.Set(float64(at.Unix()))
}

// WriteTextfile writes every registered metric to path in the text exposition
// format, for pickup by the node_exporter textfile collector. The file is
// written to a temporary name and renamed into place.
func WriteTextfile(path string) error {
	return WriteTextfileFrom(prometheus.DefaultGatherer, path)
}

// WriteTextfileFrom is WriteTextfile for an explicit gatherer.
func WriteTextfileFrom(g prometheus.Gatherer, path string) error {
	if path == "" {
		return nil
	}
	UpdateSystemMetrics()
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
