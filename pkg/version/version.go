// Package version exposes build information for stopsync.
package version

import (
	"fmt"
	"runtime"
)

// Set via -ldflags at build time.
var (
	BuildVersion = "0.1.0-dev"
	BuildCommit  = "unknown"
	BuildDate    = "unknown"
)

// Info returns build information as a map suitable for structured logging.
func Info() map[string]string {
	return map[string]string{
		"version":    BuildVersion,
		"commit":     BuildCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
	}
}

// String returns a one-line version description.
func String() string {
	return fmt.Sprintf("stopsync %s (commit %s, built %s, %s)", BuildVersion, BuildCommit, BuildDate, runtime.Version())
}

// Generator returns the generator string written into OSM documents.
func Generator() string {
	return "stopsync v" + BuildVersion
}
