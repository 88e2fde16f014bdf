package nsr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/NERVsystems/stopsync/pkg/core"
	"github.com/NERVsystems/stopsync/pkg/tracing"
)

// DefaultNeTExURL is the national stop register export.
const DefaultNeTExURL = "https://storage.googleapis.com/marduk-production/tiamat/Current_latest.zip"

// Download fetches url into dest with the retry policy and returns the number
// of bytes written. The file is written next to dest and renamed into place, so
// a failed download never leaves a truncated archive behind.
func Download(ctx context.Context, url, dest string, client core.Doer, policy core.RetryPolicy) (int64, error) {
	factory := func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
	resp, err := core.Do(ctx, tracing.ServiceNeTEx, factory, client, policy)
	if err != nil {
		return 0, fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("creating download file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		return 0, core.NetworkError(tracing.ServiceNeTEx, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("writing download file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, fmt.Errorf("moving download into place: %w", err)
	}

	slog.Default().Info("downloaded reference feed", "url", url, "path", dest, "bytes", n)
	return n, nil
}
