package osm

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	gosm "github.com/paulmach/osm"

	"github.com/NERVsystems/stopsync/pkg/core"
	"github.com/NERVsystems/stopsync/pkg/tracing"
)

// UploaderConfig configures access to the OSM editing API.
type UploaderConfig struct {
	BaseURL  string
	User     string
	Password string
	Policy   core.RetryPolicy
	Timeout  time.Duration
	Base     http.RoundTripper
}

// Uploader submits osmChange documents through the OSM API 0.6 changeset
// protocol: open, upload, close.
type Uploader struct {
	cfg    UploaderConfig
	client *http.Client
	logger *slog.Logger
}

// NewUploader creates an uploader. A nil logger uses slog.Default().
func NewUploader(cfg UploaderConfig, logger *slog.Logger) *Uploader {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAPIURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	base := cfg.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: userAgentTransport{base},
		},
		logger: logger.With("component", "osm-api"),
	}
}

type changesetRequest struct {
	XMLName   xml.Name `xml:"osm"`
	Changeset struct {
		Tags gosm.Tags `xml:"tag"`
	} `xml:"changeset"`
}

// Open creates a changeset carrying tags and returns its id.
func (u *Uploader) Open(ctx context.Context, tags map[string]string) (int64, error) {
	var doc changesetRequest
	for k, v := range tags {
		doc.Changeset.Tags = append(doc.Changeset.Tags, gosm.Tag{Key: k, Value: v})
	}
	sort.Slice(doc.Changeset.Tags, func(i, j int) bool {
		return doc.Changeset.Tags[i].Key < doc.Changeset.Tags[j].Key
	})
	body, err := xml.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("encoding changeset: %w", err)
	}

	resp, err := u.do(ctx, http.MethodPut, "/changeset/create", body)
	if err != nil {
		return 0, fmt.Errorf("opening changeset: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("reading changeset id: %w", err)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, core.NewError(core.ErrParse, "changeset id is not a number").
			WithService(tracing.ServiceOSMAPI).
			WithBody(string(raw)).
			WithCause(err)
	}
	u.logger.Info("opened changeset", "changeset", id)
	return id, nil
}

// Upload posts an osmChange document to the open changeset id. The document's
// elements must already carry id as their changeset.
func (u *Uploader) Upload(ctx context.Context, id int64, change *gosm.Change) error {
	body, err := xml.Marshal(change)
	if err != nil {
		return fmt.Errorf("encoding osmChange: %w", err)
	}
	resp, err := u.do(ctx, http.MethodPost, fmt.Sprintf("/changeset/%d/upload", id), body)
	if err != nil {
		return fmt.Errorf("uploading changeset %d: %w", id, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	u.logger.Info("uploaded changeset", "changeset", id, "bytes", len(body))
	return nil
}

// Close closes the changeset.
func (u *Uploader) Close(ctx context.Context, id int64) error {
	resp, err := u.do(ctx, http.MethodPut, fmt.Sprintf("/changeset/%d/close", id), nil)
	if err != nil {
		return fmt.Errorf("closing changeset %d: %w", id, err)
	}
	resp.Body.Close()
	u.logger.Info("closed changeset", "changeset", id)
	return nil
}

func (u *Uploader) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	url := u.cfg.BaseURL + path
	factory := func(ctx context.Context) (*http.Request, error) {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, r)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "text/xml; charset=utf-8")
		if u.cfg.User != "" {
			req.SetBasicAuth(u.cfg.User, u.cfg.Password)
		}
		return req, nil
	}
	return core.Do(ctx, tracing.ServiceOSMAPI, factory, u.client, u.cfg.Policy)
}
