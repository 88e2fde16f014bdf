package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/NERVsystems/stopsync/pkg/changeset"
	"github.com/NERVsystems/stopsync/pkg/config"
	"github.com/NERVsystems/stopsync/pkg/core"
	"github.com/NERVsystems/stopsync/pkg/history"
	"github.com/NERVsystems/stopsync/pkg/monitoring"
	"github.com/NERVsystems/stopsync/pkg/nsr"
	"github.com/NERVsystems/stopsync/pkg/osm"
	"github.com/NERVsystems/stopsync/pkg/reconcile"
	"github.com/NERVsystems/stopsync/pkg/region"
	"github.com/NERVsystems/stopsync/pkg/tracing"
	ver "github.com/NERVsystems/stopsync/pkg/version"
)

type runOptions struct {
	*rootOptions
	upload  bool
	yes     bool
	regions []string
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reconcile every region and write the change set",
		Long: `Load the stop register and the timetable, fetch every region from
Overpass and reconcile it. The edits are written to <base>.osm for review
in JOSM and appended to <base>_log.txt. With --upload they are also sent to
the OSM API once confirmed. The history database is only updated after a
successful run, and in upload mode only after the upload was confirmed.

Example:
  stopsync run --config stopsync.yml
  stopsync run --region 42 --region 11 --debug
  STOPSYNC_OSM_USER=me STOPSYNC_OSM_PASSWORD=... stopsync run --upload`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runReconcile(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.upload, "upload", false, "upload the change set to the OSM API")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "upload without asking for confirmation")
	cmd.Flags().StringSliceVar(&opts.regions, "region", nil, "only reconcile these region codes")
	return cmd
}

func runReconcile(ctx context.Context, opts *runOptions, in io.Reader, out io.Writer) error {
	logger := opts.logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := config.Load(opts.configFile())
	if err != nil {
		return err
	}
	upload := cfg.Upload.Enabled || opts.upload
	if upload && (cfg.Upload.User == "" || cfg.Upload.Password == "") {
		return fmt.Errorf("upload needs %s and %s", config.EnvOSMUser, config.EnvOSMPassword)
	}

	shutdownTracing, err := tracing.InitTracing(ctx, ver.BuildVersion)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Error("error shutting down tracing", "error", err)
			}
		}()
	}
	setMonitoringHooks()

	started := time.Now()
	logger.Info("starting run",
		"version", ver.BuildVersion,
		"config", opts.configFile(),
		"upload", upload,
		"legacy", cfg.Legacy,
		"parallel", cfg.Overpass.Parallel,
	)

	ref, err := loadReference(ctx, cfg, logger)
	if err != nil {
		return err
	}
	usage, err := loadUsage(cfg.Reference.GTFSPath, logger)
	if err != nil {
		return err
	}
	ref.Store.ApplyRouteUsage(usage)

	hs, err := history.Open(ctx, cfg.History.Driver, cfg.History.DSN, logger)
	if err != nil {
		return err
	}
	defer hs.Close()
	previous, err := hs.Load(ctx)
	if err != nil {
		return err
	}
	merged := history.Merge(previous, ref.Store, usage, started)

	regions, err := loadRegions(ctx, cfg, opts.regions)
	if err != nil {
		return err
	}

	rc, err := cfg.Reconcile(started)
	if err != nil {
		return err
	}
	assembler := changeset.NewAssembler()
	var auditBuf bytes.Buffer
	audit := changeset.NewAuditLog(&auditBuf, ver.Generator(), started)
	engine := reconcile.NewEngine(rc, reconcile.Inputs{
		Store:   ref.Store,
		Usage:   usage,
		History: previous,
	}, assembler, audit, logger)

	summary, err := engine.Run(ctx, osm.NewFetcher(cfg.Fetcher(), logger), regions)
	if err != nil {
		monitoring.RecordError("reconcile", string(core.CodeOf(err)))
		return fmt.Errorf("run aborted, nothing written: %w", err)
	}
	if err := audit.Flush(); err != nil {
		return fmt.Errorf("writing audit log: %w", err)
	}
	if err := writeOutputs(cfg, assembler, auditBuf.Bytes()); err != nil {
		return err
	}
	summary.Log(logger)
	logger.Info("wrote change set",
		"snapshot", cfg.SnapshotPath(),
		"audit", cfg.AuditPath(),
		"run_id", audit.RunID(),
	)

	if upload {
		pending := len(assembler.Pending())
		switch {
		case pending == 0:
			logger.Info("nothing to upload")
		case !opts.yes:
			ok, err := confirm(in, out, fmt.Sprintf("Upload %d changed elements to %s?", pending, cfg.Upload.APIURL))
			if err != nil {
				return err
			}
			if !ok {
				logger.Info("upload declined, history not saved")
				finishMetrics(cfg, logger)
				return nil
			}
			fallthrough
		default:
			if err := uploadChanges(ctx, cfg, assembler, logger); err != nil {
				return err
			}
		}
	}

	if err := hs.Save(ctx, merged, time.Now()); err != nil {
		return err
	}
	finishMetrics(cfg, logger)
	return nil
}

func setMonitoringHooks() {
	core.SetMonitoringHooks(&core.MonitoringHooks{
		OnResponse: func(service, operation string, duration time.Duration, success bool) {
			monitoring.RecordExternalServiceRequest(service, operation, duration, success)
		},
		OnRateLimit: func(service string, waitTime time.Duration) {
			monitoring.RecordRateLimitWait(service, waitTime)
		},
		OnError: func(service, errorType string) {
			monitoring.RecordError(service, errorType)
		},
	})
}

// loadReference reads the stop register from the configured file, or
// downloads it next to the outputs first.
func loadReference(ctx context.Context, cfg config.Config, logger *slog.Logger) (*nsr.LoadResult, error) {
	path := cfg.Reference.NeTExPath
	if path == "" {
		path = cfg.Output.Base + "_netex.zip"
		n, err := nsr.Download(ctx, cfg.Reference.NeTExURL, path, core.DefaultClient, cfg.Policy())
		if err != nil {
			return nil, err
		}
		logger.Info("downloaded stop register", "url", cfg.Reference.NeTExURL, "bytes", n)
	}

	var (
		r   io.ReadCloser
		err error
	)
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		r, err = nsr.OpenNeTExZip(path)
	} else {
		r, err = os.Open(path)
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return nsr.LoadNeTEx(r, logger)
}

// loadUsage returns nil without a timetable.
func loadUsage(path string, logger *slog.Logger) (*nsr.RouteUsage, error) {
	if path == "" {
		logger.Info("no timetable configured, route_ref and quay usage are not checked")
		return nil, nil
	}
	usage, err := nsr.LoadRouteUsage(path)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded timetable", "path", path, "quays_served", usage.Len())
	return usage, nil
}

func loadRegions(ctx context.Context, cfg config.Config, only []string) ([]region.Region, error) {
	var catalog *region.Catalog
	if len(cfg.Regions) > 0 {
		catalog = region.NewCatalog(cfg.Regions)
	} else {
		var err error
		catalog, err = region.Fetch(ctx, cfg.RegionsURL, core.DefaultClient, cfg.Policy())
		if err != nil {
			return nil, err
		}
	}
	return selectRegions(catalog, only)
}

// selectRegions restricts the catalog to the given codes, keeping code order.
func selectRegions(catalog *region.Catalog, only []string) ([]region.Region, error) {
	if len(only) == 0 {
		return catalog.Regions(), nil
	}
	picked := make([]region.Region, 0, len(only))
	for _, code := range only {
		r, ok := catalog.Lookup(code)
		if !ok {
			return nil, fmt.Errorf("unknown region %q", code)
		}
		picked = append(picked, r)
	}
	return region.NewCatalog(picked).Regions(), nil
}

func writeOutputs(cfg config.Config, a *changeset.Assembler, audit []byte) error {
	f, err := os.Create(cfg.SnapshotPath())
	if err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}
	if err := a.WriteSnapshot(f, ver.Generator()); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing snapshot: %w", err)
	}
	return appendFile(cfg.AuditPath(), audit)
}

// appendFile appends data to path, creating it if needed. Audit logs of
// earlier runs are never truncated.
func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("appending to %s: %w", path, err)
	}
	return f.Close()
}

func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("reading confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func uploadChanges(ctx context.Context, cfg config.Config, a *changeset.Assembler, logger *slog.Logger) error {
	err := submitChange(ctx, osm.NewUploader(cfg.Uploader(), logger), cfg, a)
	if core.IsCode(err, core.ErrAuth) {
		return fmt.Errorf("OSM API rejected the credentials, check %s and %s: %w", config.EnvOSMUser, config.EnvOSMPassword, err)
	}
	return err
}

func submitChange(ctx context.Context, up *osm.Uploader, cfg config.Config, a *changeset.Assembler) error {
	tags := map[string]string{
		"comment":    cfg.Upload.Comment,
		"created_by": ver.Generator(),
	}
	if cfg.Upload.Source != "" {
		tags["source"] = cfg.Upload.Source
	}

	id, err := up.Open(ctx, tags)
	if err != nil {
		return err
	}
	change, err := a.BuildChange(id, ver.Generator())
	if err == nil {
		err = up.Upload(ctx, id, change)
	}
	if cerr := up.Close(ctx, id); err == nil {
		err = cerr
	}
	return err
}

func finishMetrics(cfg config.Config, logger *slog.Logger) {
	monitoring.UpdateSystemMetrics()
	monitoring.MarkRunComplete(time.Now())
	if cfg.Output.MetricsTextfile == "" {
		return
	}
	if err := monitoring.WriteTextfile(cfg.Output.MetricsTextfile); err != nil {
		logger.Error("failed to write metrics", "path", cfg.Output.MetricsTextfile, "error", err)
	}
}
