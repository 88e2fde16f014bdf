package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/NERVsystems/stopsync/pkg/reconcile"
	"github.com/NERVsystems/stopsync/pkg/region"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{EnvOSMUser, EnvOSMPassword, EnvHistoryDSN, EnvOverpassURL} {
		t.Setenv(env, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Threshold != 1.0 || cfg.StationMargin != 100 || cfg.QuayMargin != 20 {
		t.Errorf("unexpected distance settings %v %v %v", cfg.Threshold, cfg.StationMargin, cfg.QuayMargin)
	}
	if cfg.RetentionDays != 365 || cfg.Overpass.Parallel != 1 {
		t.Errorf("retention %d parallel %d", cfg.RetentionDays, cfg.Overpass.Parallel)
	}
	if cfg.SnapshotPath() != "stopsync.osm" || cfg.AuditPath() != "stopsync_log.txt" {
		t.Errorf("output paths %s %s", cfg.SnapshotPath(), cfg.AuditPath())
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "stopsync.yml", `
trusted_editors: [nsr2osm, busbot]
threshold: 2.5
legacy: modify
excluded_regions: ["50", "19"]
excluded_quays: ["7001"]
regions:
  - code: "42"
    name: Agder
overpass:
  timeout: 90s
  parallel: 3
history:
  driver: postgres
  dsn: postgres://localhost/stopsync
output:
  base: /tmp/run
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !reflect.DeepEqual(cfg.TrustedEditors, []string{"nsr2osm", "busbot"}) {
		t.Errorf("trusted editors %v", cfg.TrustedEditors)
	}
	if cfg.Overpass.Timeout != 90*time.Second || cfg.Overpass.Parallel != 3 {
		t.Errorf("overpass %+v", cfg.Overpass)
	}
	if cfg.Overpass.AdminLevel != "4" || cfg.Overpass.Endpoint == "" {
		t.Error("unset overpass fields keep their defaults")
	}
	if len(cfg.Regions) != 1 || cfg.Regions[0] != (region.Region{Code: "42", Name: "Agder"}) {
		t.Errorf("regions %v", cfg.Regions)
	}
	if cfg.History.Driver != "postgres" {
		t.Errorf("history driver %s", cfg.History.Driver)
	}
	if cfg.AuditPath() != "/tmp/run_log.txt" {
		t.Errorf("audit path %s", cfg.AuditPath())
	}

	rc, err := cfg.Reconcile(time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if rc.Legacy != reconcile.LegacyModify || rc.Threshold != 2.5 || rc.Parallel != 3 {
		t.Errorf("reconcile config %+v", rc)
	}
	if !reflect.DeepEqual(rc.ExcludedRegions, []string{"50", "19"}) {
		t.Errorf("excluded regions %v", rc.ExcludedRegions)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvOSMUser, "mapper")
	t.Setenv(EnvOSMPassword, "secret")
	t.Setenv(EnvHistoryDSN, "/var/lib/stopsync/history.db")

	path := writeFile(t, "stopsync.yml", "upload:\n  enabled: true\n  user: ignored\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Upload.User != "mapper" || cfg.Upload.Password != "secret" {
		t.Errorf("credentials %q %q", cfg.Upload.User, cfg.Upload.Password)
	}
	if cfg.History.DSN != "/var/lib/stopsync/history.db" {
		t.Errorf("dsn %q", cfg.History.DSN)
	}
	uc := cfg.Uploader()
	if uc.User != "mapper" || uc.BaseURL != cfg.Upload.APIURL {
		t.Errorf("uploader config %+v", uc)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"legacy mode", "legacy: sometimes\n", "Legacy"},
		{"region code", "excluded_regions: [\"5\"]\n", "ExcludedRegions"},
		{"listed region", "regions:\n  - code: \"4x\"\n    name: Agder\n", "Code"},
		{"parallel", "overpass:\n  parallel: 0\n", "Parallel"},
		{"driver", "history:\n  driver: mysql\n", "Driver"},
		{"upload without credentials", "upload:\n  enabled: true\n", "User"},
		{"no reference", "reference:\n  netex_url: \"\"\n", "netex_url or netex_path"},
		{"yaml", "threshold: [1\n", "parsing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(writeFile(t, "stopsync.yml", tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv(EnvOSMUser)
	path := writeFile(t, ".env", EnvOSMUser+"=from-dotenv\n")

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv(EnvOSMUser); got != "from-dotenv" {
		t.Errorf("%s = %q", EnvOSMUser, got)
	}
}
