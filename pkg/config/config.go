// Package config loads the run configuration from a YAML file, a .env file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/NERVsystems/stopsync/pkg/core"
	"github.com/NERVsystems/stopsync/pkg/history"
	"github.com/NERVsystems/stopsync/pkg/nsr"
	"github.com/NERVsystems/stopsync/pkg/osm"
	"github.com/NERVsystems/stopsync/pkg/reconcile"
	"github.com/NERVsystems/stopsync/pkg/region"
)

// Environment variables overriding the file. Credentials are normally only
// given this way.
const (
	EnvOSMUser     = "STOPSYNC_OSM_USER"
	EnvOSMPassword = "STOPSYNC_OSM_PASSWORD"
	EnvHistoryDSN  = "STOPSYNC_HISTORY_DSN"
	EnvOverpassURL = "STOPSYNC_OVERPASS_URL"
)

// DefaultFilename is read when no --config flag is given and the file exists.
const DefaultFilename = "stopsync.yml"

// Config is the complete run configuration.
type Config struct {
	TrustedEditors  []string        `yaml:"trusted_editors"`
	Threshold       float64         `yaml:"threshold" validate:"gte=0"`
	StationMargin   float64         `yaml:"station_margin" validate:"gte=0"`
	QuayMargin      float64         `yaml:"quay_margin" validate:"gte=0"`
	Legacy          string          `yaml:"legacy" validate:"omitempty,oneof=off on modify"`
	ExcludedRegions []string        `yaml:"excluded_regions" validate:"dive,numeric,len=2"`
	ExcludedQuays   []string        `yaml:"excluded_quays" validate:"dive,required"`
	RetentionDays   int             `yaml:"retention_days" validate:"gte=0"`
	Regions         []region.Region `yaml:"regions" validate:"dive"`
	RegionsURL      string          `yaml:"regions_url" validate:"omitempty,url"`

	Overpass  OverpassConfig  `yaml:"overpass"`
	Reference ReferenceConfig `yaml:"reference"`
	History   HistoryConfig   `yaml:"history"`
	Output    OutputConfig    `yaml:"output"`
	Upload    UploadConfig    `yaml:"upload"`
	Retry     RetryConfig     `yaml:"retry"`
}

// OverpassConfig configures the geographic snapshot queries.
type OverpassConfig struct {
	Endpoint   string        `yaml:"endpoint" validate:"required,url"`
	Timeout    time.Duration `yaml:"timeout" validate:"gt=0"`
	RPS        float64       `yaml:"rps" validate:"gte=0"`
	Burst      int           `yaml:"burst" validate:"gte=0"`
	Parallel   int           `yaml:"parallel" validate:"gte=1,lte=8"`
	AdminLevel string        `yaml:"admin_level" validate:"required,numeric"`
}

// ReferenceConfig locates the stop register export and the timetable. The
// export is downloaded from NeTExURL unless NeTExPath names a local file.
// Without GTFSPath route_ref is left alone and no quay is dropped for lack
// of trips.
type ReferenceConfig struct {
	NeTExURL  string `yaml:"netex_url" validate:"omitempty,url"`
	NeTExPath string `yaml:"netex_path"`
	GTFSPath  string `yaml:"gtfs_path"`
}

type HistoryConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `yaml:"dsn" validate:"required"`
}

// OutputConfig names the files a run writes: <base>.osm and <base>_log.txt.
type OutputConfig struct {
	Base            string `yaml:"base" validate:"required"`
	MetricsTextfile string `yaml:"metrics_textfile"`
}

// UploadConfig enables submitting the change set through the OSM API.
type UploadConfig struct {
	Enabled  bool   `yaml:"enabled"`
	APIURL   string `yaml:"api_url" validate:"required,url"`
	User     string `yaml:"user" validate:"required_if=Enabled true"`
	Password string `yaml:"password" validate:"required_if=Enabled true"`
	Comment  string `yaml:"comment" validate:"required_if=Enabled true"`
	Source   string `yaml:"source"`
}

type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" validate:"gte=1"`
	InitialDelay time.Duration `yaml:"initial_delay" validate:"gte=0"`
	MaxDelay     time.Duration `yaml:"max_delay" validate:"gtefield=InitialDelay"`
}

// Default returns the configuration used when the file sets nothing.
func Default() Config {
	rc := reconcile.DefaultConfig()
	return Config{
		TrustedEditors: rc.TrustedEditors,
		Threshold:      rc.Threshold,
		StationMargin:  rc.StationMargin,
		QuayMargin:     rc.QuayMargin,
		Legacy:         rc.Legacy.String(),
		RetentionDays:  rc.RetentionDays,
		RegionsURL:     region.DefaultCountyURL,
		Overpass: OverpassConfig{
			Endpoint:   osm.DefaultOverpassURL,
			Timeout:    200 * time.Second,
			RPS:        0.5,
			Burst:      1,
			Parallel:   rc.Parallel,
			AdminLevel: "4",
		},
		Reference: ReferenceConfig{NeTExURL: nsr.DefaultNeTExURL},
		History:   HistoryConfig{Driver: history.DriverSQLite, DSN: "stopsync.db"},
		Output:    OutputConfig{Base: "stopsync"},
		Upload: UploadConfig{
			APIURL:  osm.DefaultAPIURL,
			Comment: "Bus stops updated from the national stop register",
			Source:  "Entur national stop register",
		},
		Retry: RetryConfig{
			MaxAttempts:  core.DefaultRetryPolicy.MaxAttempts,
			InitialDelay: core.DefaultRetryPolicy.InitialDelay,
			MaxDelay:     core.DefaultRetryPolicy.MaxDelay,
		},
	}
}

// LoadDotEnv loads the given .env files into the environment, skipping those
// that do not exist. Variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path uses the defaults alone.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	for env, dst := range map[string]*string{
		EnvOSMUser:     &c.Upload.User,
		EnvOSMPassword: &c.Upload.Password,
		EnvHistoryDSN:  &c.History.DSN,
		EnvOverpassURL: &c.Overpass.Endpoint,
	} {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*dst = v
		}
	}
}

// Validate checks the field constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Reference.NeTExURL == "" && c.Reference.NeTExPath == "" {
		return errors.New("invalid configuration: reference needs netex_url or netex_path")
	}
	return nil
}

// Policy returns the retry policy for external fetches.
func (c Config) Policy() core.RetryPolicy {
	return core.RetryPolicy{
		MaxAttempts:  c.Retry.MaxAttempts,
		InitialDelay: c.Retry.InitialDelay,
		MaxDelay:     c.Retry.MaxDelay,
		Multiplier:   core.DefaultRetryPolicy.Multiplier,
	}
}

// Reconcile returns the reconciliation policy dated today.
func (c Config) Reconcile(today time.Time) (reconcile.Config, error) {
	legacy, err := reconcile.ParseLegacyMode(c.Legacy)
	if err != nil {
		return reconcile.Config{}, err
	}
	return reconcile.Config{
		TrustedEditors:  c.TrustedEditors,
		Threshold:       c.Threshold,
		StationMargin:   c.StationMargin,
		QuayMargin:      c.QuayMargin,
		Legacy:          legacy,
		ExcludedRegions: c.ExcludedRegions,
		ExcludedQuays:   c.ExcludedQuays,
		RetentionDays:   c.RetentionDays,
		Parallel:        c.Overpass.Parallel,
		Today:           today,
	}, nil
}

func (c Config) Fetcher() osm.FetcherConfig {
	return osm.FetcherConfig{
		Endpoint:   c.Overpass.Endpoint,
		Timeout:    c.Overpass.Timeout,
		RPS:        c.Overpass.RPS,
		Burst:      c.Overpass.Burst,
		Parallel:   c.Overpass.Parallel,
		Policy:     c.Policy(),
		AdminLevel: c.Overpass.AdminLevel,
	}
}

func (c Config) Uploader() osm.UploaderConfig {
	return osm.UploaderConfig{
		BaseURL:  c.Upload.APIURL,
		User:     c.Upload.User,
		Password: c.Upload.Password,
		Policy:   c.Policy(),
	}
}

// SnapshotPath and AuditPath are the output files of a run.
func (c Config) SnapshotPath() string { return c.Output.Base + ".osm" }

func (c Config) AuditPath() string { return c.Output.Base + "_log.txt" }
