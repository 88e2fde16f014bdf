// Package history persists what each run learned about the reference feed:
// the last recorded position of every stop and the last date a quay was served
// by a scheduled trip. A run reads one snapshot at start, matches against it
// unchanged, and writes the merged result only after it has succeeded.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/paulmach/orb"
	_ "modernc.org/sqlite"

	"github.com/NERVsystems/stopsync/pkg/nsr"
)

//go:embed schema.sql
var schemaSQL string

const dateLayout = time.DateOnly

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Record is the remembered state of one reference id.
type Record struct {
	Kind     nsr.Kind
	ID       string
	Location *orb.Point
	LastUsed *time.Time
}

type key struct {
	kind nsr.Kind
	id   string
}

// Snapshot is an in-memory copy of the history table. It is never modified
// after Load; Merge returns a new snapshot.
type Snapshot struct {
	records map[key]Record
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{records: make(map[key]Record)}
}

// Put adds or replaces a record.
func (s *Snapshot) Put(r Record) {
	s.records[key{r.Kind, r.ID}] = r
}

// Get returns the record for kind/id.
func (s *Snapshot) Get(kind nsr.Kind, id string) (Record, bool) {
	if s == nil {
		return Record{}, false
	}
	r, ok := s.records[key{kind, id}]
	return r, ok
}

// Position returns the last recorded reference position.
func (s *Snapshot) Position(kind nsr.Kind, id string) (orb.Point, bool) {
	r, ok := s.Get(kind, id)
	if !ok || r.Location == nil {
		return orb.Point{}, false
	}
	return *r.Location, true
}

// LastUsed returns the date the quay was last seen in the timetable.
func (s *Snapshot) LastUsed(quay string) (time.Time, bool) {
	r, ok := s.Get(nsr.Quay, quay)
	if !ok || r.LastUsed == nil {
		return time.Time{}, false
	}
	return *r.LastUsed, true
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.records)
}

// Records returns every record; order is unspecified.
func (s *Snapshot) Records() []Record {
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out
}

// Merge records the reference state of this run on top of base: the current
// position of every stop in store, and today as the last-used date of every
// quay in usage. Records for ids no longer in the store are kept. It must be
// called before matching consumes the store.
func Merge(base *Snapshot, store *nsr.Store, usage *nsr.RouteUsage, today time.Time) *Snapshot {
	merged := NewSnapshot()
	if base != nil {
		for k, r := range base.records {
			merged.records[k] = r
		}
	}
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	for _, kind := range []nsr.Kind{nsr.Station, nsr.Quay} {
		for _, id := range store.Remaining(kind) {
			stop, _ := store.Get(kind, id)
			p := stop.Location
			r := merged.records[key{kind, id}]
			r.Kind, r.ID, r.Location = kind, id, &p
			if kind == nsr.Quay && usage.Used(id) {
				d := day
				r.LastUsed = &d
			}
			merged.records[key{kind, id}] = r
		}
	}
	return merged
}

// Store is the persistent history table behind sqlx. The sqlite driver is the
// pure-Go modernc.org/sqlite; postgres uses lib/pq.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open connects to the history database and ensures the schema. driver is
// "sqlite" (dsn is a file path) or "postgres" (dsn is a connection string).
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch driver {
	case DriverSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported history driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to history database: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type row struct {
	Kind      string          `db:"kind"`
	Ref       string          `db:"ref"`
	Lon       sql.NullFloat64 `db:"lon"`
	Lat       sql.NullFloat64 `db:"lat"`
	LastUsed  sql.NullString  `db:"last_used"`
	UpdatedAt string          `db:"updated_at"`
}

func kindFromString(s string) (nsr.Kind, error) {
	switch s {
	case "station":
		return nsr.Station, nil
	case "quay":
		return nsr.Quay, nil
	default:
		return 0, fmt.Errorf("unknown stop kind %q", s)
	}
}

// Load reads the whole table into a snapshot.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	var rows []row
	err := s.db.SelectContext(ctx, &rows,
		`SELECT kind, ref, lon, lat, last_used, updated_at FROM stop_history`)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	snap := NewSnapshot()
	for _, r := range rows {
		kind, err := kindFromString(r.Kind)
		if err != nil {
			s.logger.Warn("skipping history row", "ref", r.Ref, "error", err)
			continue
		}
		rec := Record{Kind: kind, ID: r.Ref}
		if r.Lon.Valid && r.Lat.Valid {
			rec.Location = &orb.Point{r.Lon.Float64, r.Lat.Float64}
		}
		if r.LastUsed.Valid && r.LastUsed.String != "" {
			t, err := time.Parse(dateLayout, r.LastUsed.String)
			if err != nil {
				s.logger.Warn("ignoring malformed last-used date", "ref", r.Ref, "value", r.LastUsed.String)
			} else {
				rec.LastUsed = &t
			}
		}
		snap.Put(rec)
	}
	s.logger.Debug("loaded history", "records", snap.Len())
	return snap, nil
}

const upsertSQL = `
INSERT INTO stop_history (kind, ref, lon, lat, last_used, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (kind, ref) DO UPDATE SET
    lon = COALESCE(excluded.lon, stop_history.lon),
    lat = COALESCE(excluded.lat, stop_history.lat),
    last_used = COALESCE(excluded.last_used, stop_history.last_used),
    updated_at = excluded.updated_at`

// Save upserts every record of snap in one transaction. Existing rows missing
// from snap are left alone, and a record without a date never clears one.
func (s *Store) Save(ctx context.Context, snap *Snapshot, now time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting history transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(upsertSQL))
	if err != nil {
		return fmt.Errorf("preparing history upsert: %w", err)
	}
	defer stmt.Close()

	stamp := now.UTC().Format(time.RFC3339)
	for _, rec := range snap.Records() {
		var lon, lat sql.NullFloat64
		if rec.Location != nil {
			lon = sql.NullFloat64{Float64: rec.Location.Lon(), Valid: true}
			lat = sql.NullFloat64{Float64: rec.Location.Lat(), Valid: true}
		}
		var lastUsed sql.NullString
		if rec.LastUsed != nil {
			lastUsed = sql.NullString{String: rec.LastUsed.Format(dateLayout), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, rec.Kind.String(), rec.ID, lon, lat, lastUsed, stamp); err != nil {
			return fmt.Errorf("saving history for %s %s: %w", rec.Kind, rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing history: %w", err)
	}
	s.logger.Info("saved history", "records", snap.Len())
	return nil
}
