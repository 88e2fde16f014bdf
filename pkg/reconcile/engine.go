// Package reconcile matches the stop register against OpenStreetMap region by
// region and turns every difference into edits on the geographic elements.
//
// A run owns the reference store: matching consumes entries, so whatever is
// left in the reconciled regions after the last one is created. Region snapshots may be fetched
// concurrently but are always reconciled one at a time in region order.
package reconcile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/NERVsystems/stopsync/pkg/changeset"
	"github.com/NERVsystems/stopsync/pkg/core"
	"github.com/NERVsystems/stopsync/pkg/history"
	"github.com/NERVsystems/stopsync/pkg/monitoring"
	"github.com/NERVsystems/stopsync/pkg/nsr"
	"github.com/NERVsystems/stopsync/pkg/osm"
	"github.com/NERVsystems/stopsync/pkg/region"
	"github.com/NERVsystems/stopsync/pkg/tracing"
	"github.com/NERVsystems/stopsync/pkg/version"
)

const dateLayout = time.DateOnly

// Fetcher loads the geographic snapshot of one region: the stops with their
// parent ways and relations and the nodes of stops mapped as ways.
type Fetcher interface {
	FetchRegion(ctx context.Context, region string) ([]*osm.Element, error)
}

// Inputs are the reference data a run reconciles against.
type Inputs struct {
	Store *nsr.Store
	// Usage is nil when no timetable was loaded. Quays are then never
	// excluded for lack of trips and route_ref is left alone.
	Usage *nsr.RouteUsage
	// History is the snapshot loaded at start. It is only read.
	History *history.Snapshot
}

// Engine runs one reconciliation.
type Engine struct {
	cfg     Config
	store   *nsr.Store
	usage   *nsr.RouteUsage
	history *history.Snapshot
	matcher *Matcher
	alloc   *IDAllocator
	out     *changeset.Assembler
	audit   *changeset.AuditLog
	logger  *slog.Logger

	seen            map[osm.Key]struct{}
	excludedRegions map[string]struct{}
	excludedQuays   map[string]struct{}
}

// NewEngine prepares a run writing elements to out and entries to audit.
// A nil audit log discards entries; a nil logger uses slog.Default().
func NewEngine(cfg Config, in Inputs, out *changeset.Assembler, audit *changeset.AuditLog, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if audit == nil {
		audit = changeset.NewAuditLog(io.Discard, version.Generator(), time.Now())
	}
	if cfg.Parallel < 1 {
		cfg.Parallel = 1
	}
	return &Engine{
		cfg:             cfg,
		store:           in.Store,
		usage:           in.Usage,
		history:         in.History,
		matcher:         NewMatcher(cfg, in.History, in.Usage != nil),
		alloc:           NewIDAllocator(),
		out:             out,
		audit:           audit,
		logger:          logger.With("component", "reconcile"),
		seen:            make(map[osm.Key]struct{}),
		excludedRegions: toSet(cfg.ExcludedRegions),
		excludedQuays:   toSet(cfg.ExcludedQuays),
	}
}

// ExcludeInactiveQuays drops quays without scheduled trips that were not used
// within the retention window. It returns how many were dropped.
func (e *Engine) ExcludeInactiveQuays() int {
	if e.usage == nil {
		return 0
	}
	cutoff := e.cfg.today().AddDate(0, 0, -e.cfg.RetentionDays)
	excluded := 0
	for _, id := range e.store.Remaining(nsr.Quay) {
		if e.usage.Used(id) {
			continue
		}
		last, known := e.history.LastUsed(id)
		if known && !last.Before(cutoff) {
			continue
		}
		if known {
			e.logger.Info("quay usage expired", "ref", id, "last_used", last.Format(dateLayout))
		}
		e.store.Exclude(nsr.Quay, id)
		excluded++
	}
	e.logger.Info("excluded inactive quays", "count", excluded, "retention_days", e.cfg.RetentionDays)
	return excluded
}

// Run reconciles every region not excluded, then creates the stops of those
// regions that no element matched. A
// failed fetch aborts the run; nothing is written by the engine itself, so
// the caller simply discards the assembler.
func (e *Engine) Run(ctx context.Context, fetcher Fetcher, regions []region.Region) (_ *Summary, err error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.run")
	defer func() {
		if err != nil {
			tracing.Fail(span, string(core.CodeOf(err)), err)
		}
		span.End()
	}()

	start := time.Now()
	summary := &Summary{ExcludedQuays: e.ExcludeInactiveQuays()}

	active := make([]region.Region, 0, len(regions))
	for _, r := range regions {
		if _, skip := e.excludedRegions[r.Code]; skip {
			e.logger.Info("skipping excluded region", "region", r.Name, "code", r.Code)
			continue
		}
		active = append(active, r)
	}
	span.SetAttributes(attribute.Int(tracing.AttrRegions, len(active)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallel)
	slots := make([]chan []*osm.Element, len(active))
	for i := range slots {
		slots[i] = make(chan []*osm.Element, 1)
	}
	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for i, r := range active {
			i, r := i, r
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				elements, err := fetcher.FetchRegion(gctx, r.Name)
				if err != nil {
					return fmt.Errorf("region %s: %w", r, err)
				}
				slots[i] <- elements
				return nil
			})
		}
	}()

	for i, r := range active {
		var elements []*osm.Element
		select {
		case elements = <-slots[i]:
		case <-gctx.Done():
			<-launched
			if err := g.Wait(); err != nil {
				return nil, err
			}
			return nil, ctx.Err()
		}
		summary.add(e.ReconcileRegion(ctx, i, r, elements))
	}
	<-launched
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary.Created = e.CreateRemaining(active)
	summary.Total.New = summary.Created
	summary.Elements = e.out.Len()
	summary.Duration = time.Since(start)
	span.SetAttributes(attribute.Int(tracing.AttrChanges, summary.Changes()))
	return summary, nil
}

// ReconcileRegion classifies and edits the elements of one region snapshot.
// Elements already handled in an earlier region are skipped.
func (e *Engine) ReconcileRegion(ctx context.Context, index int, r region.Region, elements []*osm.Element) RegionSummary {
	ctx, span := tracing.StartSpan(ctx, "reconcile.region",
		trace.WithAttributes(tracing.RegionAttributes(r.Name, r.Code, index, len(elements))...),
	)
	defer span.End()

	start := time.Now()
	e.audit.Section("REGION: " + r.String())
	ix := BuildIndex(elements)
	rs := RegionSummary{Region: r}

	var out []*osm.Element
	for _, el := range elements {
		if _, dup := e.seen[el.Key()]; dup {
			continue
		}
		e.seen[el.Key()] = struct{}{}
		out = append(out, e.process(ctx, el, ix, r, &rs.Counts)...)
	}

	for _, kind := range []nsr.Kind{nsr.Station, nsr.Quay} {
		for _, id := range e.store.Remaining(kind) {
			stop, _ := e.store.Get(kind, id)
			if stop.CountyCode() != r.Code {
				continue
			}
			if kind == nsr.Quay && e.quayExcluded(id) {
				continue
			}
			rs.Counts.New++
			rs.Counts.InReference++
		}
	}

	e.out.Add(out...)
	rs.Duration = time.Since(start)
	rs.Counts.record(r.Name)
	monitoring.RecordRegionDuration(r.Name, rs.Duration)
	span.SetAttributes(attribute.Int(tracing.AttrChanges, rs.Counts.Changes()))

	e.logger.Info("reconciled region",
		"region", r.Name,
		"examined", rs.Counts.Examined,
		"in_reference", rs.Counts.InReference,
		"modified", rs.Counts.Modified+rs.Counts.Relocated,
		"deleted", rs.Counts.Deleted,
		"new_provisional", rs.Counts.New,
		"user_edited", rs.Counts.UserEdited,
		"other", rs.Counts.Other,
	)
	return rs
}

// process handles one element and returns what to emit in its place.
func (e *Engine) process(ctx context.Context, el *osm.Element, ix *Index, r region.Region, c *Counts) []*osm.Element {
	kind, ref, linked := stopRef(el)
	if !linked {
		if kind, isStop := stopKind(el); isStop {
			annotateOther(el)
			entry := changeset.Entry{Action: VerdictOther.String(), Kind: kind.String()}
			entry.Addf("%s", describe(el))
			e.audit.Write(entry)
			c.Other++
			monitoring.RecordAction(r.Name, VerdictOther.String())
		}
		return []*osm.Element{el}
	}

	c.Examined++
	stop, found := e.store.Consume(kind, ref)
	if found {
		c.InReference++
		c.Matched++
	}
	m := e.matcher.Classify(el, kind, ref, stop, ix.IsPTv2Member(el.Key()))

	entry := changeset.Entry{Action: m.Verdict.String(), Kind: kind.String(), Ref: ref, Distance: m.Distance}
	out := []*osm.Element{el}
	switch m.Verdict {
	case VerdictNoChange:
		c.Unchanged++
		return out
	case VerdictModify, VerdictRelocate:
		out = e.edit(el, m, ix, &entry)
		e.stampLastUsed(out[len(out)-1], kind, ref)
		if m.Verdict == VerdictRelocate {
			c.Relocated++
		} else {
			c.Modified++
		}
	case VerdictUserEdit:
		e.annotateUserEdit(el, m, &entry)
		e.stampLastUsed(el, kind, ref)
		if m.Distance > 0 {
			out = append(out, e.reference(stop))
		}
		c.UserEdited++
	case VerdictDelete:
		e.remove(el, m, ix, &entry)
		e.stampLastUsed(el, kind, ref)
		c.Deleted++
	}

	e.audit.Write(entry)
	monitoring.RecordAction(r.Name, m.Verdict.String())
	tracing.AddEvent(ctx, tracing.EventClassified, trace.WithAttributes(
		tracing.ActionAttributes(kind.String(), ref, m.Verdict.String(), m.Distance)...,
	))
	e.logger.Debug("classified stop",
		"region", r.Name,
		"kind", kind.String(),
		"ref", ref,
		"action", m.Verdict.String(),
		"distance", m.Distance,
	)
	return out
}

// CreateRemaining emits a new node for every stop still in the store that
// lies in one of the reconciled regions. Stops of regions not processed in
// this run were never matched and stay in the store, as do excluded quays.
// It returns how many were created.
func (e *Engine) CreateRemaining(reconciled []region.Region) int {
	e.audit.Section("NEW STOPS")
	codes := make(map[string]struct{}, len(reconciled))
	for _, r := range reconciled {
		if _, skip := e.excludedRegions[r.Code]; !skip {
			codes[r.Code] = struct{}{}
		}
	}
	created, skipped := 0, 0
	for _, kind := range []nsr.Kind{nsr.Station, nsr.Quay} {
		for _, id := range e.store.Remaining(kind) {
			stop, _ := e.store.Get(kind, id)
			if _, ok := codes[stop.CountyCode()]; !ok {
				skipped++
				continue
			}
			if kind == nsr.Quay && e.quayExcluded(id) {
				continue
			}
			e.store.Consume(kind, id)
			n, entry := e.create(stop)
			e.out.Add(n)
			e.audit.Write(entry)
			monitoring.RecordAction("all", "create")
			created++
		}
	}
	monitoring.RecordStops("all", monitoring.StageNew, created)
	e.logger.Info("created new stops", "count", created, "outside_run", skipped)
	return created
}

func (e *Engine) quayExcluded(id string) bool {
	_, ok := e.excludedQuays[id]
	return ok
}
