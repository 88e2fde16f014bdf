package osm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/paulmach/orb"
	"github.com/serjvanilla/go-overpass"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/stopsync/pkg/core"
	"github.com/NERVsystems/stopsync/pkg/geo"
	"github.com/NERVsystems/stopsync/pkg/tracing"
)

// FetcherConfig configures the Overpass fetcher. Timeout is the server-side
// query timeout; the HTTP timeout is derived from it. AdminLevel selects the
// boundary the region name is matched against.
type FetcherConfig struct {
	Endpoint   string
	Timeout    time.Duration
	RPS        float64
	Burst      int
	Parallel   int
	Policy     core.RetryPolicy
	AdminLevel string
	Base       http.RoundTripper
}

// Fetcher loads regional stop snapshots from Overpass.
type Fetcher struct {
	cfg    FetcherConfig
	client *http.Client
	logger *slog.Logger
}

// NewFetcher creates a fetcher. A nil logger uses slog.Default().
func NewFetcher(cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultOverpassURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.Parallel < 1 {
		cfg.Parallel = 1
	}
	if cfg.AdminLevel == "" {
		cfg.AdminLevel = "4"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		cfg: cfg,
		client: NewHTTPClient(ClientOptions{
			Service: tracing.ServiceOverpass,
			Timeout: cfg.Timeout + 30*time.Second,
			RPS:     cfg.RPS,
			Burst:   cfg.Burst,
			Policy:  cfg.Policy,
			Base:    cfg.Base,
		}),
		logger: logger.With("component", "overpass"),
	}
}

// RegionQuery returns the Overpass QL selecting every bus station and bus stop
// inside the named region, plus the ways and relations containing them and
// the nodes of stops mapped as ways.
func (f *Fetcher) RegionQuery(region string) string {
	return core.NewOverpassBuilder().
		WithTimeout(int(f.cfg.Timeout/time.Second)).
		WithArea(core.Tag("name", region), core.Tag("admin_level", f.cfg.AdminLevel)).
		WithElement("nwr", core.Tag(TagAmenity, ValueStation)).
		WithElement("nwr", core.Tag(TagHighway, ValueBusStop)).
		WithParents().
		WithChildren().
		WithOutput("meta bb").
		Build()
}

// FetchRegion runs the region query and returns the snapshot ordered by type
// and id. A failed fetch returns no partial result.
func (f *Fetcher) FetchRegion(ctx context.Context, region string) ([]*Element, error) {
	ctx, span := tracing.StartSpan(ctx, "overpass.fetch_region",
		trace.WithAttributes(attribute.String(tracing.AttrRegionName, region)),
	)
	defer span.End()

	start := time.Now()
	client := overpass.NewWithSettings(f.cfg.Endpoint, f.cfg.Parallel, withContext(ctx, f.client))
	result, err := client.Query(f.RegionQuery(region))
	if err != nil {
		tracing.Fail(span, string(core.CodeOf(err)), err)
		return nil, fmt.Errorf("fetching region %s: %w", region, err)
	}

	elements := Convert(&result)
	span.SetAttributes(attribute.Int(tracing.AttrStopsCount, len(elements)))
	f.logger.Info("fetched region",
		"region", region,
		"elements", len(elements),
		"duration", time.Since(start),
	)
	return elements, nil
}

// Convert turns an Overpass result into elements ordered by type and id.
// Way nodes and relation members that the query did not return in full are
// kept as references only.
func Convert(result *overpass.Result) []*Element {
	elements := make([]*Element, 0, len(result.Nodes)+len(result.Ways)+len(result.Relations))

	for _, n := range result.Nodes {
		if placeholder(&n.Meta) {
			continue
		}
		p := orb.Point{n.Lon, n.Lat}
		e := fromMeta(NodeType, &n.Meta)
		e.Location = &p
		elements = append(elements, e)
	}

	for _, w := range result.Ways {
		if placeholder(&w.Meta) {
			continue
		}
		e := fromMeta(WayType, &w.Meta)
		e.Nodes = make([]int64, 0, len(w.Nodes))
		for _, n := range w.Nodes {
			e.Nodes = append(e.Nodes, int64(n.ID))
		}
		if w.Bounds != nil {
			c := geo.Center(geo.Bound(w.Bounds.Min.Lat, w.Bounds.Min.Lon, w.Bounds.Max.Lat, w.Bounds.Max.Lon))
			e.Center = &c
		}
		elements = append(elements, e)
	}

	for _, r := range result.Relations {
		if placeholder(&r.Meta) {
			continue
		}
		e := fromMeta(RelationType, &r.Meta)
		e.Members = make([]Member, 0, len(r.Members))
		for _, m := range r.Members {
			member := Member{Type: ElementType(m.Type), Role: m.Role}
			switch {
			case m.Node != nil:
				member.Ref = int64(m.Node.ID)
			case m.Way != nil:
				member.Ref = int64(m.Way.ID)
			case m.Relation != nil:
				member.Ref = int64(m.Relation.ID)
			}
			e.Members = append(e.Members, member)
		}
		if r.Bounds != nil {
			c := geo.Center(geo.Bound(r.Bounds.Min.Lat, r.Bounds.Min.Lon, r.Bounds.Max.Lat, r.Bounds.Max.Lon))
			e.Center = &c
		}
		elements = append(elements, e)
	}

	SortElements(elements)
	return elements
}

// placeholder reports whether m belongs to an element only known by reference.
func placeholder(m *overpass.Meta) bool {
	return m.Timestamp == nil && m.Version == 0
}

func fromMeta(t ElementType, m *overpass.Meta) *Element {
	e := &Element{
		Type: t,
		ID:   int64(m.ID),
		Tags: make(map[string]string, len(m.Tags)),
		Meta: &Meta{
			Version:   int(m.Version),
			User:      m.User,
			UID:       int64(m.UID),
			Changeset: int64(m.Changeset),
		},
	}
	if m.Timestamp != nil {
		e.Meta.Timestamp = *m.Timestamp
	}
	for k, v := range m.Tags {
		e.Tags[k] = v
	}
	return e
}
