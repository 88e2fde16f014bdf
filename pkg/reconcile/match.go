package reconcile

import (
	"github.com/NERVsystems/stopsync/pkg/geo"
	"github.com/NERVsystems/stopsync/pkg/history"
	"github.com/NERVsystems/stopsync/pkg/nsr"
	"github.com/NERVsystems/stopsync/pkg/osm"
)

// Verdict is the classification of one stop element.
type Verdict int

const (
	VerdictNoChange Verdict = iota
	VerdictModify
	VerdictRelocate
	VerdictUserEdit
	VerdictDelete
	VerdictOther
)

func (v Verdict) String() string {
	switch v {
	case VerdictNoChange:
		return "no change"
	case VerdictModify:
		return "modify"
	case VerdictRelocate:
		return "relocate"
	case VerdictUserEdit:
		return "user edit"
	case VerdictDelete:
		return "delete"
	case VerdictOther:
		return "other"
	default:
		return "unknown"
	}
}

// Tag keys compared against the reference.
const (
	keyName         = "name"
	keyOfficialName = "official_name"
	keyRef          = "ref"
	keyUnsignedRef  = "unsigned_ref"
	keyRouteRef     = "route_ref"
	keyBus          = "bus"
)

var (
	stationKeys = []string{keyName, keyRouteRef}
	quayKeys    = []string{keyName, keyOfficialName, keyRef, keyUnsignedRef, keyRouteRef}
	legacyKeys  = []string{osm.TagPublicTransport, keyBus}
)

// referenceValue returns what the reference says key should be; "" means the
// tag should be absent.
func referenceValue(stop *nsr.Stop, key string) string {
	switch key {
	case keyName:
		return stop.Name
	case keyOfficialName:
		return stop.OfficialName
	case keyRef:
		return stop.Ref
	case keyUnsignedRef:
		return stop.UnsignedRef
	case keyRouteRef:
		return stop.RouteRef
	case osm.TagPublicTransport:
		if stop.Kind == nsr.Station {
			return "station"
		}
		return "platform"
	case keyBus:
		return "yes"
	}
	return ""
}

// Match is the outcome of comparing one element with its reference stop.
type Match struct {
	Kind    nsr.Kind
	Ref     string
	Stop    *nsr.Stop
	PTv2    bool
	Verdict Verdict

	Distance            float64
	Exceeded            bool
	Drift               []string
	Trusted             bool
	RelocateInReference bool
}

// Matcher classifies stop elements. It never changes the store or history.
type Matcher struct {
	cfg           Config
	trusted       map[string]struct{}
	history       *history.Snapshot
	compareRoutes bool
}

// NewMatcher returns a matcher reading previous positions from hist, which may
// be nil. With compareRoutes false route_ref is neither compared nor written.
func NewMatcher(cfg Config, hist *history.Snapshot, compareRoutes bool) *Matcher {
	return &Matcher{
		cfg:           cfg,
		trusted:       toSet(cfg.TrustedEditors),
		history:       hist,
		compareRoutes: compareRoutes,
	}
}

func (m *Matcher) margin(kind nsr.Kind) float64 {
	if kind == nsr.Station {
		return m.cfg.StationMargin
	}
	return m.cfg.QuayMargin
}

// keys returns the tag keys kept in line with the reference. compare selects
// the keys used for drift detection rather than the ones written.
func (m *Matcher) keys(kind nsr.Kind, ptv2, compare bool) []string {
	base := quayKeys
	if kind == nsr.Station {
		base = stationKeys
	}
	keys := make([]string, 0, len(base)+len(legacyKeys))
	for _, k := range base {
		if k == keyRouteRef && !m.compareRoutes {
			continue
		}
		keys = append(keys, k)
	}
	legacy := m.cfg.Legacy == LegacyOn || (!compare && m.cfg.Legacy == LegacyModify)
	if legacy && !ptv2 {
		keys = append(keys, legacyKeys...)
	}
	return keys
}

// Classify compares e with stop. A nil stop means the reference no longer
// lists ref.
func (m *Matcher) Classify(e *osm.Element, kind nsr.Kind, ref string, stop *nsr.Stop, ptv2 bool) Match {
	match := Match{Kind: kind, Ref: ref, Stop: stop, PTv2: ptv2}
	if stop == nil {
		match.Verdict = VerdictDelete
		return match
	}

	if p, centroid, ok := e.Position(); ok {
		match.Distance = geo.Distance(p, stop.Location)
		limit := m.cfg.Threshold
		if centroid {
			limit += m.margin(kind)
		}
		match.Exceeded = match.Distance >= limit
	}

	for _, k := range m.keys(kind, ptv2, true) {
		if e.Tag(k) != referenceValue(stop, k) {
			match.Drift = append(match.Drift, k)
		}
	}

	_, match.Trusted = m.trusted[e.User()]
	if match.Exceeded {
		if prev, ok := m.history.Position(kind, ref); ok && prev != stop.Location {
			match.RelocateInReference = true
		}
	}

	drift := len(match.Drift) > 0
	switch {
	case !match.Exceeded && !drift:
		match.Verdict = VerdictNoChange
	case match.RelocateInReference || (match.Exceeded && (match.Trusted || drift)):
		match.Verdict = VerdictRelocate
	case drift:
		match.Verdict = VerdictModify
	default:
		match.Verdict = VerdictUserEdit
	}
	return match
}
