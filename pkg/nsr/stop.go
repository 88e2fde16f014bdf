// Package nsr holds the reference side of stopsync: stations and quays from the
// national stop register, the owned store the reconciler consumes, and the
// loaders for the NeTEx export and the GTFS timetable.
package nsr

import (
	"sort"

	"github.com/paulmach/orb"
)

// Kind distinguishes stations from quays.
type Kind int

const (
	Station Kind = iota
	Quay
)

func (k Kind) String() string {
	if k == Station {
		return "station"
	}
	return "quay"
}

// Stop is one station or quay from the reference feed. ID is the register
// number without the NSR:StopPlace: or NSR:Quay: prefix.
type Stop struct {
	Kind         Kind
	ID           string
	Location     orb.Point
	Name         string
	OfficialName string
	Ref          string
	UnsignedRef  string
	RouteRef     string
	Municipality string
	Version      string
	Submode      string
	Note         string
	StopType     string
	Station      string
}

// CountyCode returns the two-digit region prefix of the municipality code.
func (s *Stop) CountyCode() string {
	if len(s.Municipality) < 2 {
		return s.Municipality
	}
	return s.Municipality[:2]
}

// Store is the reference table for one run. Matching consumes entries; what
// remains after every region has been reconciled must be created.
type Store struct {
	stops       [2]map[string]*Stop
	quayStation map[string]string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		stops:       [2]map[string]*Stop{make(map[string]*Stop), make(map[string]*Stop)},
		quayStation: make(map[string]string),
	}
}

// Add inserts or replaces a stop.
func (s *Store) Add(stop *Stop) {
	s.stops[stop.Kind][stop.ID] = stop
}

// Get returns the stop without consuming it.
func (s *Store) Get(kind Kind, id string) (*Stop, bool) {
	stop, ok := s.stops[kind][id]
	return stop, ok
}

// Consume removes the stop and returns it. A consumed id is never returned
// again by Get, Consume or Remaining.
func (s *Store) Consume(kind Kind, id string) (*Stop, bool) {
	stop, ok := s.stops[kind][id]
	if ok {
		delete(s.stops[kind], id)
	}
	return stop, ok
}

// Exclude drops the stop before matching. It reports whether it was present.
func (s *Store) Exclude(kind Kind, id string) bool {
	_, ok := s.Consume(kind, id)
	return ok
}

// Remaining returns the ids still in the table in natural order.
func (s *Store) Remaining(kind Kind) []string {
	ids := make([]string, 0, len(s.stops[kind]))
	for id := range s.stops[kind] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return NaturalLess(ids[i], ids[j]) })
	return ids
}

// Len returns the number of stops of kind still in the table.
func (s *Store) Len(kind Kind) int {
	return len(s.stops[kind])
}

// LinkQuay records that quay belongs to station, including quays that were
// not kept as separate entries.
func (s *Store) LinkQuay(quay, station string) {
	s.quayStation[quay] = station
}

// StationOf returns the parent station of a quay, if known.
func (s *Store) StationOf(quay string) (string, bool) {
	st, ok := s.quayStation[quay]
	return st, ok
}

// ApplyRouteUsage sets route_ref on every quay served by a route and on every
// station from the union of its quays' routes.
func (s *Store) ApplyRouteUsage(u *RouteUsage) {
	if u == nil {
		return
	}
	for id, quay := range s.stops[Quay] {
		quay.RouteRef = u.RouteRef(id)
	}

	perStation := make(map[string]map[string]struct{})
	for quay, station := range s.quayStation {
		for _, route := range u.Routes(quay) {
			if perStation[station] == nil {
				perStation[station] = make(map[string]struct{})
			}
			perStation[station][route] = struct{}{}
		}
	}
	for id, station := range s.stops[Station] {
		station.RouteRef = joinRoutes(perStation[id])
	}
}
