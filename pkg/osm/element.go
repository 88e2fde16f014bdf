// Package osm holds the geographic-dataset side of stopsync: the entity model
// shared by the reconciler and the changeset writers, the Overpass fetcher and
// the OSM API uploader.
package osm

import (
	"fmt"
	"sort"
	"time"

	"github.com/paulmach/orb"
)

// Tag keys and values linking OSM elements to the stop register.
const (
	TagStationRef = "ref:nsrs"
	TagQuayRef    = "ref:nsrq"

	TagAmenity         = "amenity"
	TagHighway         = "highway"
	ValueStation       = "bus_station"
	ValueBusStop       = "bus_stop"
	TagType            = "type"
	ValueRoute         = "route"
	TagPublicTransport = "public_transport"
)

// Review annotations written for the JOSM snapshot.
const (
	TagDelete        = "DELETE"
	TagRelocate      = "RELOCATE"
	TagEdit          = "EDIT"
	TagUser          = "USER"
	TagDistance      = "DISTANCE"
	TagNSRName       = "NSR_NAME"
	TagOther         = "OTHER"
	TagNSRReference  = "NSR_REFERENCE"
	TagRouteLastUsed = "ROUTE_LAST_USED"
	TagMunicipality  = "MUNICIPALITY"
	TagSubmode       = "SUBMODE"
	TagNote          = "NSRNOTE"
	TagStopType      = "STOPTYPE"
	TagVersion       = "VERSION"
)

var bookkeeping = map[string]struct{}{
	TagDelete: {}, TagRelocate: {}, TagEdit: {}, TagUser: {}, TagDistance: {},
	TagNSRName: {}, TagOther: {}, TagNSRReference: {}, TagRouteLastUsed: {},
	TagMunicipality: {}, TagSubmode: {}, TagNote: {}, TagStopType: {}, TagVersion: {},
}

// ElementType is the OSM primitive kind.
type ElementType string

const (
	NodeType     ElementType = "node"
	WayType      ElementType = "way"
	RelationType ElementType = "relation"
)

// Action is the pending operation recorded on an element.
type Action int

const (
	ActionNone Action = iota
	ActionCreate
	ActionModify
	ActionRelocate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionCreate:
		return "create"
	case ActionModify:
		return "modify"
	case ActionRelocate:
		return "relocate"
	case ActionDelete:
		return "delete"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Key identifies an element by type and id. Node 5 and way 5 are different keys.
type Key struct {
	Type ElementType
	ID   int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Type, k.ID)
}

// Member is one entry of a relation's member list.
type Member struct {
	Type ElementType
	Ref  int64
	Role string
}

// Key returns the key of the referenced element.
func (m Member) Key() Key {
	return Key{Type: m.Type, ID: m.Ref}
}

// Meta is the provenance of a pre-existing element.
type Meta struct {
	Version   int
	User      string
	UID       int64
	Timestamp time.Time
	Changeset int64
}

// Element is one node, way or relation of a regional snapshot, or one allocated
// by the reconciler. Allocated elements have negative ids and no Meta.
type Element struct {
	Type     ElementType
	ID       int64
	Location *orb.Point
	Center   *orb.Point
	Nodes    []int64
	Members  []Member
	Tags     map[string]string
	Meta     *Meta
	Action   Action
}

// NewNode returns a fresh node at p with no provenance.
func NewNode(id int64, p orb.Point) *Element {
	return &Element{
		Type:     NodeType,
		ID:       id,
		Location: &p,
		Tags:     make(map[string]string),
	}
}

// Key returns the element's type/id key.
func (e *Element) Key() Key {
	return Key{Type: e.Type, ID: e.ID}
}

// Position returns the element's coordinates. For ways and relations the
// bounding-box center is returned and centroid is true.
func (e *Element) Position() (p orb.Point, centroid bool, ok bool) {
	if e.Location != nil {
		return *e.Location, false, true
	}
	if e.Center != nil {
		return *e.Center, true, true
	}
	return orb.Point{}, false, false
}

// Tag returns the value of key, or "" when absent.
func (e *Element) Tag(key string) string {
	return e.Tags[key]
}

// HasTag reports whether key is set.
func (e *Element) HasTag(key string) bool {
	_, ok := e.Tags[key]
	return ok
}

// SetTag sets key to value, allocating the tag map if needed.
func (e *Element) SetTag(key, value string) {
	if e.Tags == nil {
		e.Tags = make(map[string]string)
	}
	e.Tags[key] = value
}

// User returns the last editor, or "" for new elements.
func (e *Element) User() string {
	if e.Meta == nil {
		return ""
	}
	return e.Meta.User
}

// EditDate returns the date of the last edit as YYYY-MM-DD.
func (e *Element) EditDate() string {
	if e.Meta == nil || e.Meta.Timestamp.IsZero() {
		return ""
	}
	return e.Meta.Timestamp.UTC().Format(time.DateOnly)
}

// Clone returns a deep copy of e.
func (e *Element) Clone() *Element {
	c := *e
	if e.Location != nil {
		p := *e.Location
		c.Location = &p
	}
	if e.Center != nil {
		p := *e.Center
		c.Center = &p
	}
	if e.Nodes != nil {
		c.Nodes = append([]int64(nil), e.Nodes...)
	}
	if e.Members != nil {
		c.Members = append([]Member(nil), e.Members...)
	}
	if e.Tags != nil {
		c.Tags = make(map[string]string, len(e.Tags))
		for k, v := range e.Tags {
			c.Tags[k] = v
		}
	}
	if e.Meta != nil {
		m := *e.Meta
		c.Meta = &m
	}
	return &c
}

// SortedTagKeys returns the tag keys in lexical order.
func (e *Element) SortedTagKeys() []string {
	keys := make([]string, 0, len(e.Tags))
	for k := range e.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsBookkeeping reports whether a tag key is one of the review annotations
// stopsync writes. Those are never uploaded; other uppercase keys such as
// FIXME belong to mappers and are.
func IsBookkeeping(key string) bool {
	_, ok := bookkeeping[key]
	return ok
}

// SortElements orders elements by type (node, way, relation) then id.
func SortElements(elements []*Element) {
	rank := map[ElementType]int{NodeType: 0, WayType: 1, RelationType: 2}
	sort.SliceStable(elements, func(i, j int) bool {
		a, b := elements[i], elements[j]
		if a.Type != b.Type {
			return rank[a.Type] < rank[b.Type]
		}
		return a.ID < b.ID
	})
}
