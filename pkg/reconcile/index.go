package reconcile

import "github.com/NERVsystems/stopsync/pkg/osm"

// Index records how the elements of one region snapshot contain each other.
type Index struct {
	wayChildren map[int64]struct{}
	members     map[osm.Key]struct{}
	ptv2        map[osm.Key]struct{}
}

// BuildIndex collects the node ids used by ways, the members of relations,
// and the members of route or public_transport relations.
func BuildIndex(elements []*osm.Element) *Index {
	ix := &Index{
		wayChildren: make(map[int64]struct{}),
		members:     make(map[osm.Key]struct{}),
		ptv2:        make(map[osm.Key]struct{}),
	}
	for _, e := range elements {
		switch e.Type {
		case osm.WayType:
			for _, n := range e.Nodes {
				ix.wayChildren[n] = struct{}{}
			}
		case osm.RelationType:
			ptv2 := e.HasTag(osm.TagPublicTransport) || e.Tag(osm.TagType) == osm.ValueRoute
			for _, m := range e.Members {
				ix.members[m.Key()] = struct{}{}
				if ptv2 {
					ix.ptv2[m.Key()] = struct{}{}
				}
			}
		}
	}
	return ix
}

// IsWayChild reports whether node id is part of any way.
func (ix *Index) IsWayChild(id int64) bool {
	_, ok := ix.wayChildren[id]
	return ok
}

// IsMember reports whether k is a member of any relation.
func (ix *Index) IsMember(k osm.Key) bool {
	_, ok := ix.members[k]
	return ok
}

// IsPTv2Member reports whether k is a member of a route or public_transport
// relation.
func (ix *Index) IsPTv2Member(k osm.Key) bool {
	_, ok := ix.ptv2[k]
	return ok
}

// Embedded reports whether removing e would break another element: e is a
// way or relation, or a node used by a way or relation.
func (ix *Index) Embedded(e *osm.Element) bool {
	if e.Type != osm.NodeType {
		return true
	}
	return ix.IsWayChild(e.ID) || ix.IsMember(e.Key())
}
