// Package changeset turns the reconciler's output into documents: the
// reviewable JOSM snapshot, the osmChange upload body and the audit log.
package changeset

import (
	"fmt"

	gosm "github.com/paulmach/osm"

	"github.com/NERVsystems/stopsync/pkg/osm"
)

// Assembler collects every element produced by a run, each exactly once, in
// the order it was first added.
type Assembler struct {
	elements []*osm.Element
	seen     map[osm.Key]struct{}
}

// NewAssembler returns an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{seen: make(map[osm.Key]struct{})}
}

// Add appends elements not added before and returns how many were new.
// A later element with an already added type and id is dropped.
func (a *Assembler) Add(elements ...*osm.Element) int {
	added := 0
	for _, e := range elements {
		k := e.Key()
		if _, dup := a.seen[k]; dup {
			continue
		}
		a.seen[k] = struct{}{}
		a.elements = append(a.elements, e)
		added++
	}
	return added
}

// Contains reports whether an element with key k has been added.
func (a *Assembler) Contains(k osm.Key) bool {
	_, ok := a.seen[k]
	return ok
}

// Elements returns every collected element.
func (a *Assembler) Elements() []*osm.Element {
	return a.elements
}

// Len returns the number of collected elements.
func (a *Assembler) Len() int {
	return len(a.elements)
}

// Pending returns the elements carrying an action.
func (a *Assembler) Pending() []*osm.Element {
	var out []*osm.Element
	for _, e := range a.elements {
		if e.Action != osm.ActionNone {
			out = append(out, e)
		}
	}
	return out
}

// BuildChange groups the actioned elements into an osmChange document. Every
// element is stamped with changesetID and loses its bookkeeping tags.
// Elements without an action are left out.
func (a *Assembler) BuildChange(changesetID int64, generator string) (*gosm.Change, error) {
	change := &gosm.Change{
		Generator: generator,
		Create:    &gosm.OSM{},
		Modify:    &gosm.OSM{},
		Delete:    &gosm.OSM{},
	}
	cs := gosm.ChangesetID(changesetID)

	for _, e := range a.elements {
		var target *gosm.OSM
		switch e.Action {
		case osm.ActionNone:
			continue
		case osm.ActionCreate:
			target = change.Create
		case osm.ActionModify, osm.ActionRelocate:
			target = change.Modify
		case osm.ActionDelete:
			target = change.Delete
		default:
			return nil, fmt.Errorf("%s has unknown action %d", e.Key(), int(e.Action))
		}
		if err := appendElement(target, e, cs); err != nil {
			return nil, err
		}
	}
	return change, nil
}

func uploadTags(e *osm.Element) gosm.Tags {
	tags := make(gosm.Tags, 0, len(e.Tags))
	for _, k := range e.SortedTagKeys() {
		if osm.IsBookkeeping(k) || e.Tags[k] == "" {
			continue
		}
		tags = append(tags, gosm.Tag{Key: k, Value: e.Tags[k]})
	}
	return tags
}

func appendElement(doc *gosm.OSM, e *osm.Element, cs gosm.ChangesetID) error {
	version := 0
	if e.Meta != nil {
		version = e.Meta.Version
	}

	switch e.Type {
	case osm.NodeType:
		if e.Location == nil {
			return fmt.Errorf("%s has no coordinates", e.Key())
		}
		doc.Nodes = append(doc.Nodes, &gosm.Node{
			ID:          gosm.NodeID(e.ID),
			Lat:         e.Location.Lat(),
			Lon:         e.Location.Lon(),
			Visible:     true,
			Version:     version,
			ChangesetID: cs,
			Tags:        uploadTags(e),
		})
	case osm.WayType:
		nodes := make(gosm.WayNodes, 0, len(e.Nodes))
		for _, id := range e.Nodes {
			nodes = append(nodes, gosm.WayNode{ID: gosm.NodeID(id)})
		}
		doc.Ways = append(doc.Ways, &gosm.Way{
			ID:          gosm.WayID(e.ID),
			Visible:     true,
			Version:     version,
			ChangesetID: cs,
			Nodes:       nodes,
			Tags:        uploadTags(e),
		})
	case osm.RelationType:
		members := make(gosm.Members, 0, len(e.Members))
		for _, m := range e.Members {
			members = append(members, gosm.Member{Type: gosm.Type(m.Type), Ref: m.Ref, Role: m.Role})
		}
		doc.Relations = append(doc.Relations, &gosm.Relation{
			ID:          gosm.RelationID(e.ID),
			Visible:     true,
			Version:     version,
			ChangesetID: cs,
			Members:     members,
			Tags:        uploadTags(e),
		})
	default:
		return fmt.Errorf("unknown element type %q", e.Type)
	}
	return nil
}
