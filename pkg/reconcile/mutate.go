package reconcile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NERVsystems/stopsync/pkg/changeset"
	"github.com/NERVsystems/stopsync/pkg/nsr"
	"github.com/NERVsystems/stopsync/pkg/osm"
)

// crossRef returns the tag linking an element to a reference id.
func crossRef(kind nsr.Kind) string {
	if kind == nsr.Station {
		return osm.TagStationRef
	}
	return osm.TagQuayRef
}

// primary returns the classifying tag of kind and the one of the other kind.
func primary(kind nsr.Kind) (key, value, otherKey, otherValue string) {
	if kind == nsr.Station {
		return osm.TagAmenity, osm.ValueStation, osm.TagHighway, osm.ValueBusStop
	}
	return osm.TagHighway, osm.ValueBusStop, osm.TagAmenity, osm.ValueStation
}

// stopRef returns the reference an element links to. A station reference
// wins when both are present.
func stopRef(e *osm.Element) (nsr.Kind, string, bool) {
	if ref, ok := e.Tags[osm.TagStationRef]; ok {
		return nsr.Station, ref, true
	}
	if ref, ok := e.Tags[osm.TagQuayRef]; ok {
		return nsr.Quay, ref, true
	}
	return 0, "", false
}

// stopKind reports whether an unlinked element is tagged as a stop.
func stopKind(e *osm.Element) (nsr.Kind, bool) {
	switch {
	case e.Tag(osm.TagHighway) == osm.ValueBusStop:
		return nsr.Quay, true
	case e.Tag(osm.TagAmenity) == osm.ValueStation:
		return nsr.Station, true
	}
	return 0, false
}

// describe renders an element for the audit log.
func describe(e *osm.Element) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d", e.Type, e.ID)
	if e.Location != nil {
		fmt.Fprintf(&b, " at %.7f,%.7f", e.Location.Lat(), e.Location.Lon())
	}
	if e.Meta != nil {
		fmt.Fprintf(&b, " v%d by %s %s", e.Meta.Version, e.Meta.User, e.EditDate())
	}
	keys := e.SortedTagKeys()
	if len(keys) > 0 {
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+e.Tags[k])
		}
		b.WriteString(": " + strings.Join(pairs, "; "))
	}
	return b.String()
}

// split detaches a way node: the context copy keeps the original id without
// tags so the way is unchanged, the edited copy is a new node.
func split(e *osm.Element, alloc *IDAllocator) (ctxCopy, edited *osm.Element) {
	ctxCopy = e.Clone()
	ctxCopy.Tags = make(map[string]string)
	ctxCopy.Action = osm.ActionModify

	edited = e.Clone()
	edited.ID = alloc.Next()
	edited.Meta = nil
	edited.Action = osm.ActionCreate
	return ctxCopy, edited
}

// referenceTags fills the tags a node built from stop carries.
func (e *Engine) referenceTags(n *osm.Element, stop *nsr.Stop) {
	n.SetTag(crossRef(stop.Kind), stop.ID)
	for _, k := range e.matcher.keys(stop.Kind, false, false) {
		if k == osm.TagPublicTransport || k == keyBus {
			continue
		}
		if v := referenceValue(stop, k); v != "" {
			n.SetTag(k, v)
		}
	}
	for k, v := range map[string]string{
		osm.TagMunicipality: stop.Municipality,
		osm.TagSubmode:      stop.Submode,
		osm.TagNote:         stop.Note,
		osm.TagStopType:     stop.StopType,
		osm.TagVersion:      stop.Version,
	} {
		if v != "" {
			n.SetTag(k, v)
		}
	}
}

// create builds the node for a stop missing from the geographic dataset.
func (e *Engine) create(stop *nsr.Stop) (*osm.Element, changeset.Entry) {
	n := osm.NewNode(e.alloc.Next(), stop.Location)
	n.Action = osm.ActionCreate
	e.referenceTags(n, stop)
	key, value, _, _ := primary(stop.Kind)
	n.SetTag(key, value)
	if e.cfg.Legacy != LegacyOff {
		for _, k := range legacyKeys {
			n.SetTag(k, referenceValue(stop, k))
		}
	}

	entry := changeset.Entry{Action: "new", Kind: stop.Kind.String(), Ref: stop.ID}
	entry.Addf("%s", describe(n))
	return n, entry
}

// reference builds the review-only node showing where the reference puts a
// stop a user has moved.
func (e *Engine) reference(stop *nsr.Stop) *osm.Element {
	n := osm.NewNode(e.alloc.Next(), stop.Location)
	e.referenceTags(n, stop)
	n.SetTag(osm.TagNSRReference, "yes")
	return n
}

// edit applies a modify or relocate verdict and returns the elements to emit.
func (e *Engine) edit(el *osm.Element, m Match, ix *Index, entry *changeset.Entry) []*osm.Element {
	var out []*osm.Element
	target := el
	if el.Type == osm.NodeType && ix.IsWayChild(el.ID) {
		var ctxCopy *osm.Element
		ctxCopy, target = split(el, e.alloc)
		out = append(out, ctxCopy)
		entry.Addf("Detach stop node %d from way, edited as new node %d", el.ID, target.ID)
	} else if m.Verdict == VerdictRelocate {
		target.Action = osm.ActionRelocate
	} else {
		target.Action = osm.ActionModify
	}

	if m.Verdict == VerdictRelocate && target.Type == osm.NodeType {
		p := m.Stop.Location
		target.Location = &p
	}

	key, value, otherKey, otherValue := primary(m.Kind)
	if target.Tag(otherKey) == otherValue {
		delete(target.Tags, otherKey)
		entry.Addf("Change tagging from '%s = %s' to '%s = %s'", otherKey, otherValue, key, value)
	}
	target.SetTag(key, value)
	target.SetTag(crossRef(m.Kind), m.Ref)

	for _, k := range e.matcher.keys(m.Kind, m.PTv2, false) {
		want := referenceValue(m.Stop, k)
		have, present := target.Tags[k]
		switch {
		case want == "" && present:
			delete(target.Tags, k)
			entry.Addf("Delete tag '%s = %s'", k, have)
		case want == "":
		case !present:
			target.SetTag(k, want)
			entry.Addf("New tag '%s = %s'", k, want)
		case have != want:
			target.SetTag(k, want)
			entry.Addf("Change tag '%s' from '%s' to '%s'", k, have, want)
		}
	}
	return append(out, target)
}

// remove applies a delete verdict. Elements other elements depend on are
// kept and emptied instead.
func (e *Engine) remove(el *osm.Element, m Match, ix *Index, entry *changeset.Entry) {
	entry.Addf("%s", describe(el))
	if !ix.Embedded(el) {
		el.SetTag(osm.TagDelete, "yes")
		el.Action = osm.ActionDelete
		return
	}

	el.Tags = make(map[string]string)
	el.Action = osm.ActionModify
	entry.Addf("Kept %s %d because other elements use it; tags cleared", el.Type, el.ID)
	if m.PTv2 {
		el.SetTag(osm.TagRelocate, "yes")
		entry.Addf("Manual relocation required")
	}
	e.logger.Warn("delete demoted to tag clearing",
		"ref", m.Ref,
		"kind", m.Kind.String(),
		"element", el.Key().String(),
		"relocate", m.PTv2,
	)
}

// annotateUserEdit marks an element a user moved without changing tags.
func (e *Engine) annotateUserEdit(el *osm.Element, m Match, entry *changeset.Entry) {
	el.SetTag(osm.TagEdit, el.EditDate())
	el.SetTag(osm.TagUser, el.User())
	if m.Distance > 0 {
		el.SetTag(osm.TagDistance, strconv.FormatFloat(m.Distance, 'f', 1, 64))
	}
	if name := el.Tag(keyName); name != m.Stop.Name {
		entry.Addf("User tagged 'name' as '%s'; reference has '%s'", name, m.Stop.Name)
		if m.Stop.Name != "" {
			el.SetTag(osm.TagNSRName, m.Stop.Name)
		}
	}
	entry.Addf("%s", describe(el))
}

// annotateOther marks a stop without reference tags.
func annotateOther(el *osm.Element) {
	el.SetTag(osm.TagOther, el.EditDate())
	el.SetTag(osm.TagUser, el.User())
}

// stampLastUsed records when an unserved quay last had trips.
func (e *Engine) stampLastUsed(el *osm.Element, kind nsr.Kind, ref string) {
	if kind != nsr.Quay || e.usage == nil || e.usage.Used(ref) {
		return
	}
	if last, ok := e.history.LastUsed(ref); ok {
		el.SetTag(osm.TagRouteLastUsed, last.Format(dateLayout))
	}
}
